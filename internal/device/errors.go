package device

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy of the discovery core.
var (
	// ErrAdapterUnavailable means the radio is powered off or absent. Recoverable:
	// pending work resumes when the adapter powers on.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrConnectFailed means a connection attempt did not succeed. The user may retry.
	ErrConnectFailed = errors.New("connect failed")
	// ErrOutOfRange means a device index does not address the current registry snapshot.
	ErrOutOfRange = errors.New("device index out of range")
	// ErrMediaLoadFailed means the media asset could not be loaded; delivery becomes a no-op.
	ErrMediaLoadFailed = errors.New("media load failed")
)

// Backend errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
)

// ConnectError reports a failed connection to a specific device.
type ConnectError struct {
	Device Device
	Reason error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == nil {
		return fmt.Sprintf("failed to connect to %s", e.Device.DisplayName())
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Device.DisplayName(), e.Reason)
}

// Is matches ErrConnectFailed so callers can test the category with errors.Is.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectFailed
}

func (e *ConnectError) Unwrap() error {
	return e.Reason
}

// IndexError reports an index outside the registry snapshot.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("device index %d out of range [0, %d)", e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrOutOfRange
}

// NormalizeError maps backend error strings onto the sentinels above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "not powered"),
		containsIgnoreCase(msg, "org.bluez.Error.NotReady"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "no such adapter"),
		containsIgnoreCase(msg, "org.bluez.Error.NotAvailable"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "timeout"), containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
