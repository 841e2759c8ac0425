package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/srg/blecast/internal/device"
)

const errInProgress = "org.bluez.Error.InProgress"

// errorName returns the D-Bus error name carried by err, if any.
func errorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return ""
}

// normalize maps BlueZ error names onto the device sentinels. The message text of
// a D-Bus error often hides the name, so the name is checked first.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	switch errorName(err) {
	case "org.bluez.Error.NotReady":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case "org.bluez.Error.NotAvailable", "org.freedesktop.DBus.Error.UnknownObject":
		return fmt.Errorf("%w: %v", device.ErrAdapterUnavailable, err)
	case "org.freedesktop.DBus.Error.NoReply", "org.freedesktop.DBus.Error.Timeout":
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}
	return device.NormalizeError(err)
}
