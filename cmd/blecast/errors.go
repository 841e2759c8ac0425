package main

import (
	"errors"

	"github.com/srg/blecast/internal/device"
)

// FormatUserError turns known failures into a hint the user can act on. Anything
// else is printed as is.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrAdapterUnavailable):
		return "No usable Bluetooth adapter: " + err.Error()
	case errors.Is(err, device.ErrUnsupported):
		return "The selected radio backend is not supported here: " + err.Error()
	case errors.Is(err, device.ErrMediaLoadFailed):
		return "Could not load media: " + err.Error()
	case errors.Is(err, device.ErrOutOfRange):
		return "No device with that number. " + err.Error()
	default:
		return err.Error()
	}
}
