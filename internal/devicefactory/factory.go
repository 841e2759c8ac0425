// Package devicefactory builds the radio adapter selected in the configuration.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/device/bluez"
	goble "github.com/srg/blecast/internal/device/go-ble"
	"github.com/srg/blecast/internal/device/tinygo"
	"github.com/srg/blecast/pkg/config"
)

// New creates the device.Adapter for cfg.Backend.
// This is a variable so that it can be overridden in tests.
var New = func(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		return goble.New(goble.Options{PollInterval: cfg.PowerPollInterval}, logger), nil
	case config.BackendBlueZ:
		return bluez.New(bluez.Options{AdapterName: cfg.BlueZ.Adapter}, logger), nil
	case config.BackendTinyGo:
		return tinygo.New(tinygo.Options{PollInterval: cfg.PowerPollInterval}, logger), nil
	default:
		return nil, fmt.Errorf("%w: radio backend %q", device.ErrUnsupported, cfg.Backend)
	}
}
