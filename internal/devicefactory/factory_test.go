package devicefactory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/device/bluez"
	goble "github.com/srg/blecast/internal/device/go-ble"
	"github.com/srg/blecast/internal/device/tinygo"
	"github.com/srg/blecast/internal/devicefactory"
	"github.com/srg/blecast/internal/testutils"
	"github.com/srg/blecast/pkg/config"
)

func TestNew_SelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    device.Adapter
	}{
		{config.BackendGoBLE, &goble.Adapter{}},
		{config.BackendBlueZ, &bluez.Adapter{}},
		{config.BackendTinyGo, &tinygo.Adapter{}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Backend = tt.backend

			adapter, err := devicefactory.New(cfg, testutils.NewTestLogger(t))
			require.NoError(t, err)
			assert.IsType(t, tt.want, adapter)
			assert.Implements(t, (*device.Canceler)(nil), adapter)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "winrt"

	_, err := devicefactory.New(cfg, testutils.NewTestLogger(t))
	assert.ErrorIs(t, err, device.ErrUnsupported)
}
