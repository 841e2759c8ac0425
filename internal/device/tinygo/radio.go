package tinygo

import (
	"tinygo.org/x/bluetooth"

	"github.com/srg/blecast/internal/device"
)

// Radio is the part of a tinygo bluetooth adapter the Adapter drives.
type Radio interface {
	Enable() error
	// Scan blocks until StopScan, calling handler for every advertisement.
	Scan(handler func(device.Advertisement)) error
	StopScan() error
	// Connect blocks until the link is up or the stack gives up.
	Connect(addr string) (Peer, error)
	SetConnectHandler(handler func(addr string, connected bool))
}

// Peer is an established connection.
type Peer interface {
	Disconnect() error
}

// RadioFactory returns the radio to drive (can be overridden in tests)
var RadioFactory = func() Radio {
	return &tinyRadio{adapter: bluetooth.DefaultAdapter}
}

type tinyRadio struct {
	adapter *bluetooth.Adapter
}

func (r *tinyRadio) Enable() error {
	return device.NormalizeError(r.adapter.Enable())
}

func (r *tinyRadio) Scan(handler func(device.Advertisement)) error {
	return device.NormalizeError(r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(scanResult{result})
	}))
}

func (r *tinyRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *tinyRadio) Connect(addr string) (Peer, error) {
	var address bluetooth.Address
	address.Set(addr)
	dev, err := r.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &dev, nil
}

func (r *tinyRadio) SetConnectHandler(handler func(addr string, connected bool)) {
	r.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		handler(dev.Address.String(), connected)
	})
}

// scanResult wraps bluetooth.ScanResult to implement device.Advertisement
type scanResult struct {
	bluetooth.ScanResult
}

func (s scanResult) LocalName() string { return s.ScanResult.LocalName() }
func (s scanResult) Addr() string      { return s.Address.String() }
func (s scanResult) RSSI() int         { return int(s.ScanResult.RSSI) }
func (s scanResult) Connectable() bool { return true }
