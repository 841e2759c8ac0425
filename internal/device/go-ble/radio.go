package goble

import (
	"context"

	"github.com/go-ble/ble"

	"github.com/srg/blecast/internal/device"
)

// Radio is the part of a go-ble device the adapter drives.
type Radio interface {
	// Scan blocks until ctx is done, calling handler for every advertisement.
	Scan(ctx context.Context, handler func(device.Advertisement)) error
	// Dial blocks until the link is up, ctx is done or the platform gives up.
	Dial(ctx context.Context, addr string) (Link, error)
	Stop() error
}

// Link is an established connection.
type Link interface {
	CancelConnection() error
	// Disconnected is closed when the peer drops the link. Nil when the platform
	// does not report it.
	Disconnected() <-chan struct{}
}

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// RadioFactory opens the radio the adapter uses. Tests replace it with a fake.
var RadioFactory = func() (Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &bleRadio{dev: dev}, nil
}

// bleRadio wraps ble.Device to implement Radio
type bleRadio struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (r *bleRadio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	return device.NormalizeError(r.dev.Scan(ctx, false, bleHandler))
}

func (r *bleRadio) Dial(ctx context.Context, addr string) (Link, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return bleLink{Client: client}, nil
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}

type bleLink struct {
	ble.Client
}

// Disconnected is only reported by some go-ble platforms (CoreBluetooth).
func (l bleLink) Disconnected() <-chan struct{} {
	if dc, ok := l.Client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return nil
}
