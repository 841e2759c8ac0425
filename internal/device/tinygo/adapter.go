// Package tinygo is a device.Adapter over tinygo.org/x/bluetooth, which covers
// Linux (BlueZ), macOS and Windows with one API.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/groutine"
)

// DefaultPollInterval is how often a disabled radio is re-enabled.
const DefaultPollInterval = 2 * time.Second

// Options configures the tinygo adapter.
type Options struct {
	PollInterval time.Duration
	Buffer       int
}

type dial struct {
	peer Peer
}

// Adapter is a device.Adapter over tinygo bluetooth. The stack reports no power
// changes, so a failing Enable is treated as power-off and retried.
type Adapter struct {
	opts   Options
	logger *logrus.Logger
	pump   *device.Pump
	radio  Radio

	mu       sync.Mutex
	powered  bool
	scanning bool
	dials    map[string]*dial
}

// New creates an adapter over RadioFactory's radio.
func New(opts Options, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Buffer <= 0 {
		opts.Buffer = device.DefaultPumpBuffer
	}
	return &Adapter{
		opts:   opts,
		logger: logger,
		pump:   device.NewPump(opts.Buffer),
		radio:  RadioFactory(),
		dials:  make(map[string]*dial),
	}
}

func (a *Adapter) Start(_ context.Context) error {
	err := a.radio.Enable()
	if err != nil && !errors.Is(err, device.ErrBluetoothOff) {
		return fmt.Errorf("failed to enable bluetooth: %w", err)
	}
	a.radio.SetConnectHandler(a.onConnectChange)

	enabled := err == nil
	a.pump.Go("tinygo-power", func(ctx context.Context) {
		if !enabled {
			a.pump.Emit(device.PowerChanged(false))
			if !a.pollEnable(ctx) {
				return
			}
		}
		a.mu.Lock()
		a.powered = true
		a.mu.Unlock()
		a.pump.Emit(device.PowerChanged(true))
	})
	return nil
}

func (a *Adapter) pollEnable(ctx context.Context) bool {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			err := a.radio.Enable()
			if err == nil {
				return true
			}
			a.logger.WithError(err).Debug("Bluetooth still disabled")
		}
	}
}

func (a *Adapter) Events() <-chan device.Event {
	return a.pump.Events()
}

func (a *Adapter) onConnectChange(addr string, connected bool) {
	if connected {
		return
	}
	a.mu.Lock()
	d, ok := a.dials[addr]
	ours := ok && d.peer != nil
	if ours {
		delete(a.dials, addr)
	}
	a.mu.Unlock()

	if ours {
		a.logger.WithField("address", addr).Warn("Bluetooth stack reported disconnection")
		a.pump.Emit(device.Disconnected(addr, nil))
	}
}

func (a *Adapter) Scan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.powered {
		return device.ErrBluetoothOff
	}
	if a.scanning {
		return nil
	}
	a.scanning = true

	a.pump.Go("tinygo-scan", func(context.Context) {
		err := a.radio.Scan(func(adv device.Advertisement) {
			a.pump.Emit(device.Discovered(device.FromAdvertisement(adv)))
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil {
			a.logger.WithError(err).Warn("Bluetooth scan ended with error")
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if !scanning {
		return nil
	}
	return a.radio.StopScan()
}

// Connect dials id in the background; the stack's Connect has no cancellation,
// so a cancelled dial is hung up as soon as it completes.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.powered {
		return device.ErrBluetoothOff
	}
	if _, ok := a.dials[id]; ok {
		return nil
	}
	d := &dial{}
	a.dials[id] = d

	// Not tracked by the pump: Close must not wait on a dial that cannot be interrupted.
	groutine.Go(a.pump.Context(), "tinygo-connect", func(ctx context.Context) {
		peer, err := a.radio.Connect(id)

		a.mu.Lock()
		current := a.dials[id] == d
		switch {
		case !current:
		case err != nil:
			delete(a.dials, id)
		default:
			d.peer = peer
		}
		a.mu.Unlock()

		switch {
		case err != nil:
			if current && ctx.Err() == nil {
				a.pump.Emit(device.ConnectFailed(id, err))
			}
		case !current || ctx.Err() != nil:
			a.hangUp(id, peer)
		default:
			a.pump.Emit(device.Connected(id))
		}
	})
	return nil
}

func (a *Adapter) hangUp(id string, peer Peer) {
	if err := peer.Disconnect(); err != nil {
		a.logger.WithError(err).WithField("address", id).Debug("Failed to disconnect")
	}
}

// Cancel forgets a pending dial and disconnects an established link.
func (a *Adapter) Cancel(id string) error {
	a.mu.Lock()
	d, ok := a.dials[id]
	delete(a.dials, id)
	a.mu.Unlock()

	if ok && d.peer != nil {
		a.hangUp(id, d.peer)
	}
	return nil
}

func (a *Adapter) Close() error {
	if err := a.StopScan(); err != nil {
		a.logger.WithError(err).Debug("Failed to stop scan on close")
	}

	a.mu.Lock()
	var peers []*dial
	for id, d := range a.dials {
		if d.peer != nil {
			peers = append(peers, d)
		}
		delete(a.dials, id)
	}
	a.mu.Unlock()

	for _, d := range peers {
		_ = d.peer.Disconnect()
	}
	a.pump.Close()
	return nil
}

var (
	_ device.Adapter  = (*Adapter)(nil)
	_ device.Canceler = (*Adapter)(nil)
)
