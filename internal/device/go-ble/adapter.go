package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/device"
)

// DefaultPollInterval is how often a powered-off radio is checked again.
const DefaultPollInterval = 2 * time.Second

// Options configures the go-ble adapter.
type Options struct {
	PollInterval time.Duration
	Buffer       int
}

type dial struct {
	cancel context.CancelFunc
	link   Link
}

// Adapter is a device.Adapter over go-ble.
//
// go-ble has no power notifications: the adapter treats a successful radio open
// as power-on and a scan failing with device.ErrBluetoothOff as power-off, then
// polls until the radio can be opened again.
type Adapter struct {
	opts   Options
	logger *logrus.Logger
	pump   *device.Pump
	lost   chan struct{}

	mu         sync.Mutex
	radio      Radio
	scanCancel context.CancelFunc
	dials      map[string]*dial
}

// New creates an adapter. Nothing touches the radio before Start.
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
		lost:   make(chan struct{}, 1),
		dials:  make(map[string]*dial),
	}
}

// Start opens the radio. A powered-off radio is not an error: it is reported as
// an EventPowerChanged and polled until it comes up.
func (a *Adapter) Start(_ context.Context) error {
	radio, err := RadioFactory()
	if err != nil && !errors.Is(err, device.ErrBluetoothOff) {
		return fmt.Errorf("failed to open BLE radio: %w", err)
	}
	a.pump.Go("goble-power", func(ctx context.Context) {
		a.watchPower(ctx, radio)
	})
	return nil
}

func (a *Adapter) Events() <-chan device.Event {
	return a.pump.Events()
}

func (a *Adapter) watchPower(ctx context.Context, radio Radio) {
	for {
		if radio != nil {
			a.setRadio(radio)
			a.logger.Debug("BLE radio available")
			a.pump.Emit(device.PowerChanged(true))

			select {
			case <-ctx.Done():
				return
			case <-a.lost:
			}
			a.dropRadio()
		}
		a.pump.Emit(device.PowerChanged(false))

		var ok bool
		if radio, ok = a.pollRadio(ctx); !ok {
			return
		}
	}
}

func (a *Adapter) pollRadio(ctx context.Context) (Radio, bool) {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			radio, err := RadioFactory()
			if err == nil {
				return radio, true
			}
			a.logger.WithError(err).Debug("BLE radio still unavailable")
		}
	}
}

func (a *Adapter) setRadio(r Radio) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.radio = r
}

// dropRadio abandons scans and links of a radio that went away.
func (a *Adapter) dropRadio() {
	a.mu.Lock()
	radio := a.radio
	a.radio = nil
	a.stopScanLocked()
	dials := a.dials
	a.dials = make(map[string]*dial)
	a.mu.Unlock()

	for _, d := range dials {
		d.cancel()
	}
	if radio != nil {
		if err := radio.Stop(); err != nil {
			a.logger.WithError(err).Debug("Failed to stop BLE radio")
		}
	}
	a.logger.Warn("BLE radio powered off")
}

func (a *Adapter) signalLost() {
	select {
	case a.lost <- struct{}{}:
	default:
	}
}

// Scan starts a scan that runs until StopScan.
func (a *Adapter) Scan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.radio == nil {
		return device.ErrBluetoothOff
	}
	a.stopScanLocked()

	radio := a.radio
	ctx, cancel := context.WithCancel(a.pump.Context())
	a.scanCancel = cancel

	a.pump.Go("goble-scan", func(context.Context) {
		err := radio.Scan(ctx, func(adv device.Advertisement) {
			a.pump.Emit(device.Discovered(device.FromAdvertisement(adv)))
		})
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, device.ErrBluetoothOff) {
			a.signalLost()
			return
		}
		if err != nil {
			a.logger.WithError(err).Warn("BLE scan ended with error")
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopScanLocked()
	return nil
}

func (a *Adapter) stopScanLocked() {
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
}

// Connect dials id in the background. The outcome arrives as EventConnected or
// EventConnectFailed; a dropped link later produces EventDisconnected.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.radio == nil {
		return device.ErrBluetoothOff
	}
	if _, ok := a.dials[id]; ok {
		return nil
	}

	radio := a.radio
	ctx, cancel := context.WithCancel(a.pump.Context())
	d := &dial{cancel: cancel}
	a.dials[id] = d

	a.pump.Go("goble-dial", func(context.Context) {
		a.logger.WithField("address", id).Debug("Dialing BLE device...")
		link, err := radio.Dial(ctx, id)
		if err != nil {
			a.forget(id, d)
			if ctx.Err() == nil {
				a.pump.Emit(device.ConnectFailed(id, err))
			}
			return
		}

		a.mu.Lock()
		current := a.dials[id] == d
		if current {
			d.link = link
		}
		a.mu.Unlock()
		if !current || ctx.Err() != nil {
			a.hangUp(id, link)
			return
		}

		a.pump.Emit(device.Connected(id))
		a.monitor(ctx, id, d, link)
	})
	return nil
}

func (a *Adapter) monitor(ctx context.Context, id string, d *dial, link Link) {
	select {
	case <-link.Disconnected():
		a.forget(id, d)
		a.logger.WithField("address", id).Warn("BLE link reported disconnection")
		a.pump.Emit(device.Disconnected(id, nil))
	case <-ctx.Done():
		a.hangUp(id, link)
	}
}

func (a *Adapter) hangUp(id string, link Link) {
	if err := link.CancelConnection(); err != nil {
		a.logger.WithError(err).WithField("address", id).Debug("Failed to cancel BLE connection")
	}
}

func (a *Adapter) forget(id string, d *dial) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dials[id] == d {
		delete(a.dials, id)
	}
}

// Cancel aborts a pending dial or drops an established link to id.
func (a *Adapter) Cancel(id string) error {
	a.mu.Lock()
	d, ok := a.dials[id]
	delete(a.dials, id)
	a.mu.Unlock()

	if ok {
		d.cancel()
	}
	return nil
}

// Close stops all activity, closes the event stream and releases the radio.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.stopScanLocked()
	radio := a.radio
	a.radio = nil
	a.mu.Unlock()

	a.pump.Close()
	if radio != nil {
		return radio.Stop()
	}
	return nil
}

var (
	_ device.Adapter  = (*Adapter)(nil)
	_ device.Canceler = (*Adapter)(nil)
)
