// Package controller implements the discovery and connection lifecycle: it reacts
// to radio adapter events, keeps the device registry, tracks the single active
// connection and drives periodic media delivery off the connected state.
//
// All state is confined to one control loop (Run). Adapter events, user commands
// and timer fires are funnelled into it and handled one at a time, in arrival
// order. Every handled input ends with a publish to the observable surface, so
// subscribers never see a half-applied transition.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/delivery"
	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/observe"
	"github.com/srg/blecast/internal/registry"
)

// ErrStopped is returned by commands issued after Run has exited.
var ErrStopped = errors.New("controller stopped")

// DefaultQueueSize bounds commands and timer fires waiting for the loop.
const DefaultQueueSize = 64

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	// AutoScan starts a scan on every power-on transition.
	AutoScan bool
	// ConnectTimeout fails a pending connection attempt after this long. Zero disables it.
	ConnectTimeout time.Duration
	// DeliveryInterval is the period of the delivery task. Defaults to delivery.DefaultInterval.
	DeliveryInterval time.Duration
	Clock            delivery.Clock
	QueueSize        int
}

// Controller is the connection state machine.
type Controller struct {
	adapter   device.Adapter
	registry  *registry.Registry
	scheduler *delivery.Scheduler
	surface   *observe.Surface
	clock     delivery.Clock
	opts      Options
	logger    *logrus.Logger

	requests chan func()
	done     chan struct{}
	running  atomic.Bool

	// Loop-confined state.
	phase       Phase
	target      device.Device
	powered     bool
	pendingScan bool
	session     string
	lastErr     error
	timeout     delivery.Timer
	timeoutC    <-chan time.Time
	timeoutFor  string
}

// New wires a controller over adapter. sink receives the periodic Play calls;
// surface receives every state change.
func New(adapter device.Adapter, sink delivery.Sink, surface *observe.Surface, opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if surface == nil {
		surface = observe.New(observe.DefaultBuffer, logger)
	}
	if opts.Clock == nil {
		opts.Clock = delivery.SystemClock{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	c := &Controller{
		adapter:  adapter,
		registry: registry.New(),
		surface:  surface,
		clock:    opts.Clock,
		opts:     opts,
		logger:   logger,
		requests: make(chan func(), opts.QueueSize),
		done:     make(chan struct{}),
	}
	c.scheduler = delivery.New(sink, delivery.Options{
		Interval: opts.DeliveryInterval,
		Clock:    opts.Clock,
		Executor: c.post,
	}, logger)
	return c
}

// Surface returns the observable projection.
func (c *Controller) Surface() *observe.Surface {
	return c.surface
}

// Run starts the adapter and services events, commands and timers until ctx is
// done or the adapter's event stream ends. It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)
	defer c.shutdown()

	if err := c.adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start radio adapter: %w", device.NormalizeError(err))
	}
	c.publish()

	events := c.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("Radio adapter event stream closed")
				c.handlePowerOff()
				c.publish()
				return fmt.Errorf("%w: event stream closed", device.ErrAdapterUnavailable)
			}
			c.handleEvent(ev)
		case fn := <-c.requests:
			fn()
		case <-c.timeoutC:
			c.handleConnectTimeout()
		}
		c.publish()
	}
}

func (c *Controller) shutdown() {
	c.scheduler.Stop()
	c.disarmTimeout()
}

// StartScanning clears the registry and begins a new scan session. If the adapter
// is not powered the request is deferred until it is. Adapter failures are
// reported through the surface, not returned.
func (c *Controller) StartScanning(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.startScanning()
		return nil
	})
}

// Connect requests a connection to the device at index of the current registry
// snapshot. An index outside the snapshot fails with device.ErrOutOfRange and
// leaves state unchanged.
func (c *Controller) Connect(ctx context.Context, index int) error {
	return c.call(ctx, func() error {
		return c.connect(index)
	})
}

// State returns a snapshot taken on the control loop. Because it queues behind
// every input already delivered, it doubles as a barrier.
func (c *Controller) State(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() error {
		snap = Snapshot{
			Phase:       c.phase,
			Target:      c.target,
			Devices:     c.registry.Snapshot(),
			Powered:     c.powered,
			PendingScan: c.pendingScan,
			ScanSession: c.session,
			Delivery:    c.scheduler.Active(),
			LastError:   c.lastErr,
		}
		return nil
	})
	return snap, err
}

// post queues fn for the loop. It is the scheduler's executor.
func (c *Controller) post(ctx context.Context, fn func()) bool {
	select {
	case c.requests <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and publishes its effect before the caller resumes.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !c.post(ctx, func() {
		err := fn()
		c.publish()
		result <- err
	}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// The loop may have run fn just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

func (c *Controller) log() *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"state":        c.phase.String(),
		"scan_session": c.session,
	})
}

func (c *Controller) startScanning() {
	c.leaveTarget()
	c.lastErr = nil
	c.session = ulid.Make().String()
	c.registry.Reset()
	c.phase = PhaseIdle

	if !c.powered {
		c.pendingScan = true
		c.lastErr = device.ErrAdapterUnavailable
		c.log().Info("Adapter not powered, scan deferred until power on")
		return
	}
	c.pendingScan = false

	if err := c.adapter.Scan(); err != nil {
		err = device.NormalizeError(err)
		c.lastErr = err
		if errors.Is(err, device.ErrBluetoothOff) {
			c.pendingScan = true
		}
		c.log().WithError(err).Warn("Failed to start scan")
		return
	}
	c.phase = PhaseScanning
	c.log().Info("Scanning for devices")
}

func (c *Controller) connect(index int) error {
	d, err := c.registry.At(index)
	if err != nil {
		c.log().WithField("index", index).Warn("Connect requested for invalid device index")
		return err
	}

	if !c.powered {
		c.lastErr = device.ErrAdapterUnavailable
		c.log().WithField("device", d.DisplayName()).Warn("Cannot connect, adapter not powered")
		return nil
	}

	if c.phase == PhaseScanning {
		if err := c.adapter.StopScan(); err != nil {
			c.log().WithError(err).Warn("Failed to stop scan")
		}
	}
	c.leaveTarget()

	c.phase = PhaseConnecting
	c.target = d
	c.lastErr = nil
	c.armTimeout(d.ID)
	c.log().WithFields(logrus.Fields{
		"device":  d.DisplayName(),
		"address": d.ID,
	}).Info("Connecting to device")

	if err := c.adapter.Connect(d.ID); err != nil {
		c.failConnect(device.NormalizeError(err))
	}
	return nil
}

// leaveTarget abandons the current Connecting/Connected target, if any: delivery
// stops and the adapter is asked to drop the link when it can.
func (c *Controller) leaveTarget() {
	c.scheduler.Stop()
	c.disarmTimeout()
	if c.phase != PhaseConnecting && c.phase != PhaseConnected {
		return
	}
	prev := c.target
	c.target = device.Device{}
	c.phase = PhaseIdle
	c.cancel(prev)
}

func (c *Controller) cancel(d device.Device) {
	canceler, ok := c.adapter.(device.Canceler)
	if !ok || d.ID == "" {
		return
	}
	if err := canceler.Cancel(d.ID); err != nil {
		c.log().WithError(err).WithField("address", d.ID).Debug("Failed to cancel connection")
	}
}

func (c *Controller) handleEvent(ev device.Event) {
	switch ev.Type {
	case device.EventPowerChanged:
		if ev.Powered {
			c.handlePowerOn()
		} else {
			c.handlePowerOff()
		}
	case device.EventDeviceDiscovered:
		c.handleDiscovered(ev.Device)
	case device.EventConnected:
		c.handleConnected(ev.Device.ID)
	case device.EventConnectFailed:
		if !c.isTarget(PhaseConnecting, ev.Device.ID) {
			c.log().WithField("address", ev.Device.ID).Debug("Ignoring stale connect failure")
			return
		}
		c.failConnect(ev.Err)
	case device.EventDisconnected:
		c.handleDisconnected(ev.Device.ID, ev.Err)
	default:
		c.log().WithField("event", ev.Type.String()).Warn("Unknown adapter event")
	}
}

func (c *Controller) isTarget(phase Phase, id string) bool {
	return c.phase == phase && c.target.ID == id
}

func (c *Controller) handlePowerOn() {
	if c.powered {
		return
	}
	c.powered = true
	if errors.Is(c.lastErr, device.ErrAdapterUnavailable) {
		c.lastErr = nil
	}
	c.log().Info("Radio adapter powered on")

	if c.pendingScan || c.opts.AutoScan {
		c.startScanning()
	}
}

func (c *Controller) handlePowerOff() {
	wasPowered := c.powered
	c.powered = false
	c.pendingScan = false

	c.scheduler.Stop()
	c.disarmTimeout()
	c.phase = PhaseIdle
	c.target = device.Device{}
	c.lastErr = device.ErrAdapterUnavailable

	if wasPowered {
		c.log().Warn("Radio adapter powered off")
	}
}

func (c *Controller) handleDiscovered(d device.Device) {
	if c.phase != PhaseScanning {
		c.log().WithField("address", d.ID).Debug("Ignoring advertisement outside scan")
		return
	}
	if !c.registry.Record(d) {
		return
	}
	c.log().WithFields(logrus.Fields{
		"device":  d.DisplayName(),
		"address": d.ID,
		"rssi":    d.RSSI,
	}).Info("Discovered new device")
}

func (c *Controller) handleConnected(id string) {
	if !c.isTarget(PhaseConnecting, id) {
		c.log().WithField("address", id).Debug("Ignoring stale connected event")
		return
	}
	c.disarmTimeout()
	c.phase = PhaseConnected
	c.lastErr = nil
	c.log().WithField("device", c.target.DisplayName()).Info("Connected to device")
	c.scheduler.Start(c.target.DisplayName())
}

func (c *Controller) failConnect(reason error) {
	d := c.target
	c.disarmTimeout()
	c.phase = PhaseIdle
	c.target = device.Device{}
	c.lastErr = &device.ConnectError{Device: d, Reason: reason}
	c.log().WithError(reason).WithField("device", d.DisplayName()).Warn("Failed to connect to device")
}

func (c *Controller) handleDisconnected(id string, reason error) {
	if !c.isTarget(PhaseConnected, id) && !c.isTarget(PhaseConnecting, id) {
		c.log().WithField("address", id).Debug("Ignoring stale disconnect")
		return
	}
	if c.phase == PhaseConnecting {
		c.failConnect(reason)
		return
	}

	d := c.target
	c.scheduler.Stop()
	c.phase = PhaseIdle
	c.target = device.Device{}
	c.lastErr = fmt.Errorf("disconnected from %s", d.DisplayName())
	if reason != nil {
		c.lastErr = fmt.Errorf("disconnected from %s: %w", d.DisplayName(), reason)
	}
	c.log().WithField("device", d.DisplayName()).Warn("Device disconnected")
}

func (c *Controller) armTimeout(id string) {
	c.disarmTimeout()
	if c.opts.ConnectTimeout <= 0 {
		return
	}
	c.timeout = c.clock.NewTimer(c.opts.ConnectTimeout)
	c.timeoutC = c.timeout.C()
	c.timeoutFor = id
}

func (c *Controller) disarmTimeout() {
	if c.timeout != nil {
		c.timeout.Stop()
	}
	c.timeout = nil
	c.timeoutC = nil
	c.timeoutFor = ""
}

func (c *Controller) handleConnectTimeout() {
	id := c.timeoutFor
	c.timeout = nil
	c.timeoutC = nil
	c.timeoutFor = ""
	if !c.isTarget(PhaseConnecting, id) {
		return
	}
	c.cancel(c.target)
	c.failConnect(fmt.Errorf("%w: no response after %s", device.ErrTimeout, c.opts.ConnectTimeout))
}

func (c *Controller) publish() {
	st := observe.State{
		DeviceNames: c.registry.Names(),
		Connected:   c.phase == PhaseConnected,
		Phase:       c.phase.String(),
		Powered:     c.powered,
		ScanSession: c.session,
	}
	if c.phase == PhaseConnected {
		st.ConnectedName = c.target.DisplayName()
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.surface.Publish(st)
}
