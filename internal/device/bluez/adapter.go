// Package bluez is a device.Adapter that talks to the BlueZ daemon over the
// system D-Bus. It needs no raw HCI access, so it runs unprivileged next to the
// desktop Bluetooth stack.
package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/device"
)

// DefaultAdapterName is the BlueZ controller used when none is configured.
const DefaultAdapterName = "hci0"

// Options configures the BlueZ adapter.
type Options struct {
	AdapterName string
	Buffer      int
}

// Adapter is a device.Adapter over BlueZ.
type Adapter struct {
	name   string
	path   dbus.ObjectPath
	logger *logrus.Logger
	pump   *device.Pump

	mu        sync.Mutex
	bus       bus
	scanning  bool
	pending   map[string]context.CancelFunc
	connected map[string]bool
}

// New creates an adapter for the named controller. Nothing touches the bus before Start.
func New(opts Options, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.AdapterName == "" {
		opts.AdapterName = DefaultAdapterName
	}
	if opts.Buffer <= 0 {
		opts.Buffer = device.DefaultPumpBuffer
	}
	return &Adapter{
		name:      opts.AdapterName,
		path:      dbus.ObjectPath("/org/bluez/" + opts.AdapterName),
		logger:    logger,
		pump:      device.NewPump(opts.Buffer),
		pending:   make(map[string]context.CancelFunc),
		connected: make(map[string]bool),
	}
}

// Start connects to the system bus, reports the controller's power state and
// begins translating BlueZ signals into events.
func (a *Adapter) Start(_ context.Context) error {
	b, err := newBus()
	if err != nil {
		return fmt.Errorf("%w: %v", device.ErrAdapterUnavailable, err)
	}

	powered, err := b.GetProperty(a.path, adapterIface, "Powered")
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("%w: %s: %v", device.ErrAdapterUnavailable, a.name, err)
	}
	on, _ := powered.Value().(bool)
	signals := b.Signals()

	a.mu.Lock()
	a.bus = b
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"adapter": a.name,
		"powered": on,
	}).Info("Connected to BlueZ")

	a.pump.Go("bluez-signals", func(ctx context.Context) {
		a.pump.Emit(device.PowerChanged(on))
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				a.handleSignal(sig)
			}
		}
	})
	return nil
}

func (a *Adapter) Events() <-chan device.Event {
	return a.pump.Events()
}

func (a *Adapter) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case propsSignal:
		a.handlePropertiesChanged(sig)
	case ifacesAddedSignal:
		a.handleInterfacesAdded(sig)
	}
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch {
	case iface == adapterIface && sig.Path == a.path:
		if v, ok := changed["Powered"]; ok {
			if on, ok := v.Value().(bool); ok {
				a.handlePowered(on)
			}
		}
	case iface == deviceIface:
		addr := macFromPath(a.path, sig.Path)
		if addr == "" {
			return
		}
		if v, ok := changed["Connected"]; ok {
			if on, ok := v.Value().(bool); ok && !on {
				a.handleLinkDown(addr)
			}
		}
		if v, ok := changed["RSSI"]; ok && a.isScanning() {
			rssi, _ := v.Value().(int16)
			a.pump.Emit(device.Discovered(device.Device{
				ID:   addr,
				Name: a.deviceName(sig.Path),
				RSSI: int(rssi),
			}))
		}
	}
}

func (a *Adapter) handlePowered(on bool) {
	if !on {
		a.mu.Lock()
		a.scanning = false
		for id, cancel := range a.pending {
			cancel()
			delete(a.pending, id)
		}
		clear(a.connected)
		a.mu.Unlock()
	}
	a.logger.WithField("powered", on).Info("BlueZ adapter power changed")
	a.pump.Emit(device.PowerChanged(on))
}

func (a *Adapter) handleLinkDown(addr string) {
	a.mu.Lock()
	wasConnected := a.connected[addr]
	delete(a.connected, addr)
	a.mu.Unlock()

	if wasConnected {
		a.logger.WithField("address", addr).Warn("BlueZ reported disconnection")
		a.pump.Emit(device.Disconnected(addr, nil))
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	// Body: [object_path ObjectPath, interfaces map[string]map[string]Variant]
	if len(sig.Body) < 2 || !a.isScanning() {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	if d, ok := a.deviceFromProps(path, ifaces[deviceIface]); ok {
		a.pump.Emit(device.Discovered(d))
	}
}

// deviceFromProps builds a Device from Device1 properties of an object under this adapter.
func (a *Adapter) deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) (device.Device, bool) {
	if props == nil {
		return device.Device{}, false
	}
	addr := macFromPath(a.path, path)
	if addr == "" {
		return device.Device{}, false
	}
	if v, ok := props["Address"]; ok {
		if s, ok := v.Value().(string); ok && s != "" {
			addr = s
		}
	}
	d := device.Device{ID: addr}
	if v, ok := props["Name"]; ok {
		d.Name, _ = v.Value().(string)
	}
	if v, ok := props["RSSI"]; ok {
		rssi, _ := v.Value().(int16)
		d.RSSI = int(rssi)
	}
	return d, true
}

func (a *Adapter) deviceName(path dbus.ObjectPath) string {
	b := a.currentBus()
	if b == nil {
		return ""
	}
	v, err := b.GetProperty(path, deviceIface, "Name")
	if err != nil {
		return ""
	}
	name, _ := v.Value().(string)
	return name
}

func (a *Adapter) isScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) currentBus() bus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bus
}

// Scan starts discovery. Devices BlueZ has seen recently (those carrying an RSSI)
// are reported straight away since BlueZ does not announce them again.
func (a *Adapter) Scan() error {
	b := a.currentBus()
	if b == nil {
		return device.ErrAdapterUnavailable
	}

	a.mu.Lock()
	a.scanning = true
	a.mu.Unlock()

	err := b.Call(a.pump.Context(), a.path, adapterIface+".StartDiscovery")
	if err != nil && errorName(err) != errInProgress {
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		return normalize(err)
	}

	// Devices BlueZ already knows are not announced again; list them off the caller.
	a.pump.Go("bluez-cached", func(ctx context.Context) {
		objects, err := b.ManagedObjects(ctx)
		if err != nil {
			a.logger.WithError(err).Debug("Failed to list BlueZ objects")
			return
		}
		for path, ifaces := range objects {
			props := ifaces[deviceIface]
			if _, seen := props["RSSI"]; !seen {
				continue
			}
			if d, ok := a.deviceFromProps(path, props); ok && a.isScanning() {
				a.pump.Emit(device.Discovered(d))
			}
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	b := a.currentBus()
	a.mu.Lock()
	wasScanning := a.scanning
	a.scanning = false
	a.mu.Unlock()

	if b == nil || !wasScanning {
		return nil
	}
	return normalize(b.Call(a.pump.Context(), a.path, adapterIface+".StopDiscovery"))
}

// Connect asks BlueZ to connect in the background. Device1.Connect returns once
// the link is up or BlueZ gives up; the result is reported as an event.
func (a *Adapter) Connect(id string) error {
	b := a.currentBus()
	if b == nil {
		return device.ErrAdapterUnavailable
	}

	a.mu.Lock()
	if _, ok := a.pending[id]; ok {
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(a.pump.Context())
	a.pending[id] = cancel
	a.mu.Unlock()

	path := devicePath(a.path, id)
	a.pump.Go("bluez-connect", func(context.Context) {
		defer cancel()
		a.logger.WithField("address", id).Debug("Calling Device1.Connect")
		err := b.Call(ctx, path, deviceIface+".Connect")

		a.mu.Lock()
		_, current := a.pending[id]
		delete(a.pending, id)
		if current && err == nil {
			a.connected[id] = true
		}
		a.mu.Unlock()

		if !current || ctx.Err() != nil {
			return
		}
		if err != nil {
			a.pump.Emit(device.ConnectFailed(id, normalize(err)))
			return
		}
		a.pump.Emit(device.Connected(id))
	})
	return nil
}

// Cancel abandons a pending connect and asks BlueZ to drop the link.
func (a *Adapter) Cancel(id string) error {
	b := a.currentBus()
	a.mu.Lock()
	cancel, pending := a.pending[id]
	delete(a.pending, id)
	connected := a.connected[id]
	delete(a.connected, id)
	a.mu.Unlock()

	if pending {
		cancel()
	}
	if b == nil || (!pending && !connected) {
		return nil
	}
	a.pump.Go("bluez-disconnect", func(ctx context.Context) {
		if err := b.Call(ctx, devicePath(a.path, id), deviceIface+".Disconnect"); err != nil {
			a.logger.WithError(err).WithField("address", id).Debug("Device1.Disconnect failed")
		}
	})
	return nil
}

// Close stops discovery, ends the event stream and releases the bus connection.
func (a *Adapter) Close() error {
	if err := a.StopScan(); err != nil {
		a.logger.WithError(err).Debug("Failed to stop discovery on close")
	}
	a.pump.Close()

	a.mu.Lock()
	b := a.bus
	a.bus = nil
	a.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

var (
	_ device.Adapter  = (*Adapter)(nil)
	_ device.Canceler = (*Adapter)(nil)
)
