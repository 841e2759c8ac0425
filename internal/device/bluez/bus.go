package bluez

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName           = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	propsIface        = "org.freedesktop.DBus.Properties"
	objectManager     = "org.freedesktop.DBus.ObjectManager"
	propsSignal       = propsIface + ".PropertiesChanged"
	ifacesAddedSignal = objectManager + ".InterfacesAdded"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bus is the slice of the system bus the adapter needs.
type bus interface {
	GetProperty(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error
	ManagedObjects(ctx context.Context) (managedObjects, error)
	// Signals subscribes to BlueZ property and object signals.
	Signals() <-chan *dbus.Signal
	Close() error
}

// newBus opens the bus (can be overridden in tests)
var newBus = func() (bus, error) {
	return newSystemBus()
}

type systemBus struct {
	conn *dbus.Conn
}

// newSystemBus opens a private system bus connection and checks that BlueZ is on it.
func newSystemBus() (*systemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, busName) {
		_ = conn.Close()
		return nil, fmt.Errorf("%s not found on system bus, is bluetooth.service running?", busName)
	}
	return &systemBus{conn: conn}, nil
}

func (b *systemBus) GetProperty(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *systemBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	return b.conn.Object(busName, path).CallWithContext(ctx, method, 0, args...).Err
}

func (b *systemBus) ManagedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	err := b.conn.Object(busName, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0).Store(&objects)
	return objects, err
}

func (b *systemBus) Signals() <-chan *dbus.Signal {
	for _, rule := range []string{
		"type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'",
		"type='signal',interface='" + objectManager + "',member='InterfacesAdded'",
	} {
		b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	}
	ch := make(chan *dbus.Signal, 64)
	b.conn.Signal(ch)
	return ch
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}

// devicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(addr, ":", "_"))
}

// macFromPath extracts a MAC address from a BlueZ device object path under adapter.
func macFromPath(adapter, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}
