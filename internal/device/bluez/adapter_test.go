package bluez

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/testutils"
)

const hci0 = dbus.ObjectPath("/org/bluez/hci0")

type fakeBus struct {
	mu       sync.Mutex
	props    map[dbus.ObjectPath]map[string]dbus.Variant
	objects  managedObjects
	errs     map[string]error
	blocking map[string]bool
	calls    []string
	signals  chan *dbus.Signal
	closed   bool
	// listGate holds ManagedObjects until closed.
	listGate chan struct{}
}

func newFakeBus(powered bool) *fakeBus {
	return &fakeBus{
		props: map[dbus.ObjectPath]map[string]dbus.Variant{
			hci0: {"Powered": dbus.MakeVariant(powered)},
		},
		errs:     make(map[string]error),
		blocking: make(map[string]bool),
		signals:  make(chan *dbus.Signal, 16),
	}
}

func (b *fakeBus) GetProperty(path dbus.ObjectPath, _ string, prop string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.props[path][prop]
	if !ok {
		return dbus.Variant{}, dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}
	}
	return v, nil
}

func (b *fakeBus) Call(ctx context.Context, path dbus.ObjectPath, method string, _ ...any) error {
	b.mu.Lock()
	b.calls = append(b.calls, string(path)+" "+method)
	err := b.errs[method]
	block := b.blocking[method]
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (b *fakeBus) ManagedObjects(ctx context.Context) (managedObjects, error) {
	b.mu.Lock()
	gate := b.listGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects, nil
}

func (b *fakeBus) Signals() <-chan *dbus.Signal { return b.signals }

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) called(call string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c == call {
			return true
		}
	}
	return false
}

func propsChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propsSignal,
		Body: []any{iface, changed, []string{}},
	}
}

func TestPaths(t *testing.T) {
	p := devicePath(hci0, "AA:BB:CC:DD:EE:FF")
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), p)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", macFromPath(hci0, p))
	assert.Empty(t, macFromPath(hci0, "/org/bluez/hci1/dev_AA_BB"))
}

func TestNormalize(t *testing.T) {
	assert.ErrorIs(t, normalize(dbus.Error{Name: "org.bluez.Error.NotReady", Body: []any{"Resource Not Ready"}}), device.ErrBluetoothOff)
	assert.ErrorIs(t, normalize(&dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}), device.ErrAdapterUnavailable)
	assert.ErrorIs(t, normalize(dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}), device.ErrTimeout)
	assert.ErrorIs(t, normalize(errors.New("operation timed out")), device.ErrTimeout)
	assert.NoError(t, normalize(nil))
}

// AdapterTestSuite runs the BlueZ adapter over a fake system bus.
type AdapterTestSuite struct {
	suitelib.Suite

	origBus func() (bus, error)
	bus     *fakeBus
	adapter *Adapter
}

func (suite *AdapterTestSuite) SetupTest() {
	suite.origBus = newBus
	suite.bus = newFakeBus(true)
	suite.adapter = nil
	newBus = func() (bus, error) { return suite.bus, nil }
}

func (suite *AdapterTestSuite) TearDownTest() {
	if suite.adapter != nil {
		_ = suite.adapter.Close()
	}
	newBus = suite.origBus
}

func (suite *AdapterTestSuite) newAdapter(opts Options) *Adapter {
	suite.adapter = New(opts, testutils.NewTestLogger(suite.T()))
	return suite.adapter
}

// start brings the adapter up and consumes the initial power report.
func (suite *AdapterTestSuite) start() *Adapter {
	a := suite.newAdapter(Options{})
	suite.Require().NoError(a.Start(context.Background()))
	suite.nextEvent()
	return a
}

func (suite *AdapterTestSuite) nextEvent() device.Event {
	select {
	case ev, ok := <-suite.adapter.Events():
		suite.Require().True(ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		suite.FailNow("no event")
		return device.Event{}
	}
}

func (suite *AdapterTestSuite) TestStartReportsPower() {
	a := suite.newAdapter(Options{})
	suite.Require().NoError(a.Start(context.Background()))

	suite.Equal(device.PowerChanged(true), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestStartMissingController() {
	a := suite.newAdapter(Options{AdapterName: "hci7"})

	err := a.Start(context.Background())
	suite.ErrorIs(err, device.ErrAdapterUnavailable)
	suite.Contains(err.Error(), "hci7")
	suite.True(suite.bus.closed)
}

func (suite *AdapterTestSuite) TestPowerSignals() {
	b := suite.bus
	b.props[hci0]["Powered"] = dbus.MakeVariant(false)
	a := suite.newAdapter(Options{})
	suite.Require().NoError(a.Start(context.Background()))
	suite.Equal(device.PowerChanged(false), suite.nextEvent())

	b.signals <- propsChanged(hci0, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)})
	suite.Equal(device.PowerChanged(true), suite.nextEvent())

	// Other controllers are not ours.
	b.signals <- propsChanged("/org/bluez/hci1", adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})
	b.signals <- propsChanged(hci0, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})
	suite.Equal(device.PowerChanged(false), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestScanReportsCachedAndNewDevices() {
	b := suite.bus
	b.objects = managedObjects{
		devicePath(hci0, "AA:01"): {deviceIface: {
			"Address": dbus.MakeVariant("AA:01"),
			"Name":    dbus.MakeVariant("Speaker"),
			"RSSI":    dbus.MakeVariant(int16(-50)),
		}},
		// Known but out of range.
		devicePath(hci0, "AA:09"): {deviceIface: {
			"Address": dbus.MakeVariant("AA:09"),
		}},
	}
	a := suite.start()

	suite.Require().NoError(a.Scan())
	suite.True(b.called("/org/bluez/hci0 org.bluez.Adapter1.StartDiscovery"))
	suite.Equal(device.Discovered(device.Device{ID: "AA:01", Name: "Speaker", RSSI: -50}), suite.nextEvent())

	b.signals <- &dbus.Signal{
		Path: "/",
		Name: ifacesAddedSignal,
		Body: []any{devicePath(hci0, "AA:02"), map[string]map[string]dbus.Variant{
			deviceIface: {"Address": dbus.MakeVariant("AA:02"), "RSSI": dbus.MakeVariant(int16(-70))},
		}},
	}
	suite.Equal(device.Discovered(device.Device{ID: "AA:02", RSSI: -70}), suite.nextEvent())

	b.mu.Lock()
	b.props[devicePath(hci0, "AA:03")] = map[string]dbus.Variant{"Name": dbus.MakeVariant("Soundbar")}
	b.mu.Unlock()
	b.signals <- propsChanged(devicePath(hci0, "AA:03"), deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-60))})
	suite.Equal(device.Discovered(device.Device{ID: "AA:03", Name: "Soundbar", RSSI: -60}), suite.nextEvent())

	suite.Require().NoError(a.StopScan())
	suite.True(b.called("/org/bluez/hci0 org.bluez.Adapter1.StopDiscovery"))
}

func (suite *AdapterTestSuite) TestScanReturnsBeforeCachedListing() {
	b := suite.bus
	b.objects = managedObjects{
		devicePath(hci0, "AA:01"): {deviceIface: {
			"Address": dbus.MakeVariant("AA:01"),
			"RSSI":    dbus.MakeVariant(int16(-50)),
		}},
	}
	gate := make(chan struct{})
	b.listGate = gate
	a := suite.start()

	returned := make(chan error, 1)
	go func() { returned <- a.Scan() }()
	select {
	case err := <-returned:
		suite.Require().NoError(err)
	case <-time.After(2 * time.Second):
		close(gate)
		suite.FailNow("Scan waited for the object listing")
	}

	close(gate)
	suite.Equal(device.Discovered(device.Device{ID: "AA:01", RSSI: -50}), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestCloseAbandonsPendingListing() {
	suite.bus.listGate = make(chan struct{})
	a := suite.start()
	suite.Require().NoError(a.Scan())

	done := make(chan error, 1)
	go func() { done <- a.Close() }()
	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.FailNow("Close waited for the object listing")
	}
}

func (suite *AdapterTestSuite) TestAdvertisementsIgnoredWhenNotScanning() {
	b := suite.bus
	suite.start()

	b.signals <- propsChanged(devicePath(hci0, "AA:03"), deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-60))})
	b.signals <- propsChanged(hci0, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})

	// The power event is next: the advertisement produced nothing.
	suite.Equal(device.PowerChanged(false), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestScanAlreadyInProgress() {
	suite.bus.errs[adapterIface+".StartDiscovery"] = dbus.Error{Name: errInProgress}
	a := suite.start()

	suite.NoError(a.Scan())
}

func (suite *AdapterTestSuite) TestScanNotReady() {
	suite.bus.errs[adapterIface+".StartDiscovery"] = dbus.Error{Name: "org.bluez.Error.NotReady", Body: []any{"Resource Not Ready"}}
	a := suite.start()

	suite.ErrorIs(a.Scan(), device.ErrBluetoothOff)
}

func (suite *AdapterTestSuite) TestConnectLifecycle() {
	b := suite.bus
	a := suite.start()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.Equal(device.Connected("AA:01"), suite.nextEvent())
	suite.True(b.called("/org/bluez/hci0/dev_AA_01 org.bluez.Device1.Connect"))

	b.signals <- propsChanged(devicePath(hci0, "AA:01"), deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)})
	suite.Equal(device.Disconnected("AA:01", nil), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestConnectFailure() {
	suite.bus.errs[deviceIface+".Connect"] = dbus.Error{Name: "org.bluez.Error.Failed", Body: []any{"le-connection-abort-by-local"}}
	a := suite.start()

	suite.Require().NoError(a.Connect("AA:01"))
	ev := suite.nextEvent()
	suite.Equal(device.EventConnectFailed, ev.Type)
	suite.Equal("AA:01", ev.Device.ID)
	suite.EqualError(ev.Err, "le-connection-abort-by-local")
}

func (suite *AdapterTestSuite) TestCancelPendingConnect() {
	b := suite.bus
	b.blocking[deviceIface+".Connect"] = true
	a := suite.start()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.Require().NoError(a.Cancel("AA:01"))

	suite.Eventually(func() bool {
		return b.called("/org/bluez/hci0/dev_AA_01 org.bluez.Device1.Disconnect")
	}, time.Second, time.Millisecond)

	select {
	case ev := <-a.Events():
		suite.Failf("unexpected event", "%s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *AdapterTestSuite) TestCloseReleasesBus() {
	a := suite.start()

	suite.Require().NoError(a.Close())
	_, ok := <-a.Events()
	suite.False(ok)
	suite.True(suite.bus.closed)
}

func TestAdapterTestSuite(t *testing.T) {
	suitelib.Run(t, new(AdapterTestSuite))
}
