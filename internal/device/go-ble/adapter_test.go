package goble_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blecast/internal/device"
	goble "github.com/srg/blecast/internal/device/go-ble"
	"github.com/srg/blecast/internal/testutils"
)

type fakeLink struct {
	cancelled atomic.Bool
	drop      chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{drop: make(chan struct{})}
}

func (l *fakeLink) CancelConnection() error {
	l.cancelled.Store(true)
	return nil
}

func (l *fakeLink) Disconnected() <-chan struct{} { return l.drop }

type fakeRadio struct {
	advs    []device.Advertisement
	scanErr error
	dial    func(ctx context.Context, addr string) (goble.Link, error)
	stopped atomic.Bool
}

func (r *fakeRadio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	for _, adv := range r.advs {
		handler(adv)
	}
	if r.scanErr != nil {
		return r.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeRadio) Dial(ctx context.Context, addr string) (goble.Link, error) {
	if r.dial == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.dial(ctx, addr)
}

func (r *fakeRadio) Stop() error {
	r.stopped.Store(true)
	return nil
}

// AdapterTestSuite runs the go-ble adapter over a scripted RadioFactory.
type AdapterTestSuite struct {
	suitelib.Suite

	origFactory func() (goble.Radio, error)
	adapter     *goble.Adapter
}

func (suite *AdapterTestSuite) SetupTest() {
	suite.origFactory = goble.RadioFactory
	suite.adapter = nil
}

func (suite *AdapterTestSuite) TearDownTest() {
	if suite.adapter != nil {
		_ = suite.adapter.Close()
	}
	goble.RadioFactory = suite.origFactory
}

// useRadios makes successive RadioFactory calls return the given results; the last
// one repeats.
func (suite *AdapterTestSuite) useRadios(results ...any) {
	var mu sync.Mutex
	calls := 0
	goble.RadioFactory = func() (goble.Radio, error) {
		mu.Lock()
		defer mu.Unlock()
		r := results[min(calls, len(results)-1)]
		calls++
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r.(goble.Radio), nil
	}
}

func (suite *AdapterTestSuite) newAdapter(opts goble.Options) *goble.Adapter {
	suite.adapter = goble.New(opts, testutils.NewTestLogger(suite.T()))
	return suite.adapter
}

func (suite *AdapterTestSuite) startAdapter() *goble.Adapter {
	a := suite.newAdapter(goble.Options{PollInterval: 5 * time.Millisecond})
	suite.Require().NoError(a.Start(context.Background()))
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

func (suite *AdapterTestSuite) TestStartPowered() {
	suite.useRadios(&fakeRadio{})
	suite.startAdapter()

	suite.Equal(device.PowerChanged(true), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestStartUnsupported() {
	suite.useRadios(device.ErrUnsupported)
	a := suite.newAdapter(goble.Options{})

	suite.ErrorIs(a.Start(context.Background()), device.ErrUnsupported)
}

func (suite *AdapterTestSuite) TestPollsUntilPowered() {
	suite.useRadios(device.ErrBluetoothOff, device.ErrBluetoothOff, &fakeRadio{})
	suite.startAdapter()

	suite.Equal(device.PowerChanged(false), suite.nextEvent())
	suite.Equal(device.PowerChanged(true), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestScanBeforePower() {
	suite.useRadios(device.ErrBluetoothOff)
	a := suite.startAdapter()

	suite.ErrorIs(a.Scan(), device.ErrBluetoothOff)
	suite.ErrorIs(a.Connect("AA"), device.ErrBluetoothOff)
}

func (suite *AdapterTestSuite) TestScanEmitsDiscoveries() {
	suite.useRadios(&fakeRadio{advs: []device.Advertisement{
		testutils.NewAdvertisement("AA:01", "Speaker", -40),
		testutils.NewAdvertisement("AA:02", "", -70),
	}})
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Scan())
	suite.Equal(device.Discovered(device.Device{ID: "AA:01", Name: "Speaker", RSSI: -40}), suite.nextEvent())
	suite.Equal(device.Discovered(device.Device{ID: "AA:02", RSSI: -70}), suite.nextEvent())
	suite.Require().NoError(a.StopScan())
}

func (suite *AdapterTestSuite) TestScanPowerLoss() {
	radio := &fakeRadio{scanErr: device.NormalizeError(errors.New("Bluetooth is turned off"))}
	suite.useRadios(radio, device.ErrBluetoothOff)
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Scan())
	suite.Equal(device.PowerChanged(false), suite.nextEvent())
	suite.True(radio.stopped.Load())
}

func (suite *AdapterTestSuite) TestConnectLifecycle() {
	link := newFakeLink()
	suite.useRadios(&fakeRadio{dial: func(ctx context.Context, addr string) (goble.Link, error) {
		return link, nil
	}})
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.Equal(device.Connected("AA:01"), suite.nextEvent())

	close(link.drop)
	suite.Equal(device.Disconnected("AA:01", nil), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestConnectFailure() {
	reason := errors.New("le-connection-abort-by-local")
	suite.useRadios(&fakeRadio{dial: func(ctx context.Context, addr string) (goble.Link, error) {
		return nil, reason
	}})
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.Equal(device.ConnectFailed("AA:01", reason), suite.nextEvent())
}

func (suite *AdapterTestSuite) TestCancelDropsLink() {
	link := newFakeLink()
	suite.useRadios(&fakeRadio{dial: func(ctx context.Context, addr string) (goble.Link, error) {
		return link, nil
	}})
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.nextEvent()

	suite.Require().NoError(a.Cancel("AA:01"))
	suite.Eventually(link.cancelled.Load, time.Second, time.Millisecond)
}

func (suite *AdapterTestSuite) TestCancelPendingDialIsSilent() {
	suite.useRadios(&fakeRadio{})
	a := suite.startAdapter()
	suite.nextEvent()

	suite.Require().NoError(a.Connect("AA:01"))
	suite.Require().NoError(a.Cancel("AA:01"))

	select {
	case ev := <-a.Events():
		suite.Failf("unexpected event", "%s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *AdapterTestSuite) TestCloseEndsStream() {
	radio := &fakeRadio{}
	suite.useRadios(radio)
	a := suite.newAdapter(goble.Options{})
	suite.Require().NoError(a.Start(context.Background()))
	suite.nextEvent()

	suite.Require().NoError(a.Close())
	_, ok := <-a.Events()
	suite.False(ok)
	suite.True(radio.stopped.Load())
}

func TestAdapterTestSuite(t *testing.T) {
	suitelib.Run(t, new(AdapterTestSuite))
}
