package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blecast/internal/device"
)

// FakeAdapter is a scriptable device.Adapter. Commands are recorded through
// testify/mock; events are pushed by the test with Emit and reach the consumer
// in order.
//
//	fa := testutils.NewFakeAdapter(t).WithDefaults()
//	fa.Emit(device.PowerChanged(true))
//	fa.AssertCalled(t, "Scan")
type FakeAdapter struct {
	mock.Mock

	t         *testing.T
	events    chan device.Event
	closeOnce sync.Once
}

// NewFakeAdapter creates an adapter without expectations.
func NewFakeAdapter(t *testing.T) *FakeAdapter {
	return &FakeAdapter{
		t:      t,
		events: make(chan device.Event),
	}
}

// WithDefaults accepts every command and returns nil.
func (f *FakeAdapter) WithDefaults() *FakeAdapter {
	f.On("Start", mock.Anything).Return(nil).Maybe()
	f.On("Scan").Return(nil).Maybe()
	f.On("StopScan").Return(nil).Maybe()
	f.On("Connect", mock.Anything).Return(nil).Maybe()
	f.On("Cancel", mock.Anything).Return(nil).Maybe()
	f.On("Close").Return(nil).Maybe()
	return f
}

func (f *FakeAdapter) Start(ctx context.Context) error {
	return f.Called(ctx).Error(0)
}

func (f *FakeAdapter) Events() <-chan device.Event {
	return f.events
}

func (f *FakeAdapter) Scan() error {
	return f.Called().Error(0)
}

func (f *FakeAdapter) StopScan() error {
	return f.Called().Error(0)
}

func (f *FakeAdapter) Connect(id string) error {
	return f.Called(id).Error(0)
}

func (f *FakeAdapter) Cancel(id string) error {
	return f.Called(id).Error(0)
}

func (f *FakeAdapter) Close() error {
	err := f.Called().Error(0)
	f.closeOnce.Do(func() { close(f.events) })
	return err
}

// Emit hands ev to the consumer, failing the test if nobody receives it in time.
// Once Emit returns the consumer has taken the event; it may still be processing it.
func (f *FakeAdapter) Emit(ev device.Event) {
	f.t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		f.t.Fatalf("event %s was not consumed", ev.Type)
	}
}

// EndStream closes the event stream without going through Close.
func (f *FakeAdapter) EndStream() {
	f.closeOnce.Do(func() { close(f.events) })
}

var (
	_ device.Adapter  = (*FakeAdapter)(nil)
	_ device.Canceler = (*FakeAdapter)(nil)
)
