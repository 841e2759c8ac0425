package observe

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSurface(buffer int) *Surface {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return New(buffer, logger)
}

func next(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return u
	default:
		t.Fatal("expected a queued update")
		return Update{}
	}
}

func TestSurface_SubscribeReceivesCurrentState(t *testing.T) {
	s := newTestSurface(4)
	s.Publish(State{DeviceNames: []string{"Speaker"}, Phase: "scanning"})

	sub := s.Subscribe()
	defer sub.Close()

	u := next(t, sub)
	assert.Equal(t, []string{"Speaker"}, u.State.DeviceNames)
	assert.True(t, u.Changed.Has(FieldDevices|FieldConnected|FieldConnectedName))
}

func TestSurface_PublishReportsChangedFields(t *testing.T) {
	s := newTestSurface(4)
	sub := s.Subscribe()
	defer sub.Close()
	next(t, sub)

	changed := s.Publish(State{Connected: true, ConnectedName: "Speaker", Phase: "connected"})
	assert.True(t, changed.Has(FieldConnected))
	assert.True(t, changed.Has(FieldConnectedName))
	assert.True(t, changed.Has(FieldPhase))
	assert.False(t, changed.Has(FieldDevices))

	u := next(t, sub)
	assert.True(t, u.State.Connected)
	assert.Equal(t, "Speaker", u.State.ConnectedName, "connected flag and name MUST arrive together")
}

func TestSurface_IdenticalPublishIsSuppressed(t *testing.T) {
	s := newTestSurface(4)
	st := State{DeviceNames: []string{"a"}, Phase: "scanning"}
	require.NotZero(t, s.Publish(st))

	sub := s.Subscribe()
	defer sub.Close()
	next(t, sub)

	assert.Zero(t, s.Publish(st))
	assert.Equal(t, 0, len(sub.C()))
}

func TestSurface_PublishedStateIsIsolatedFromCaller(t *testing.T) {
	s := newTestSurface(4)
	names := []string{"a", "b"}
	s.Publish(State{DeviceNames: names})

	names[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, s.Current().DeviceNames)
}

func TestSurface_LaggingSubscriberKeepsNewest(t *testing.T) {
	s := newTestSurface(2)
	sub := s.Subscribe()
	defer sub.Close()

	s.Publish(State{DeviceNames: []string{"a"}})
	s.Publish(State{DeviceNames: []string{"a", "b"}})
	s.Publish(State{DeviceNames: []string{"a", "b", "c"}})

	var last Update
	for len(sub.C()) > 0 {
		last = <-sub.C()
	}
	assert.Equal(t, []string{"a", "b", "c"}, last.State.DeviceNames)
}

func TestSubscription_Close(t *testing.T) {
	s := newTestSurface(4)
	sub := s.Subscribe()
	assert.Equal(t, 1, s.subscriberCount())

	sub.Close()
	assert.Equal(t, 0, s.subscriberCount())

	s.Publish(State{Phase: "idle", Powered: true})

	count := 0
	for range sub.C() {
		count++
	}
	assert.Equal(t, 1, count, "only the initial snapshot MUST be delivered")
}
