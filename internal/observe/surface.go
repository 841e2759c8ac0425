// Package observe exposes the read-only, change-notifying projection of the
// discovery core consumed by the presentation layer.
package observe

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/ringchan"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Field flags which parts of a State changed in an Update.
type Field uint8

const (
	FieldDevices Field = 1 << iota
	FieldConnected
	FieldConnectedName
	FieldPhase
	FieldPowered
	FieldError
)

// Has reports whether all bits of f2 are set in f.
func (f Field) Has(f2 Field) bool {
	return f&f2 == f2
}

// State is one consistent view of the core. DeviceNames, Connected and
// ConnectedName are the primary values; the rest describe the lifecycle.
type State struct {
	DeviceNames   []string
	Connected     bool
	ConnectedName string

	Phase       string
	Powered     bool
	ScanSession string
	LastError   string
}

func (s State) clone() State {
	s.DeviceNames = slices.Clone(s.DeviceNames)
	return s
}

func diff(prev, next State) Field {
	var f Field
	if !slices.Equal(prev.DeviceNames, next.DeviceNames) {
		f |= FieldDevices
	}
	if prev.Connected != next.Connected {
		f |= FieldConnected
	}
	if prev.ConnectedName != next.ConnectedName {
		f |= FieldConnectedName
	}
	if prev.Phase != next.Phase || prev.ScanSession != next.ScanSession {
		f |= FieldPhase
	}
	if prev.Powered != next.Powered {
		f |= FieldPowered
	}
	if prev.LastError != next.LastError {
		f |= FieldError
	}
	return f
}

// Update is delivered to subscribers on every published change.
type Update struct {
	State   State
	Changed Field
}

// Subscription receives Updates until it is closed.
type Subscription struct {
	id      uint64
	surface *Surface
	mu      sync.Mutex
	ch      *ringchan.RingChannel[Update]
}

// C returns the update stream. When the subscriber falls behind, the oldest
// pending updates are dropped; the newest is always kept.
func (s *Subscription) C() <-chan Update {
	return s.ch.C()
}

// Close unsubscribes and closes the stream.
func (s *Subscription) Close() {
	s.surface.subscribers.Del(s.id)
	s.mu.Lock()
	s.ch.Close()
	s.mu.Unlock()
}

func (s *Subscription) deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch.ForceSend(u) {
		s.surface.logger.WithField("subscriber", s.id).Debug("Subscriber lagging, dropped oldest update")
	}
}

// Surface holds the latest State and fans changes out to subscribers.
//
// Publish is expected from a single writer (the controller loop); Current and
// Subscribe are safe from any goroutine. Fan-out happens under the write lock so a
// new subscriber never misses an update published after its initial snapshot.
type Surface struct {
	mu          sync.RWMutex
	current     State
	subscribers *hashmap.Map[uint64, *Subscription]
	nextID      atomic.Uint64
	buffer      int
	logger      *logrus.Logger
}

// New creates a Surface. buffer <= 0 selects DefaultBuffer.
func New(buffer int, logger *logrus.Logger) *Surface {
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Surface{
		subscribers: hashmap.New[uint64, *Subscription](),
		buffer:      buffer,
		logger:      logger,
	}
}

// Current returns a copy of the latest published State.
func (s *Surface) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Publish replaces the current State and notifies subscribers before returning.
// It returns the changed fields; zero means next equals the current state and
// nothing was sent.
func (s *Surface) Publish(next State) Field {
	next = next.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := diff(s.current, next)
	if changed == 0 {
		return 0
	}
	s.current = next

	s.logger.WithFields(logrus.Fields{
		"phase":     next.Phase,
		"devices":   len(next.DeviceNames),
		"connected": next.Connected,
	}).Debug("Publishing state")

	s.subscribers.Range(func(_ uint64, sub *Subscription) bool {
		sub.deliver(Update{State: next.clone(), Changed: changed})
		return true
	})
	return changed
}

// Subscribe registers a subscriber. The current State is queued immediately with
// every field flagged so the subscriber can render without waiting for a change.
func (s *Surface) Subscribe() *Subscription {
	sub := &Subscription{
		id:      s.nextID.Add(1),
		surface: s,
		ch:      ringchan.New[Update](s.buffer),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub.deliver(Update{
		State:   s.current.clone(),
		Changed: FieldDevices | FieldConnected | FieldConnectedName | FieldPhase | FieldPowered | FieldError,
	})
	s.subscribers.Set(sub.id, sub)
	return sub
}

func (s *Surface) subscriberCount() int {
	return s.subscribers.Len()
}
