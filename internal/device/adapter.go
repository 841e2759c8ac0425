package device

import (
	"context"
	"fmt"
)

// EventType identifies what an adapter Event reports.
type EventType int

const (
	EventPowerChanged EventType = iota
	EventDeviceDiscovered
	EventConnected
	EventConnectFailed
	EventDisconnected
)

var eventTypeNames = map[EventType]string{
	EventPowerChanged:     "power_changed",
	EventDeviceDiscovered: "device_discovered",
	EventConnected:        "connected",
	EventConnectFailed:    "connect_failed",
	EventDisconnected:     "disconnected",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is a single notification from a radio adapter.
//
// Powered is meaningful for EventPowerChanged only. Device carries the full record for
// EventDeviceDiscovered and at least the ID for the connection events. Err is the
// reason for EventConnectFailed and, optionally, EventDisconnected.
type Event struct {
	Type    EventType
	Powered bool
	Device  Device
	Err     error
}

// PowerChanged builds an EventPowerChanged.
func PowerChanged(on bool) Event {
	return Event{Type: EventPowerChanged, Powered: on}
}

// Discovered builds an EventDeviceDiscovered.
func Discovered(d Device) Event {
	return Event{Type: EventDeviceDiscovered, Device: d}
}

// Connected builds an EventConnected for the given identity.
func Connected(id string) Event {
	return Event{Type: EventConnected, Device: Device{ID: id}}
}

// ConnectFailed builds an EventConnectFailed for the given identity.
func ConnectFailed(id string, reason error) Event {
	return Event{Type: EventConnectFailed, Device: Device{ID: id}, Err: reason}
}

// Disconnected builds an EventDisconnected for the given identity.
func Disconnected(id string, reason error) Event {
	return Event{Type: EventDisconnected, Device: Device{ID: id}, Err: reason}
}

// Adapter is the platform radio capability.
//
// Scan, StopScan and Connect are requests: they return once the request has been
// handed to the platform and report outcomes later on Events. They must not block on
// the consumer draining Events.
type Adapter interface {
	// Start brings the backend up and begins emitting events. The initial power
	// state is reported as an EventPowerChanged.
	Start(ctx context.Context) error
	// Events is the ordered event stream. It is closed when the adapter is closed.
	Events() <-chan Event
	Scan() error
	StopScan() error
	Connect(id string) error
	Close() error
}

// Canceler is implemented by adapters that can abort a pending or established connection.
type Canceler interface {
	Cancel(id string) error
}
