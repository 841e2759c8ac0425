package controller

import (
	"fmt"

	"github.com/srg/blecast/internal/delivery"
	"github.com/srg/blecast/internal/device"
)

// Phase is the connection lifecycle state. Exactly one is active at a time.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Snapshot is a consistent copy of the controller's internal state, taken on the
// control loop.
type Snapshot struct {
	Phase       Phase
	Target      device.Device // zero unless Connecting or Connected
	Devices     []device.Device
	Powered     bool
	PendingScan bool
	ScanSession string
	Delivery    *delivery.Task // nil unless Connected
	LastError   error
}
