// Package registry keeps the de-duplicated, discovery-ordered list of peripherals
// seen during the current scan session.
package registry

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecast/internal/device"
)

// Registry is an insertion-ordered set of devices keyed by identity.
//
// A Registry is not safe for concurrent use; the controller confines it to its
// control loop.
type Registry struct {
	devices *orderedmap.OrderedMap[string, device.Device]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{devices: orderedmap.New[string, device.Device]()}
}

// Reset drops every entry. Called at the start of each scan session.
func (r *Registry) Reset() {
	r.devices = orderedmap.New[string, device.Device]()
}

// Record appends d unless a device with the same identity is already present.
// It reports whether d was newly added; the first record of an identity wins.
func (r *Registry) Record(d device.Device) bool {
	if _, exists := r.devices.Get(d.ID); exists {
		return false
	}
	r.devices.Set(d.ID, d)
	return true
}

// Len returns the number of recorded devices.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// At returns the device at index i of the current order.
func (r *Registry) At(i int) (device.Device, error) {
	if i < 0 || i >= r.devices.Len() {
		return device.Device{}, &device.IndexError{Index: i, Len: r.devices.Len()}
	}
	n := 0
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if n == i {
			return pair.Value, nil
		}
		n++
	}
	return device.Device{}, &device.IndexError{Index: i, Len: r.devices.Len()}
}

func (r *Registry) contains(id string) bool {
	_, ok := r.devices.Get(id)
	return ok
}

// Snapshot returns a point-in-time copy of the devices in discovery order.
func (r *Registry) Snapshot() []device.Device {
	out := make([]device.Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Names returns the display names in discovery order.
func (r *Registry) Names() []string {
	out := make([]string, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.DisplayName())
	}
	return out
}
