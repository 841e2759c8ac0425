package testutils

import "github.com/srg/blecast/internal/device"

// FakeAdvertisement is a device.Advertisement with fixed fields.
type FakeAdvertisement struct {
	Name          string
	Address       string
	Strength      int
	IsConnectable bool
}

// NewAdvertisement builds a connectable advertisement.
func NewAdvertisement(address, name string, rssi int) *FakeAdvertisement {
	return &FakeAdvertisement{Name: name, Address: address, Strength: rssi, IsConnectable: true}
}

func (a *FakeAdvertisement) LocalName() string { return a.Name }
func (a *FakeAdvertisement) Addr() string      { return a.Address }
func (a *FakeAdvertisement) RSSI() int         { return a.Strength }
func (a *FakeAdvertisement) Connectable() bool { return a.IsConnectable }

var _ device.Advertisement = (*FakeAdvertisement)(nil)
