package device

// UnknownDeviceName is rendered for peripherals that advertise no name.
const UnknownDeviceName = "Unknown Device"

// Device is a discovered peripheral. Identity is assigned by the adapter and is
// stable for a discovery session; two records are the same device iff their IDs match.
type Device struct {
	ID   string
	Name string // empty when the advertisement carried no name
	RSSI int
}

// DisplayName returns the advertised name or UnknownDeviceName.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return UnknownDeviceName
	}
	return d.Name
}

// Advertisement is the subset of advertising data the backends hand to the core.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// FromAdvertisement builds the Device record for an advertisement.
func FromAdvertisement(adv Advertisement) Device {
	return Device{
		ID:   adv.Addr(),
		Name: adv.LocalName(),
		RSSI: adv.RSSI(),
	}
}
