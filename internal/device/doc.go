// Package device defines the peripheral and radio adapter abstractions shared by
// the discovery core and the platform backends.
//
// The package contains:
//   - Device, the immutable record of a discovered peripheral
//   - Adapter, the fire-and-forget command surface of a radio backend
//   - Event, the typed stream a backend pushes back (power, discovery, connection outcome)
//   - the error taxonomy used across the module (adapter unavailable, connect failed,
//     out of range, media load failed)
//
// Backends live in sub-packages (go-ble, bluez, tinygo) and translate their native
// callback mechanism into the Event stream without reordering.
package device
