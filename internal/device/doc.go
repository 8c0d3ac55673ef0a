// Package device implements the top-level controller: the operating state
// machine, the periodic tick dispatch, and the wiring between voice
// activity, recording sessions, and the transport framer. Peripherals are
// consumed through narrow capability interfaces so hosted and test targets
// can substitute their own backends.
package device
