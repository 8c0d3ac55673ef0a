// Package protocol implements the device/host wire format: the 9-byte
// recording header frame, single-byte host commands with the size-prefixed
// play payload, and the 4-byte status response.
package protocol
