// Package transport implements the chunked audio framing layer between the
// device and the host: header-plus-chunks serialization of a finished
// recording with link pacing on the send path, and bounded accumulation of
// sized payloads and command bytes on the receive path.
package transport
