package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants. Multi-byte integers are little-endian throughout, matching
// the PCM sample byte order already on the link.
const (
	// Outbound recording header: marker + sample count + sample rate.
	HeaderMarker    = 'A'
	HeaderFrameSize = 9 // 1 + 4 + 4 bytes

	// Inbound host command bytes.
	CmdPlay   = 'P' // size-prefixed audio payload follows; size 0 = test tone
	CmdStatus = 'S' // device answers with a status response
	CmdReady  = 'R' // host finished processing, clears Processing
	CmdError  = 'E' // host failed processing, clears Processing

	// CmdPlay carries a 4-byte payload size after the command byte.
	PlayCommandSize = 5

	// Device status response: marker + state + connected + recording.
	StatusResponseSize = 4
)

// Header describes one outbound recording: how many PCM-16 samples follow
// and at what rate. Chunks after the header carry no metadata; the receiver
// knows reassembly is complete from the sample count alone.
type Header struct {
	SampleCount uint32
	SampleRate  uint32
}

// Command is one parsed host instruction. PayloadSize is meaningful only
// for CmdPlay.
type Command struct {
	Kind        byte
	PayloadSize uint32
}

// StatusResponse is the device's answer to CmdStatus.
type StatusResponse struct {
	State     uint8
	Connected bool
	Recording bool
}

// EncodeHeader serializes the 9-byte recording header frame.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderFrameSize)
	buf[0] = HeaderMarker
	binary.LittleEndian.PutUint32(buf[1:5], h.SampleCount)
	binary.LittleEndian.PutUint32(buf[5:9], h.SampleRate)
	return buf
}

// ParseHeader parses the 9-byte recording header frame.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderFrameSize {
		return nil, fmt.Errorf("header frame too short: expected %d bytes, got %d", HeaderFrameSize, len(data))
	}

	if data[0] != HeaderMarker {
		return nil, fmt.Errorf("invalid header marker: expected 0x%02x, got 0x%02x", HeaderMarker, data[0])
	}

	return &Header{
		SampleCount: binary.LittleEndian.Uint32(data[1:5]),
		SampleRate:  binary.LittleEndian.Uint32(data[5:9]),
	}, nil
}

// PayloadBytes returns the byte length of the PCM data announced by the
// header.
func (h *Header) PayloadBytes() int {
	return int(h.SampleCount) * 2
}

// IsKnownCommand reports whether b is one of the defined command bytes.
// Unknown bytes are logged and ignored by the device; they are not errors
// that change state.
func IsKnownCommand(b byte) bool {
	switch b {
	case CmdPlay, CmdStatus, CmdReady, CmdError:
		return true
	default:
		return false
	}
}

// EncodeCommand serializes a host command. CmdPlay includes its payload
// size prefix; the other commands are a single byte.
func EncodeCommand(c Command) []byte {
	if c.Kind == CmdPlay {
		buf := make([]byte, PlayCommandSize)
		buf[0] = CmdPlay
		binary.LittleEndian.PutUint32(buf[1:5], c.PayloadSize)
		return buf
	}

	return []byte{c.Kind}
}

// ParseCommand parses the command at the head of data and returns it along
// with the number of bytes consumed. CmdPlay needs its full 5-byte prefix;
// with fewer bytes available it returns consumed 0 so the caller can wait
// for more deliveries.
func ParseCommand(data []byte) (*Command, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty command data")
	}

	kind := data[0]
	if !IsKnownCommand(kind) {
		return nil, 1, fmt.Errorf("unknown command byte: 0x%02x", kind)
	}

	if kind == CmdPlay {
		if len(data) < PlayCommandSize {
			return nil, 0, nil // incomplete, wait for the rest of the prefix
		}

		return &Command{
			Kind:        CmdPlay,
			PayloadSize: binary.LittleEndian.Uint32(data[1:5]),
		}, PlayCommandSize, nil
	}

	return &Command{Kind: kind}, 1, nil
}

// EncodeStatus serializes the 4-byte status response.
func EncodeStatus(s StatusResponse) []byte {
	buf := make([]byte, StatusResponseSize)
	buf[0] = CmdStatus
	buf[1] = s.State
	if s.Connected {
		buf[2] = 1
	}
	if s.Recording {
		buf[3] = 1
	}
	return buf
}

// ParseStatus parses the 4-byte status response.
func ParseStatus(data []byte) (*StatusResponse, error) {
	if len(data) < StatusResponseSize {
		return nil, fmt.Errorf("status response too short: expected %d bytes, got %d", StatusResponseSize, len(data))
	}

	if data[0] != CmdStatus {
		return nil, fmt.Errorf("invalid status marker: expected 0x%02x, got 0x%02x", CmdStatus, data[0])
	}

	return &StatusResponse{
		State:     data[1],
		Connected: data[2] != 0,
		Recording: data[3] != 0,
	}, nil
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	return fmt.Sprintf("Header{Samples:%d, Rate:%d}", h.SampleCount, h.SampleRate)
}

// String returns a human-readable representation of the command.
func (c *Command) String() string {
	switch c.Kind {
	case CmdPlay:
		return fmt.Sprintf("Command{Play, PayloadSize:%d}", c.PayloadSize)
	case CmdStatus:
		return "Command{Status}"
	case CmdReady:
		return "Command{Ready}"
	case CmdError:
		return "Command{Error}"
	default:
		return fmt.Sprintf("Command{Unknown(0x%02x)}", c.Kind)
	}
}

// String returns a human-readable representation of the status response.
func (s *StatusResponse) String() string {
	return fmt.Sprintf("Status{State:%d, Connected:%t, Recording:%t}", s.State, s.Connected, s.Recording)
}
