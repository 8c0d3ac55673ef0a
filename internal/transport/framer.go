package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
	"github.com/if-else-master/AI-VoiceTransMic/internal/protocol"
)

// Link is the narrow view of the wireless transport the framer depends on.
// Deliveries are in order and at most chunk-sized; there is no
// retransmission below this interface, so a lost chunk is a link failure,
// not something the framer recovers.
type Link interface {
	// IsConnected reports whether the link is currently up.
	IsConnected() bool
	// SendChunk transmits one bounded delivery.
	SendChunk(data []byte) error
	// Recv returns the next queued inbound delivery, or nil when none is
	// pending. It never blocks.
	Recv() []byte
}

// Sentinel failures of the framing layer. Both are terminal for the
// operation in progress and are converted into state transitions by the
// caller, never retried here.
var (
	ErrDisconnected = errors.New("link disconnected")
	ErrTimeout      = errors.New("receive timeout")
)

// Config holds the framing and pacing parameters.
type Config struct {
	ChunkSize      int           // bytes per link delivery
	WarmupChunks   int           // chunks paced at WarmupDelay before switching to ChunkDelay
	WarmupDelay    time.Duration // per-chunk delay while the link warms up
	ChunkDelay     time.Duration // steady-state per-chunk delay
	ReceiveTimeout time.Duration // overall bound on one payload accumulation
	ReceivePoll    time.Duration // sleep between accumulation polls
}

// Framer serializes finished recordings onto the link and reassembles
// inbound commands and sized payloads from arbitrary-length deliveries.
// All methods run on the device control loop except GetStats, which the
// ops endpoint reads from its own goroutine.
type Framer struct {
	link   Link
	clock  Clock
	config Config
	logger *slog.Logger

	// Inbound accumulation across deliveries. Control-loop only.
	pending []byte

	// Statistics, atomic because GetStats races with a send in progress.
	recordingsSent   atomic.Uint64
	chunksSent       atomic.Uint64
	bytesSent        atomic.Uint64
	sendAborts       atomic.Uint64
	payloadsReceived atomic.Uint64
	receiveTimeouts  atomic.Uint64
}

// Stats is a read-only snapshot of framer activity.
type Stats struct {
	RecordingsSent   uint64 `json:"recordings_sent"`
	ChunksSent       uint64 `json:"chunks_sent"`
	BytesSent        uint64 `json:"bytes_sent"`
	SendAborts       uint64 `json:"send_aborts"`
	PayloadsReceived uint64 `json:"payloads_received"`
	ReceiveTimeouts  uint64 `json:"receive_timeouts"`
}

// NewFramer creates a transport framer over the given link.
func NewFramer(link Link, clock Clock, config Config, logger *slog.Logger) (*Framer, error) {
	if link == nil {
		return nil, fmt.Errorf("link is required")
	}

	if config.ChunkSize < 2 {
		return nil, fmt.Errorf("chunk size must be at least 2 bytes, got %d", config.ChunkSize)
	}

	if config.ReceiveTimeout <= 0 || config.ReceivePoll <= 0 {
		return nil, fmt.Errorf("receive timeout and poll must be positive, got timeout=%s poll=%s",
			config.ReceiveTimeout, config.ReceivePoll)
	}

	if clock == nil {
		clock = RealClock()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Framer{
		link:   link,
		clock:  clock,
		config: config,
		logger: logger,
	}, nil
}

// SendRecording streams a finished recording: one header frame followed by
// the store's raw bytes in fixed-maximum-size chunks. Pacing is tiered, a
// longer delay for the first WarmupChunks deliveries, then the steady-state
// delay. A disconnect mid-send aborts immediately and the partial transfer
// is simply dropped; no error frame exists in this protocol.
func (f *Framer) SendRecording(store *audio.RingStore, sampleRate int) error {
	if !f.link.IsConnected() {
		f.sendAborts.Add(1)
		return ErrDisconnected
	}

	header := protocol.EncodeHeader(protocol.Header{
		SampleCount: uint32(store.Len()),
		SampleRate:  uint32(sampleRate),
	})

	if err := f.link.SendChunk(header); err != nil {
		f.sendAborts.Add(1)
		return fmt.Errorf("failed to send header frame: %w", err)
	}

	data := store.Bytes()
	totalChunks := (len(data) + f.config.ChunkSize - 1) / f.config.ChunkSize

	f.logger.Debug("Sending recording",
		slog.Int("samples", store.Len()),
		slog.Int("sample_rate", sampleRate),
		slog.Int("chunks", totalChunks),
	)

	for i := 0; i < totalChunks; i++ {
		if !f.link.IsConnected() {
			f.sendAborts.Add(1)
			f.logger.Warn("Link lost mid-send, dropping partial transfer",
				slog.Int("chunks_sent", i),
				slog.Int("chunks_total", totalChunks),
			)
			return ErrDisconnected
		}

		start := i * f.config.ChunkSize
		end := start + f.config.ChunkSize
		if end > len(data) {
			end = len(data)
		}

		if err := f.link.SendChunk(data[start:end]); err != nil {
			f.sendAborts.Add(1)
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, totalChunks, err)
		}

		f.chunksSent.Add(1)
		f.bytesSent.Add(uint64(end - start))

		if i < f.config.WarmupChunks {
			f.clock.Sleep(f.config.WarmupDelay)
		} else {
			f.clock.Sleep(f.config.ChunkDelay)
		}
	}

	f.recordingsSent.Add(1)

	f.logger.Info("Recording sent",
		slog.Int("samples", store.Len()),
		slog.Int("bytes", len(data)),
		slog.Int("chunks", totalChunks),
	)

	return nil
}

// drain moves every queued inbound delivery into the pending buffer.
func (f *Framer) drain() {
	for {
		delivery := f.link.Recv()
		if delivery == nil {
			return
		}
		f.pending = append(f.pending, delivery...)
	}
}

// NextCommand returns the next complete host command accumulated from the
// link, or nil when none is pending. Unknown command bytes are logged,
// skipped, and never change state.
func (f *Framer) NextCommand() *protocol.Command {
	f.drain()

	for len(f.pending) > 0 {
		cmd, consumed, err := protocol.ParseCommand(f.pending)
		if err != nil {
			f.logger.Warn("Ignoring unknown command byte",
				slog.String("error", err.Error()),
			)
			f.pending = f.pending[consumed:]
			continue
		}

		if consumed == 0 {
			return nil // incomplete prefix, wait for more deliveries
		}

		f.pending = f.pending[consumed:]
		return cmd
	}

	return nil
}

// SendStatus transmits the device status response.
func (f *Framer) SendStatus(status protocol.StatusResponse) error {
	if !f.link.IsConnected() {
		return ErrDisconnected
	}

	return f.link.SendChunk(protocol.EncodeStatus(status))
}

// ReceivePayload accumulates deliveries until expectedSize bytes are
// collected. The loop blocks the control loop but is bounded by the overall
// receive timeout; on expiry the partial buffer is discarded and ErrTimeout
// returned. A disconnect mid-receive aborts the same way.
func (f *Framer) ReceivePayload(expectedSize int) ([]byte, error) {
	if expectedSize <= 0 {
		return nil, fmt.Errorf("expected payload size must be positive, got %d", expectedSize)
	}

	deadline := f.clock.Now().Add(f.config.ReceiveTimeout)

	for {
		f.drain()

		if len(f.pending) >= expectedSize {
			payload := make([]byte, expectedSize)
			copy(payload, f.pending[:expectedSize])
			f.pending = f.pending[expectedSize:]
			f.payloadsReceived.Add(1)
			return payload, nil
		}

		if !f.link.IsConnected() {
			f.pending = f.pending[:0]
			return nil, ErrDisconnected
		}

		if f.clock.Now().After(deadline) {
			f.receiveTimeouts.Add(1)
			f.logger.Warn("Payload reception timed out, discarding partial buffer",
				slog.Int("expected_bytes", expectedSize),
				slog.Int("received_bytes", len(f.pending)),
			)
			f.pending = f.pending[:0]
			return nil, ErrTimeout
		}

		f.clock.Sleep(f.config.ReceivePoll)
	}
}

// DiscardPending drops any accumulated inbound bytes, used when the device
// resets on disconnect.
func (f *Framer) DiscardPending() {
	f.pending = f.pending[:0]
}

// GetStats returns a snapshot of the framer's counters.
func (f *Framer) GetStats() Stats {
	return Stats{
		RecordingsSent:   f.recordingsSent.Load(),
		ChunksSent:       f.chunksSent.Load(),
		BytesSent:        f.bytesSent.Load(),
		SendAborts:       f.sendAborts.Load(),
		PayloadsReceived: f.payloadsReceived.Load(),
		ReceiveTimeouts:  f.receiveTimeouts.Load(),
	}
}
