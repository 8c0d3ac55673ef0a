package device

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
	"github.com/if-else-master/AI-VoiceTransMic/internal/transport"
)

// SimMicrophone replays a fixed sample buffer as microphone input,
// looping when it runs out. An empty source yields silent blocks, which
// keeps the state machine idle.
type SimMicrophone struct {
	samples   []int16
	blockSize int
	pos       int
}

// NewSilentMicrophone returns a microphone that only ever produces silence.
func NewSilentMicrophone(blockSize int) *SimMicrophone {
	return &SimMicrophone{blockSize: blockSize}
}

// NewFileMicrophone loads a WAV file and replays it as microphone input.
func NewFileMicrophone(path string, blockSize int) (*SimMicrophone, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read source file: %w", err)
	}
	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode source file %s: %w", path, err)
	}
	return &SimMicrophone{samples: samples, blockSize: blockSize}, sampleRate, nil
}

// ReadBlock returns the next block of source samples. The timeout is
// ignored; simulated capture is always ready.
func (m *SimMicrophone) ReadBlock(_ time.Duration) (audio.Block, error) {
	if len(m.samples) == 0 {
		return make(audio.Block, m.blockSize), nil
	}
	block := make(audio.Block, m.blockSize)
	for i := range block {
		block[i] = m.samples[m.pos]
		m.pos++
		if m.pos >= len(m.samples) {
			m.pos = 0
		}
	}
	return block, nil
}

// LogIndicators writes indicator and display updates to the log, standing
// in for LEDs and a character display.
type LogIndicators struct {
	logger *slog.Logger
}

// NewLogIndicators creates a log-backed indicator sink.
func NewLogIndicators(logger *slog.Logger) *LogIndicators {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogIndicators{logger: logger}
}

func (l *LogIndicators) SetIndicator(name string, on bool) {
	l.logger.Debug("Indicator", slog.String("name", name), slog.Bool("on", on))
}

func (l *LogIndicators) ShowLines(line1, line2 string) {
	l.logger.Info("Display", slog.String("line1", line1), slog.String("line2", line2))
}

// StdinTriggers turns console input into trigger edges: a line starting
// with "r" arms the record trigger, "c" the cancel trigger. Each edge is
// consumed by exactly one poll.
type StdinTriggers struct {
	record atomic.Bool
	cancel atomic.Bool
	logger *slog.Logger
}

// NewStdinTriggers starts reading trigger lines from r (usually os.Stdin).
func NewStdinTriggers(r io.Reader, logger *slog.Logger) *StdinTriggers {
	if logger == nil {
		logger = slog.Default()
	}
	t := &StdinTriggers{logger: logger}
	go t.readLoop(r)
	return t
}

func (t *StdinTriggers) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		switch {
		case strings.HasPrefix(line, "r"):
			t.record.Store(true)
		case strings.HasPrefix(line, "c"):
			t.cancel.Store(true)
		default:
			if line != "" {
				t.logger.Info("Unknown trigger input", slog.String("line", line))
			}
		}
	}
}

// PollTrigger reports and clears a pending edge.
func (t *StdinTriggers) PollTrigger(id TriggerID) bool {
	switch id {
	case TriggerRecord:
		return t.record.Swap(false)
	case TriggerCancel:
		return t.cancel.Swap(false)
	}
	return false
}

// LogPlayer renders playback as a log line and a real-time sleep for the
// clip duration, preserving the blocking semantics of a speaker.
type LogPlayer struct {
	clock  transport.Clock
	logger *slog.Logger
}

// NewLogPlayer creates a log-backed player.
func NewLogPlayer(clock transport.Clock, logger *slog.Logger) *LogPlayer {
	if clock == nil {
		clock = transport.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPlayer{clock: clock, logger: logger}
}

func (p *LogPlayer) Play(samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	p.logger.Info("Playing audio",
		slog.Int("samples", len(samples)),
		slog.Duration("duration", duration))
	p.clock.Sleep(duration)
	return nil
}
