package device

import (
	"math"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
)

// TriggerID identifies a debounced user input. Edge detection happens at
// the collaborator boundary; PollTrigger reports a press edge at most once.
type TriggerID int

const (
	TriggerRecord TriggerID = iota
	TriggerCancel
)

// Indicator names understood by the indication sink.
const (
	IndicatorConnected  = "connected"
	IndicatorRecording  = "recording"
	IndicatorProcessing = "processing"
)

// Microphone delivers fixed-rate mono PCM-16 blocks from the sampling bus.
// ReadBlock blocks up to timeout and returns the samples that arrived; an
// empty block means no data, which callers treat as silence.
type Microphone interface {
	ReadBlock(timeout time.Duration) (audio.Block, error)
}

// IndicatorSink receives fire-and-forget indication updates. The core never
// consumes feedback from it.
type IndicatorSink interface {
	SetIndicator(name string, on bool)
	ShowLines(line1, line2 string)
}

// TriggerSource reports debounced user input edges once per poll.
type TriggerSource interface {
	PollTrigger(id TriggerID) bool
}

// Player renders returned audio through the speaker. Play blocks for the
// duration of the clip; that latency is accepted, the same as transport
// pacing.
type Player interface {
	Play(samples []int16, sampleRate int) error
}

// Test tone parameters for the host 'P' command with a zero-length payload.
const (
	testToneFreq     = 880.0
	testToneDuration = 250 * time.Millisecond
	testToneLevel    = 12000
)

// TestTone synthesizes the fixed sine burst played when the host requests
// playback without a payload.
func TestTone(sampleRate int) []int16 {
	n := int(float64(sampleRate) * testToneDuration.Seconds())
	samples := make([]int16, n)
	step := 2 * math.Pi * testToneFreq / float64(sampleRate)
	for i := range samples {
		samples[i] = int16(testToneLevel * math.Sin(step*float64(i)))
	}
	return samples
}
