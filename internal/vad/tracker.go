package vad

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
)

// Tracker maintains the "currently speaking" state across successive energy
// readings. The hysteresis is deliberately asymmetric: a single block above
// the threshold starts an utterance immediately, while an utterance ends
// only after silenceHold has passed with no above-threshold block. Brief
// energy dips inside a word therefore never flap the state off.
type Tracker struct {
	threshold   int
	silenceHold time.Duration
	logger      *slog.Logger

	// mu guards the state and counters below. Updates come from the device
	// control loop; GetStats is read concurrently by the ops endpoint.
	mu         sync.RWMutex
	isSpeaking bool
	lastSpeech time.Time

	// Statistics
	blocksSeen    uint64
	speechBlocks  uint64
	utterances    uint64
	lastUpdatedAt time.Time
}

// Stats is a read-only snapshot of tracker activity for monitoring.
type Stats struct {
	IsSpeaking       bool      `json:"is_speaking"`
	BlocksSeen       uint64    `json:"blocks_seen"`
	SpeechBlocks     uint64    `json:"speech_blocks"`
	Utterances       uint64    `json:"utterances"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastSpeech       time.Time `json:"last_speech"`
}

// NewTracker creates a voice activity tracker.
func NewTracker(threshold int, silenceHold time.Duration, logger *slog.Logger) (*Tracker, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be at least 1, got %d", threshold)
	}

	if silenceHold <= 0 {
		return nil, fmt.Errorf("silence hold must be positive, got %s", silenceHold)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		threshold:   threshold,
		silenceHold: silenceHold,
		logger:      logger,
	}, nil
}

// Update feeds one block's energy level into the tracker and returns the
// resulting speaking state. The no-data sentinel counts as silence. Edge
// transitions are logged once, not per block.
func (t *Tracker) Update(level int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.blocksSeen++
	t.lastUpdatedAt = now

	if level != audio.LevelNoData && level > t.threshold {
		t.speechBlocks++
		t.lastSpeech = now

		if !t.isSpeaking {
			t.isSpeaking = true
			t.utterances++
			t.logger.Debug("Speech started",
				slog.Int("level", level),
				slog.Int("threshold", t.threshold),
			)
		}

		return true
	}

	if t.isSpeaking && now.Sub(t.lastSpeech) > t.silenceHold {
		t.isSpeaking = false
		t.logger.Debug("Speech ended",
			slog.Duration("silence_hold", t.silenceHold),
			slog.Time("last_speech", t.lastSpeech),
		)
	}

	return t.isSpeaking
}

// IsSpeaking returns the current hysteresis state without feeding a block.
func (t *Tracker) IsSpeaking() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isSpeaking
}

// LastSpeech returns the timestamp of the most recent above-threshold block.
func (t *Tracker) LastSpeech() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSpeech
}

// SilenceFor returns how long the tracker has gone without an
// above-threshold block as of now. Returns zero before any speech was seen.
func (t *Tracker) SilenceFor(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastSpeech.IsZero() {
		return 0
	}
	return now.Sub(t.lastSpeech)
}

// Reset clears the speaking state and the last-speech timestamp. Statistics
// are preserved; they describe the tracker's lifetime, not one utterance.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isSpeaking = false
	t.lastSpeech = time.Time{}
}

// GetStats returns a snapshot of the tracker's counters.
func (t *Tracker) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	speechPercentage := float64(0)
	if t.blocksSeen > 0 {
		speechPercentage = float64(t.speechBlocks) / float64(t.blocksSeen) * 100
	}

	return Stats{
		IsSpeaking:       t.isSpeaking,
		BlocksSeen:       t.blocksSeen,
		SpeechBlocks:     t.speechBlocks,
		Utterances:       t.utterances,
		SpeechPercentage: speechPercentage,
		LastSpeech:       t.lastSpeech,
	}
}
