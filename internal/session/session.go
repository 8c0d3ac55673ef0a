package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
)

// Mode selects the termination policy of a recording episode.
type Mode int

const (
	// Manual records a fixed window regardless of speech or silence.
	Manual Mode = iota
	// Automatic records short chunks terminated early by sustained silence,
	// for low-latency incremental delivery.
	Automatic
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Automatic:
		return "automatic"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// StopReason describes which termination rule ended a session.
type StopReason int

const (
	StopNone StopReason = iota
	StopTargetReached
	StopSilence
)

// String returns a human-readable stop reason.
func (r StopReason) String() string {
	switch r {
	case StopTargetReached:
		return "target_reached"
	case StopSilence:
		return "silence"
	default:
		return "none"
	}
}

// Policy holds the duration rules shared by all sessions.
type Policy struct {
	ManualDuration    time.Duration // fixed manual window
	AutoChunkDuration time.Duration // automatic chunk boundary
	MinValidDuration  time.Duration // validity floor
	MinValidSamples   int           // validity floor
	SilenceHold       time.Duration // sustained-silence requirement
	SampleRate        int
}

// Validate checks policy consistency.
func (p Policy) Validate() error {
	if p.ManualDuration <= 0 || p.AutoChunkDuration <= 0 {
		return fmt.Errorf("session durations must be positive, got manual=%s auto=%s",
			p.ManualDuration, p.AutoChunkDuration)
	}

	if p.MinValidDuration <= 0 || p.MinValidSamples < 1 {
		return fmt.Errorf("validity floors must be positive, got duration=%s samples=%d",
			p.MinValidDuration, p.MinValidSamples)
	}

	if p.SilenceHold <= 0 {
		return fmt.Errorf("silence hold must be positive, got %s", p.SilenceHold)
	}

	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}

	return nil
}

// Session is one bounded recording episode. It owns the ring store for its
// lifetime: no other writer touches the store between Begin and the
// recorder's Finish or Abort.
type Session struct {
	mode           Mode
	startTime      time.Time
	targetDuration time.Duration
	store          *audio.RingStore
	policy         Policy
}

// Recorder owns the device's single ring store and hands it to at most one
// active session at a time. A Begin while a session is active is a no-op.
type Recorder struct {
	store  *audio.RingStore
	policy Policy
	logger *slog.Logger

	// mu guards the active session and the counters. Lifecycle calls come
	// from the device control loop; GetStats is read concurrently by the
	// ops endpoint.
	mu     sync.RWMutex
	active *Session

	// Statistics
	started   uint64
	valid     uint64
	discarded uint64
}

// RecorderStats is a read-only snapshot for monitoring.
type RecorderStats struct {
	Active    bool   `json:"active"`
	Started   uint64 `json:"started"`
	Valid     uint64 `json:"valid"`
	Discarded uint64 `json:"discarded"`
}

// NewRecorder creates a recorder around a preallocated ring store.
func NewRecorder(store *audio.RingStore, policy Policy, logger *slog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("ring store is required")
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session policy: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		store:  store,
		policy: policy,
		logger: logger,
	}, nil
}

// capacityDuration converts the store capacity into the longest recordable
// duration at the configured sample rate.
func (r *Recorder) capacityDuration() time.Duration {
	return time.Duration(r.store.Capacity()) * time.Second / time.Duration(r.policy.SampleRate)
}

// Begin starts a new session in the given mode. The target duration is the
// mode's policy duration capped at what the store can hold, computed once
// here and never revised mid-session. Returns the active session and false
// without side effects when a session is already running.
func (r *Recorder) Begin(mode Mode, now time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.logger.Warn("Recording already active, ignoring begin",
			slog.String("active_mode", r.active.mode.String()),
		)
		return r.active, false
	}

	target := r.policy.ManualDuration
	if mode == Automatic {
		target = r.policy.AutoChunkDuration
	}
	if maxDur := r.capacityDuration(); target > maxDur {
		target = maxDur
	}

	r.store.Reset()

	r.active = &Session{
		mode:           mode,
		startTime:      now,
		targetDuration: target,
		store:          r.store,
		policy:         r.policy,
	}
	r.started++

	r.logger.Info("Recording started",
		slog.String("mode", mode.String()),
		slog.Duration("target_duration", target),
		slog.Int("capacity_samples", r.store.Capacity()),
	)

	return r.active, true
}

// Active returns the running session, or nil.
func (r *Recorder) Active() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Finish ends the active session and applies the validity gate. A valid
// session's store is left frozen for the transport framer to drain; an
// invalid one is a normal outcome whose content is simply discarded.
func (r *Recorder) Finish(now time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.active
	if s == nil {
		return nil, false
	}
	r.active = nil

	if !s.Valid(now) {
		r.discarded++
		r.logger.Info("Recording discarded as invalid",
			slog.String("mode", s.mode.String()),
			slog.Int("samples", s.store.Len()),
			slog.Duration("elapsed", s.Elapsed(now)),
		)
		return s, false
	}

	r.valid++
	r.logger.Info("Recording finished",
		slog.String("mode", s.mode.String()),
		slog.Int("samples", s.store.Len()),
		slog.Duration("elapsed", s.Elapsed(now)),
	)

	return s, true
}

// Abort drops the active session and its buffered content, used on link
// disconnect or explicit cancel.
func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return
	}

	r.discarded++
	r.logger.Info("Recording aborted",
		slog.String("mode", r.active.mode.String()),
		slog.Int("samples", r.active.store.Len()),
	)
	r.active = nil
}

// GetStats returns a snapshot of the recorder's counters.
func (r *Recorder) GetStats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RecorderStats{
		Active:    r.active != nil,
		Started:   r.started,
		Valid:     r.valid,
		Discarded: r.discarded,
	}
}

// Mode returns the session's termination policy mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// StartTime returns when the session began.
func (s *Session) StartTime() time.Time {
	return s.startTime
}

// TargetDuration returns the capped policy duration computed at Begin.
func (s *Session) TargetDuration() time.Duration {
	return s.targetDuration
}

// Elapsed returns how long the session has been running.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.startTime)
}

// SampleCount returns the number of samples captured so far.
func (s *Session) SampleCount() int {
	return s.store.Len()
}

// Store exposes the session's ring store to the transport framer once the
// session is finished.
func (s *Session) Store() *audio.RingStore {
	return s.store
}

// AppendBlock copies a block into the ring store, truncating silently at
// capacity.
func (s *Session) AppendBlock(block audio.Block) int {
	return s.store.Append(block)
}

// ShouldStop evaluates the termination policy for one tick.
//
// Manual mode stops only when the full target window has elapsed; internal
// pauses are captured. Automatic mode additionally stops once silence has
// persisted past the hold-off, but only after both validity floors already
// hold, so noise-floor jitter in the first tens of milliseconds can never
// end a chunk: a too-early silence dip leaves the same session accumulating.
func (s *Session) ShouldStop(isSpeaking bool, silenceFor time.Duration, now time.Time) (bool, StopReason) {
	elapsed := s.Elapsed(now)

	if elapsed >= s.targetDuration {
		return true, StopTargetReached
	}

	if s.mode == Automatic &&
		!isSpeaking &&
		silenceFor > s.policy.SilenceHold &&
		elapsed > s.policy.MinValidDuration &&
		s.store.Len() > s.policy.MinValidSamples {
		return true, StopSilence
	}

	return false, StopNone
}

// Valid reports whether the finished session is worth transporting: both
// the sample floor and the duration floor must hold, whichever rule stopped
// it. The floors are small absolute values that reject accidental trigger
// taps and detector glitches without losing genuine short utterances.
func (s *Session) Valid(now time.Time) bool {
	return s.store.Len() >= s.policy.MinValidSamples &&
		s.Elapsed(now) >= s.policy.MinValidDuration
}
