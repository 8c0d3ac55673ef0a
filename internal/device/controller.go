package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
	"github.com/if-else-master/AI-VoiceTransMic/internal/metrics"
	"github.com/if-else-master/AI-VoiceTransMic/internal/protocol"
	"github.com/if-else-master/AI-VoiceTransMic/internal/session"
	"github.com/if-else-master/AI-VoiceTransMic/internal/transport"
	"github.com/if-else-master/AI-VoiceTransMic/internal/vad"
)

// Config holds the controller-level settings that do not belong to a
// collaborator.
type Config struct {
	TickInterval    time.Duration // cadence of the control loop
	SampleRate      int
	ReadTimeout     time.Duration // bound on one microphone block read
	MaxInboundBytes int           // cap on a size-prefixed host payload
	DumpDir         string        // write finished recordings as WAV when set
}

// Deps bundles the controller's collaborators. Recorder may be nil, which
// puts the device in degraded mode: it stays connected and answers status
// and playback commands but never records.
type Deps struct {
	Link       transport.Link
	Framer     *transport.Framer
	Recorder   *session.Recorder
	Tracker    *vad.Tracker
	Microphone Microphone
	Indicators IndicatorSink
	Triggers   TriggerSource
	Player     Player
	Clock      transport.Clock
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Controller runs the device state machine. All state transitions happen on
// the tick goroutine; Snapshot is the only method safe to call from others.
type Controller struct {
	config Config
	deps   Deps
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	linkUp  bool
	ticks   uint64
	dumpSeq int
}

// Snapshot is a point-in-time view of the controller for the ops endpoint.
type Snapshot struct {
	State     string                `json:"state"`
	LinkUp    bool                  `json:"link_up"`
	Degraded  bool                  `json:"degraded"`
	Ticks     uint64                `json:"ticks"`
	Recorder  session.RecorderStats `json:"recorder"`
	VAD       vad.Stats             `json:"vad"`
	Transport transport.Stats       `json:"transport"`
}

// NewController creates a controller in the Disconnected state.
func NewController(config Config, deps Deps) (*Controller, error) {
	if config.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", config.TickInterval)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if deps.Link == nil || deps.Framer == nil || deps.Tracker == nil {
		return nil, fmt.Errorf("link, framer, and tracker are required")
	}
	if deps.Microphone == nil || deps.Indicators == nil || deps.Triggers == nil || deps.Player == nil {
		return nil, fmt.Errorf("microphone, indicators, triggers, and player are required")
	}
	if deps.Clock == nil {
		deps.Clock = transport.RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		state:  StateDisconnected,
	}
	if deps.Recorder == nil {
		c.logger.Warn("No audio store available, running in degraded mode")
	}
	c.showState(StateDisconnected)
	return c, nil
}

// Run drives the tick loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("Device controller started",
		slog.Duration("tick_interval", c.config.TickInterval),
		slog.Int("sample_rate", c.config.SampleRate))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Device controller stopping")
			c.abortActive("shutdown")
			return
		default:
		}
		c.Tick(c.deps.Clock.Now())
		c.deps.Clock.Sleep(c.config.TickInterval)
	}
}

// Tick performs one pass of the state machine: link edge detection, inbound
// command dispatch, then the handler for the current state.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()

	c.checkLink()
	if c.metrics() != nil {
		c.metrics().RecordTick(c.currentState().Ordinal())
	}

	state := c.currentState()
	if state == StateDisconnected {
		c.discardTriggers()
		return
	}

	if done := c.handleCommands(now); done {
		return
	}

	switch c.currentState() {
	case StateIdle:
		c.tickIdle(now)
	case StateRecording:
		c.tickRecording(now)
	case StateProcessing:
		// Waiting for the host verdict; commands were already serviced.
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.currentState()
}

// Snapshot returns a consistent view for the ops endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	state := c.state
	linkUp := c.linkUp
	ticks := c.ticks
	c.mu.RUnlock()

	snap := Snapshot{
		State:     state.String(),
		LinkUp:    linkUp,
		Degraded:  c.deps.Recorder == nil,
		Ticks:     ticks,
		VAD:       c.deps.Tracker.GetStats(),
		Transport: c.deps.Framer.GetStats(),
	}
	if c.deps.Recorder != nil {
		snap.Recorder = c.deps.Recorder.GetStats()
	}
	return snap
}

// checkLink detects connect and disconnect edges. A disconnect aborts any
// active session and discards buffered inbound bytes.
func (c *Controller) checkLink() {
	up := c.deps.Link.IsConnected()

	c.mu.RLock()
	was := c.linkUp
	c.mu.RUnlock()
	if up == was {
		return
	}

	c.mu.Lock()
	c.linkUp = up
	c.mu.Unlock()

	if c.metrics() != nil {
		c.metrics().RecordLinkChange(up)
	}
	c.deps.Indicators.SetIndicator(IndicatorConnected, up)

	if up {
		c.logger.Info("Link connected")
		c.discardTriggers()
		c.setState(StateIdle)
		return
	}

	c.logger.Warn("Link disconnected")
	c.abortActive("link lost")
	c.deps.Framer.DiscardPending()
	c.setState(StateDisconnected)
}

// handleCommands drains buffered host commands. It returns true when the
// tick should end early because a command consumed it (playback blocks for
// the clip duration).
func (c *Controller) handleCommands(now time.Time) bool {
	for {
		cmd := c.deps.Framer.NextCommand()
		if cmd == nil {
			return false
		}
		if c.metrics() != nil {
			c.metrics().RecordCommand(string(cmd.Kind))
		}

		switch cmd.Kind {
		case protocol.CmdStatus:
			c.sendStatus()

		case protocol.CmdReady, protocol.CmdError:
			c.handleVerdict(cmd.Kind)

		case protocol.CmdPlay:
			if c.currentState() == StateRecording {
				c.logger.Warn("Ignoring play command while recording",
					slog.Uint64("payload_size", uint64(cmd.PayloadSize)))
				continue
			}
			c.handlePlay(cmd)
			return true
		}
	}
}

func (c *Controller) sendStatus() {
	c.mu.RLock()
	status := protocol.StatusResponse{
		State:     c.state.Ordinal(),
		Connected: c.linkUp,
		Recording: c.state == StateRecording,
	}
	c.mu.RUnlock()

	if err := c.deps.Framer.SendStatus(status); err != nil {
		c.logger.Warn("Failed to send status", slog.String("error", err.Error()))
	}
}

// handleVerdict clears the Processing state on the host's R or E byte.
// Outside Processing the verdict is stale and only logged.
func (c *Controller) handleVerdict(kind byte) {
	if c.currentState() != StateProcessing {
		c.logger.Debug("Verdict outside processing ignored", slog.String("command", string(kind)))
		return
	}
	if kind == protocol.CmdError {
		c.logger.Warn("Host reported processing error")
	} else {
		c.logger.Info("Host finished processing")
	}
	c.deps.Indicators.SetIndicator(IndicatorProcessing, false)
	c.setState(StateIdle)
}

// handlePlay receives the size-prefixed payload (or synthesizes the test
// tone for size 0) and plays it. Playback blocks; the state machine shows
// Playing for its duration.
func (c *Controller) handlePlay(cmd *protocol.Command) {
	var samples []int16

	if cmd.PayloadSize == 0 {
		samples = TestTone(c.config.SampleRate)
		c.logger.Info("Playing test tone")
	} else {
		if int(cmd.PayloadSize) > c.config.MaxInboundBytes {
			c.logger.Warn("Rejecting oversized payload",
				slog.Uint64("payload_size", uint64(cmd.PayloadSize)),
				slog.Int("max_bytes", c.config.MaxInboundBytes))
			c.deps.Framer.DiscardPending()
			return
		}
		payload, err := c.deps.Framer.ReceivePayload(int(cmd.PayloadSize))
		if err != nil {
			c.logger.Warn("Failed to receive playback payload",
				slog.Uint64("payload_size", uint64(cmd.PayloadSize)),
				slog.String("error", err.Error()))
			if c.metrics() != nil {
				c.metrics().ReceiveTimeouts.Inc()
			}
			return
		}
		if c.metrics() != nil {
			c.metrics().PayloadBytes.Observe(float64(len(payload)))
		}
		samples = audio.BlockFromBytes(payload)
	}

	prior := c.currentState()
	c.setState(StatePlaying)
	if err := c.deps.Player.Play(samples, c.config.SampleRate); err != nil {
		c.logger.Warn("Playback failed", slog.String("error", err.Error()))
	} else if c.metrics() != nil {
		c.metrics().Playbacks.Inc()
	}

	// Playback from Processing resumes the wait for the host verdict.
	if prior == StateProcessing {
		c.setState(StateProcessing)
	} else {
		c.setState(StateIdle)
	}
}

// tickIdle samples one block, feeds the VAD, and starts a session on the
// record trigger or on a speech edge. The triggering block is included in
// the new session.
func (c *Controller) tickIdle(now time.Time) {
	block := c.readBlock()
	speaking := c.updateVAD(block, now)

	mode := session.Mode(-1)
	if c.deps.Triggers.PollTrigger(TriggerRecord) {
		mode = session.Manual
	} else if speaking {
		mode = session.Automatic
	}
	if mode < 0 {
		return
	}

	if c.deps.Recorder == nil {
		c.logger.Warn("Cannot record in degraded mode", slog.String("mode", mode.String()))
		return
	}

	sess, started := c.deps.Recorder.Begin(mode, now)
	if !started {
		return
	}
	if c.metrics() != nil {
		c.metrics().RecordingsStarted.Inc()
	}
	if len(block) > 0 {
		sess.AppendBlock(block)
	}
	c.deps.Indicators.SetIndicator(IndicatorRecording, true)
	c.setState(StateRecording)
}

// tickRecording appends one block, keeps the VAD current, and finishes the
// session when its stop condition holds. The cancel trigger aborts without
// transmitting.
func (c *Controller) tickRecording(now time.Time) {
	sess := c.deps.Recorder.Active()
	if sess == nil {
		// No session to serve; recover to Idle.
		c.deps.Indicators.SetIndicator(IndicatorRecording, false)
		c.setState(StateIdle)
		return
	}

	if c.deps.Triggers.PollTrigger(TriggerCancel) {
		c.logger.Info("Recording cancelled",
			slog.String("mode", sess.Mode().String()),
			slog.Int("samples", sess.SampleCount()))
		c.deps.Recorder.Abort()
		if c.metrics() != nil {
			c.metrics().RecordingsAborted.Inc()
		}
		c.deps.Indicators.SetIndicator(IndicatorRecording, false)
		c.setState(StateIdle)
		return
	}

	block := c.readBlock()
	if len(block) > 0 {
		sess.AppendBlock(block)
	}
	c.updateVAD(block, now)

	stop, reason := sess.ShouldStop(c.deps.Tracker.IsSpeaking(), c.deps.Tracker.SilenceFor(now), now)
	if !stop {
		return
	}

	elapsed := sess.Elapsed(now)
	finished, valid := c.deps.Recorder.Finish(now)
	c.deps.Indicators.SetIndicator(IndicatorRecording, false)
	if c.metrics() != nil {
		c.metrics().RecordRecordingFinished(valid, elapsed.Seconds(), finished.SampleCount())
	}

	if !valid {
		c.logger.Info("Recording discarded as too short",
			slog.String("reason", reason.String()),
			slog.Int("samples", finished.SampleCount()),
			slog.Duration("elapsed", elapsed))
		c.setState(StateIdle)
		return
	}

	c.logger.Info("Recording finished",
		slog.String("mode", finished.Mode().String()),
		slog.String("reason", reason.String()),
		slog.Int("samples", finished.SampleCount()),
		slog.Duration("elapsed", elapsed))

	c.dumpRecording(finished.Store())
	c.transmit(finished.Store())
}

// transmit streams the finished recording to the host and moves to
// Processing. A link loss during the send is recovered by the next tick's
// edge detection.
func (c *Controller) transmit(store *audio.RingStore) {
	c.setState(StateProcessing)
	c.deps.Indicators.SetIndicator(IndicatorProcessing, true)

	start := c.deps.Clock.Now()
	before := c.deps.Framer.GetStats()
	err := c.deps.Framer.SendRecording(store, c.config.SampleRate)
	if c.metrics() != nil {
		after := c.deps.Framer.GetStats()
		c.metrics().ChunksSent.Add(float64(after.ChunksSent - before.ChunksSent))
		c.metrics().BytesSent.Add(float64(after.BytesSent - before.BytesSent))
	}
	if err != nil {
		c.logger.Warn("Failed to send recording", slog.String("error", err.Error()))
		if c.metrics() != nil {
			c.metrics().SendAborts.Inc()
		}
		c.deps.Indicators.SetIndicator(IndicatorProcessing, false)
		c.setState(StateIdle)
		return
	}
	if c.metrics() != nil {
		c.metrics().TransportDuration.Observe(c.deps.Clock.Now().Sub(start).Seconds())
	}
}

// discardTriggers consumes any latched press edges. Pressing a trigger
// while the link is down is ignored, never deferred into a session after
// reconnect.
func (c *Controller) discardTriggers() {
	c.deps.Triggers.PollTrigger(TriggerRecord)
	c.deps.Triggers.PollTrigger(TriggerCancel)
}

// abortActive discards any session in flight.
func (c *Controller) abortActive(cause string) {
	if c.deps.Recorder == nil || c.deps.Recorder.Active() == nil {
		return
	}
	c.logger.Warn("Aborting active recording", slog.String("cause", cause))
	c.deps.Recorder.Abort()
	if c.metrics() != nil {
		c.metrics().RecordingsAborted.Inc()
	}
	c.deps.Indicators.SetIndicator(IndicatorRecording, false)
	c.deps.Indicators.SetIndicator(IndicatorProcessing, false)
}

// updateVAD feeds one block into the tracker and records block and
// utterance-edge metrics. The no-data sentinel still reaches the tracker so
// the silence hysteresis keeps running when the microphone stalls, but it
// reports not-speaking here so a stalled microphone can never start a
// capture.
func (c *Controller) updateVAD(block audio.Block, now time.Time) bool {
	level := audio.Level(block)

	wasSpeaking := c.deps.Tracker.IsSpeaking()
	speaking := c.deps.Tracker.Update(level, now)
	if c.metrics() != nil {
		c.metrics().RecordBlock(speaking)
		if speaking && !wasSpeaking {
			c.metrics().Utterances.Inc()
		}
	}

	if level == audio.LevelNoData {
		return false
	}
	return speaking
}

func (c *Controller) readBlock() audio.Block {
	block, err := c.deps.Microphone.ReadBlock(c.config.ReadTimeout)
	if err != nil {
		c.logger.Debug("Microphone read failed", slog.String("error", err.Error()))
		return nil
	}
	return block
}

// dumpRecording writes the finished capture as a WAV file when a dump
// directory is configured.
func (c *Controller) dumpRecording(store *audio.RingStore) {
	if c.config.DumpDir == "" {
		return
	}
	data, err := audio.EncodeWAV(store.Samples(), c.config.SampleRate)
	if err != nil {
		c.logger.Warn("Failed to encode capture dump", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	c.dumpSeq++
	seq := c.dumpSeq
	c.mu.Unlock()

	name := fmt.Sprintf("capture_%s_%04d.wav", c.deps.Clock.Now().Format("20060102_150405"), seq)
	path := filepath.Join(c.config.DumpDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.logger.Warn("Failed to write capture dump",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("Capture dump written", slog.String("path", path))
}

func (c *Controller) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.logger.Debug("State changed",
			slog.String("from", prev.String()),
			slog.String("to", next.String()))
		c.showState(next)
	}
}

func (c *Controller) showState(s State) {
	line1, line2 := StatusLines(s)
	c.deps.Indicators.ShowLines(line1, line2)
}

func (c *Controller) metrics() *metrics.Metrics {
	return c.deps.Metrics
}
