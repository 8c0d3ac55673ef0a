package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Link backend selection values.
const (
	LinkBackendWebSocket = "websocket"
	LinkBackendMQTT      = "mqtt"
)

// Config represents the complete device controller configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Link      LinkConfig      `yaml:"link"`
	HTTP      HTTPConfig      `yaml:"http"`
	Debug     DebugConfig     `yaml:"debug"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains control loop parameters.
type DeviceConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"` // cadence of the control loop
}

// AudioConfig contains the sampling parameters shared with the host.
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	BlockSize     int `yaml:"block_size"`      // samples per microphone read
	ReadTimeoutMs int `yaml:"read_timeout_ms"` // bound on one blocking block read
}

// VADConfig contains voice activity detection parameters.
type VADConfig struct {
	SilenceThreshold int     `yaml:"silence_threshold"` // mean-abs amplitude floor for speech
	SilenceHold      float64 `yaml:"silence_hold"`      // seconds of quiet before speech ends
}

// RecordingConfig contains session duration policy.
type RecordingConfig struct {
	ManualDuration    float64 `yaml:"manual_duration"`     // seconds, fixed manual window
	AutoChunkDuration float64 `yaml:"auto_chunk_duration"` // seconds, automatic chunk boundary
	MaxDuration       float64 `yaml:"max_duration"`        // seconds, ring store sizing target
	MinValidDuration  float64 `yaml:"min_valid_duration"`  // seconds, validity floor
	MinValidSamples   int     `yaml:"min_valid_samples"`   // samples, validity floor
	MinCapacity       float64 `yaml:"min_capacity"`        // seconds, allocation ladder floor
}

// TransportConfig contains chunked send/receive parameters.
type TransportConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`        // bytes per link delivery
	WarmupChunks    int     `yaml:"warmup_chunks"`     // chunks paced at the warmup delay
	WarmupDelayMs   int     `yaml:"warmup_delay_ms"`   // per-chunk delay during warmup
	ChunkDelayMs    int     `yaml:"chunk_delay_ms"`    // per-chunk delay after warmup
	ReceiveTimeout  float64 `yaml:"receive_timeout"`   // seconds, inbound payload deadline
	ReceivePollMs   int     `yaml:"receive_poll_ms"`   // poll interval while accumulating
	MaxInboundBytes int     `yaml:"max_inbound_bytes"` // cap on a size-prefixed payload
}

// LinkConfig selects and configures the wireless link backend.
type LinkConfig struct {
	Backend   string          `yaml:"backend"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// WebSocketConfig configures the websocket link backend.
type WebSocketConfig struct {
	URL          string `yaml:"url"`
	DialTimeout  int    `yaml:"dial_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// MQTTConfig configures the MQTT link backend.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	UplinkTopic   string `yaml:"uplink_topic"`   // device -> host
	DownlinkTopic string `yaml:"downlink_topic"` // host -> device
	QoS           int    `yaml:"qos"`
}

// HTTPConfig configures the read-only ops endpoint.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// DebugConfig contains optional diagnostics.
type DebugConfig struct {
	DumpDir string `yaml:"dump_dir"` // write finished recordings as WAV when set
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration matching the device firmware
// constants. A config file only needs to override what differs.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			TickIntervalMs: 10,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			BlockSize:     1024,
			ReadTimeoutMs: 100,
		},
		VAD: VADConfig{
			SilenceThreshold: 500,
			SilenceHold:      1.0,
		},
		Recording: RecordingConfig{
			ManualDuration:    5.0,
			AutoChunkDuration: 2.0,
			MaxDuration:       10.0,
			MinValidDuration:  0.1,
			MinValidSamples:   100,
			MinCapacity:       1.0,
		},
		Transport: TransportConfig{
			ChunkSize:       20,
			WarmupChunks:    16,
			WarmupDelayMs:   15,
			ChunkDelayMs:    10,
			ReceiveTimeout:  10.0,
			ReceivePollMs:   5,
			MaxInboundBytes: 1 << 20,
		},
		Link: LinkConfig{
			Backend: LinkBackendWebSocket,
			WebSocket: WebSocketConfig{
				URL:          "ws://127.0.0.1:8780/link",
				DialTimeout:  10,
				WriteTimeout: 5,
			},
			MQTT: MQTTConfig{
				Broker:        "tcp://127.0.0.1:1883",
				ClientID:      "voicemic-device",
				UplinkTopic:   "voicemic/uplink",
				DownlinkTopic: "voicemic/downlink",
				QoS:           1,
			},
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8781,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file at path, overlays it on the defaults,
// and validates the result. An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("link config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates device loop configuration.
func (d *DeviceConfig) Validate() error {
	if d.TickIntervalMs < 1 || d.TickIntervalMs > 1000 {
		return fmt.Errorf("tick_interval_ms must be between 1 and 1000, got %d", d.TickIntervalMs)
	}

	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 44100, 48000:
	default:
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 44100, 48000], got %d", a.SampleRate)
	}

	if a.BlockSize < 64 || a.BlockSize > 8192 {
		return fmt.Errorf("block_size must be between 64 and 8192 samples, got %d", a.BlockSize)
	}

	if a.ReadTimeoutMs < 1 {
		return fmt.Errorf("read_timeout_ms must be at least 1, got %d", a.ReadTimeoutMs)
	}

	return nil
}

// Validate validates VAD configuration.
func (v *VADConfig) Validate() error {
	if v.SilenceThreshold < 1 || v.SilenceThreshold > 32767 {
		return fmt.Errorf("silence_threshold must be between 1 and 32767, got %d", v.SilenceThreshold)
	}

	if v.SilenceHold <= 0 {
		return fmt.Errorf("silence_hold must be positive, got %f", v.SilenceHold)
	}

	return nil
}

// Validate validates recording policy configuration.
func (r *RecordingConfig) Validate() error {
	if r.ManualDuration <= 0 {
		return fmt.Errorf("manual_duration must be positive, got %f", r.ManualDuration)
	}

	if r.AutoChunkDuration <= 0 {
		return fmt.Errorf("auto_chunk_duration must be positive, got %f", r.AutoChunkDuration)
	}

	if r.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive, got %f", r.MaxDuration)
	}

	if r.MinValidDuration <= 0 {
		return fmt.Errorf("min_valid_duration must be positive, got %f", r.MinValidDuration)
	}

	if r.MinValidSamples < 1 {
		return fmt.Errorf("min_valid_samples must be at least 1, got %d", r.MinValidSamples)
	}

	if r.MinCapacity <= 0 || r.MinCapacity > r.MaxDuration {
		return fmt.Errorf("min_capacity must be in (0, max_duration], got %f", r.MinCapacity)
	}

	return nil
}

// Validate validates transport configuration.
func (t *TransportConfig) Validate() error {
	if t.ChunkSize < 2 || t.ChunkSize > 4096 {
		return fmt.Errorf("chunk_size must be between 2 and 4096 bytes, got %d", t.ChunkSize)
	}

	if t.WarmupChunks < 0 {
		return fmt.Errorf("warmup_chunks cannot be negative, got %d", t.WarmupChunks)
	}

	if t.WarmupDelayMs < 0 || t.ChunkDelayMs < 0 {
		return fmt.Errorf("chunk pacing delays cannot be negative, got warmup=%d chunk=%d",
			t.WarmupDelayMs, t.ChunkDelayMs)
	}

	if t.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive_timeout must be positive, got %f", t.ReceiveTimeout)
	}

	if t.ReceivePollMs < 1 {
		return fmt.Errorf("receive_poll_ms must be at least 1, got %d", t.ReceivePollMs)
	}

	if t.MaxInboundBytes < 1024 {
		return fmt.Errorf("max_inbound_bytes must be at least 1024, got %d", t.MaxInboundBytes)
	}

	return nil
}

// Validate validates link configuration.
func (l *LinkConfig) Validate() error {
	switch l.Backend {
	case LinkBackendWebSocket:
		if l.WebSocket.URL == "" {
			return fmt.Errorf("websocket url cannot be empty")
		}
		if l.WebSocket.DialTimeout < 1 {
			return fmt.Errorf("websocket dial_timeout must be at least 1 second, got %d", l.WebSocket.DialTimeout)
		}
		if l.WebSocket.WriteTimeout < 1 {
			return fmt.Errorf("websocket write_timeout must be at least 1 second, got %d", l.WebSocket.WriteTimeout)
		}
	case LinkBackendMQTT:
		if l.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker cannot be empty")
		}
		if l.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt client_id cannot be empty")
		}
		if l.MQTT.UplinkTopic == "" || l.MQTT.DownlinkTopic == "" {
			return fmt.Errorf("mqtt uplink_topic and downlink_topic cannot be empty")
		}
		if l.MQTT.QoS < 0 || l.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", l.MQTT.QoS)
		}
	default:
		return fmt.Errorf("backend must be '%s' or '%s', got '%s'",
			LinkBackendWebSocket, LinkBackendMQTT, l.Backend)
	}

	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTickInterval returns the control loop cadence as a time.Duration.
func (d *DeviceConfig) GetTickInterval() time.Duration {
	return time.Duration(d.TickIntervalMs) * time.Millisecond
}

// GetReadTimeout returns the microphone read bound as a time.Duration.
func (a *AudioConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutMs) * time.Millisecond
}

// GetSilenceHold returns the silence hold-off as a time.Duration.
func (v *VADConfig) GetSilenceHold() time.Duration {
	return time.Duration(v.SilenceHold * float64(time.Second))
}

// GetManualDuration returns the manual recording window as a time.Duration.
func (r *RecordingConfig) GetManualDuration() time.Duration {
	return time.Duration(r.ManualDuration * float64(time.Second))
}

// GetAutoChunkDuration returns the automatic chunk boundary as a time.Duration.
func (r *RecordingConfig) GetAutoChunkDuration() time.Duration {
	return time.Duration(r.AutoChunkDuration * float64(time.Second))
}

// GetMaxDuration returns the ring store sizing target as a time.Duration.
func (r *RecordingConfig) GetMaxDuration() time.Duration {
	return time.Duration(r.MaxDuration * float64(time.Second))
}

// GetMinValidDuration returns the validity duration floor as a time.Duration.
func (r *RecordingConfig) GetMinValidDuration() time.Duration {
	return time.Duration(r.MinValidDuration * float64(time.Second))
}

// GetWarmupDelay returns the warmup chunk pacing delay as a time.Duration.
func (t *TransportConfig) GetWarmupDelay() time.Duration {
	return time.Duration(t.WarmupDelayMs) * time.Millisecond
}

// GetChunkDelay returns the steady-state chunk pacing delay as a time.Duration.
func (t *TransportConfig) GetChunkDelay() time.Duration {
	return time.Duration(t.ChunkDelayMs) * time.Millisecond
}

// GetReceiveTimeout returns the inbound payload deadline as a time.Duration.
func (t *TransportConfig) GetReceiveTimeout() time.Duration {
	return time.Duration(t.ReceiveTimeout * float64(time.Second))
}

// GetReceivePoll returns the accumulation poll interval as a time.Duration.
func (t *TransportConfig) GetReceivePoll() time.Duration {
	return time.Duration(t.ReceivePollMs) * time.Millisecond
}
