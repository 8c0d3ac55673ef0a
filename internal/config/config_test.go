package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.BlockSize != 1024 {
		t.Errorf("Expected default block size 1024, got %d", cfg.Audio.BlockSize)
	}
	if cfg.Transport.ChunkSize != 20 {
		t.Errorf("Expected default chunk size 20, got %d", cfg.Transport.ChunkSize)
	}
	if cfg.Recording.MinValidSamples != 100 {
		t.Errorf("Expected default validity floor 100 samples, got %d", cfg.Recording.MinValidSamples)
	}
	if cfg.Link.Backend != LinkBackendWebSocket {
		t.Errorf("Expected default websocket backend, got %s", cfg.Link.Backend)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Device.TickIntervalMs != 10 {
		t.Errorf("Expected default tick interval 10ms, got %d", cfg.Device.TickIntervalMs)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	content := `
audio:
  sample_rate: 8000
vad:
  silence_threshold: 800
recording:
  manual_duration: 3.5
link:
  backend: mqtt
  mqtt:
    broker: "tcp://broker.example:1883"
    client_id: "test-device"
    uplink_topic: "up"
    downlink_topic: "down"
    qos: 1
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("Expected overridden sample rate 8000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.VAD.SilenceThreshold != 800 {
		t.Errorf("Expected overridden threshold 800, got %d", cfg.VAD.SilenceThreshold)
	}
	if cfg.Recording.ManualDuration != 3.5 {
		t.Errorf("Expected overridden manual duration 3.5, got %f", cfg.Recording.ManualDuration)
	}
	if cfg.Link.Backend != LinkBackendMQTT {
		t.Errorf("Expected mqtt backend, got %s", cfg.Link.Backend)
	}

	// Untouched sections keep their defaults.
	if cfg.Audio.BlockSize != 1024 {
		t.Errorf("Expected default block size preserved, got %d", cfg.Audio.BlockSize)
	}
	if cfg.Transport.ChunkSize != 20 {
		t.Errorf("Expected default chunk size preserved, got %d", cfg.Transport.ChunkSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("audio: ["), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid defaults",
			mutate:    func(*Config) {},
			expectErr: false,
		},
		{
			name:      "zero tick interval",
			mutate:    func(c *Config) { c.Device.TickIntervalMs = 0 },
			expectErr: true,
		},
		{
			name:      "unsupported sample rate",
			mutate:    func(c *Config) { c.Audio.SampleRate = 22050 },
			expectErr: true,
		},
		{
			name:      "block size too small",
			mutate:    func(c *Config) { c.Audio.BlockSize = 32 },
			expectErr: true,
		},
		{
			name:      "zero silence threshold",
			mutate:    func(c *Config) { c.VAD.SilenceThreshold = 0 },
			expectErr: true,
		},
		{
			name:      "threshold above sample range",
			mutate:    func(c *Config) { c.VAD.SilenceThreshold = 40000 },
			expectErr: true,
		},
		{
			name:      "negative manual duration",
			mutate:    func(c *Config) { c.Recording.ManualDuration = -1 },
			expectErr: true,
		},
		{
			name:      "min capacity above max duration",
			mutate:    func(c *Config) { c.Recording.MinCapacity = 20 },
			expectErr: true,
		},
		{
			name:      "chunk size below one sample",
			mutate:    func(c *Config) { c.Transport.ChunkSize = 1 },
			expectErr: true,
		},
		{
			name:      "tiny inbound cap",
			mutate:    func(c *Config) { c.Transport.MaxInboundBytes = 100 },
			expectErr: true,
		},
		{
			name:      "unknown link backend",
			mutate:    func(c *Config) { c.Link.Backend = "bluetooth" },
			expectErr: true,
		},
		{
			name:      "websocket backend without url",
			mutate:    func(c *Config) { c.Link.WebSocket.URL = "" },
			expectErr: true,
		},
		{
			name: "mqtt backend without broker",
			mutate: func(c *Config) {
				c.Link.Backend = LinkBackendMQTT
				c.Link.MQTT.Broker = ""
			},
			expectErr: true,
		},
		{
			name: "mqtt qos out of range",
			mutate: func(c *Config) {
				c.Link.Backend = LinkBackendMQTT
				c.Link.MQTT.QoS = 3
			},
			expectErr: true,
		},
		{
			name: "http enabled with bad port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 0
			},
			expectErr: true,
		},
		{
			name:      "http disabled ignores port",
			mutate:    func(c *Config) { c.HTTP.Port = 0 },
			expectErr: false,
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			expectErr: true,
		},
		{
			name:      "unknown log format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Default()

	if cfg.Device.GetTickInterval() != 10*time.Millisecond {
		t.Errorf("Expected 10ms tick interval, got %v", cfg.Device.GetTickInterval())
	}
	if cfg.VAD.GetSilenceHold() != time.Second {
		t.Errorf("Expected 1s silence hold, got %v", cfg.VAD.GetSilenceHold())
	}
	if cfg.Recording.GetManualDuration() != 5*time.Second {
		t.Errorf("Expected 5s manual duration, got %v", cfg.Recording.GetManualDuration())
	}
	if cfg.Recording.GetMinValidDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms validity floor, got %v", cfg.Recording.GetMinValidDuration())
	}
	if cfg.Transport.GetWarmupDelay() != 15*time.Millisecond {
		t.Errorf("Expected 15ms warmup delay, got %v", cfg.Transport.GetWarmupDelay())
	}
	if cfg.Transport.GetReceiveTimeout() != 10*time.Second {
		t.Errorf("Expected 10s receive timeout, got %v", cfg.Transport.GetReceiveTimeout())
	}
}
