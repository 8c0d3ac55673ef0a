package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
	"github.com/if-else-master/AI-VoiceTransMic/internal/config"
	"github.com/if-else-master/AI-VoiceTransMic/internal/device"
	"github.com/if-else-master/AI-VoiceTransMic/internal/link"
	"github.com/if-else-master/AI-VoiceTransMic/internal/metrics"
	"github.com/if-else-master/AI-VoiceTransMic/internal/server"
	"github.com/if-else-master/AI-VoiceTransMic/internal/session"
	"github.com/if-else-master/AI-VoiceTransMic/internal/transport"
	"github.com/if-else-master/AI-VoiceTransMic/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	sourcePath := flag.String("source", "", "WAV file replayed as microphone input (silence when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("Starting voice microphone controller",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("link_backend", cfg.Link.Backend))

	m := metrics.NewMetrics()

	// Audio store with the fallback ladder. Failure means degraded mode,
	// not a crash: the device still connects and answers commands.
	var recorder *session.Recorder
	store, err := audio.AllocateRingStore(
		int(float64(cfg.Audio.SampleRate)*cfg.Recording.MaxDuration),
		int(float64(cfg.Audio.SampleRate)*cfg.Recording.MinCapacity))
	if err != nil {
		logger.Error("Audio store allocation failed, recording disabled",
			slog.String("error", err.Error()))
	} else {
		recorder, err = session.NewRecorder(store, session.Policy{
			ManualDuration:    cfg.Recording.GetManualDuration(),
			AutoChunkDuration: cfg.Recording.GetAutoChunkDuration(),
			MinValidDuration:  cfg.Recording.GetMinValidDuration(),
			MinValidSamples:   cfg.Recording.MinValidSamples,
			SilenceHold:       cfg.VAD.GetSilenceHold(),
			SampleRate:        cfg.Audio.SampleRate,
		}, logger)
		if err != nil {
			logger.Error("Failed to create recorder", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Audio store allocated",
			slog.Int("capacity_samples", store.Capacity()))
	}

	tracker, err := vad.NewTracker(cfg.VAD.SilenceThreshold, cfg.VAD.GetSilenceHold(), logger)
	if err != nil {
		logger.Error("Failed to create voice activity tracker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	wireless, cleanup, err := buildLink(cfg.Link, logger)
	if err != nil {
		logger.Error("Failed to create link", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	clock := transport.RealClock()
	framer, err := transport.NewFramer(wireless, clock, transport.Config{
		ChunkSize:      cfg.Transport.ChunkSize,
		WarmupChunks:   cfg.Transport.WarmupChunks,
		WarmupDelay:    cfg.Transport.GetWarmupDelay(),
		ChunkDelay:     cfg.Transport.GetChunkDelay(),
		ReceiveTimeout: cfg.Transport.GetReceiveTimeout(),
		ReceivePoll:    cfg.Transport.GetReceivePoll(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create transport framer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mic, sampleRate := buildMicrophone(*sourcePath, cfg.Audio, logger)
	if sampleRate != 0 && sampleRate != cfg.Audio.SampleRate {
		logger.Warn("Source sample rate differs from configured rate",
			slog.Int("source", sampleRate),
			slog.Int("configured", cfg.Audio.SampleRate))
	}

	if cfg.Debug.DumpDir != "" {
		if err := os.MkdirAll(cfg.Debug.DumpDir, 0o755); err != nil {
			logger.Warn("Failed to create dump directory",
				slog.String("path", cfg.Debug.DumpDir),
				slog.String("error", err.Error()))
			cfg.Debug.DumpDir = ""
		}
	}

	controller, err := device.NewController(device.Config{
		TickInterval:    cfg.Device.GetTickInterval(),
		SampleRate:      cfg.Audio.SampleRate,
		ReadTimeout:     cfg.Audio.GetReadTimeout(),
		MaxInboundBytes: cfg.Transport.MaxInboundBytes,
		DumpDir:         cfg.Debug.DumpDir,
	}, device.Deps{
		Link:       wireless,
		Framer:     framer,
		Recorder:   recorder,
		Tracker:    tracker,
		Microphone: mic,
		Indicators: device.NewLogIndicators(logger),
		Triggers:   device.NewStdinTriggers(os.Stdin, logger),
		Player:     device.NewLogPlayer(clock, logger),
		Clock:      clock,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to create device controller", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var ops *server.OpsServer
	if cfg.HTTP.Enabled {
		ops = server.NewOpsServer(cfg.HTTP, controller, logger)
		ops.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go controller.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	cancel()

	if ops != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := ops.Stop(shutdownCtx); err != nil {
			logger.Warn("Ops server shutdown failed", slog.String("error", err.Error()))
		}
	}

	snap := controller.Snapshot()
	logger.Info("Final statistics",
		slog.Uint64("ticks", snap.Ticks),
		slog.Uint64("recordings_started", snap.Recorder.Started),
		slog.Uint64("recordings_valid", snap.Recorder.Valid),
		slog.Uint64("recordings_discarded", snap.Recorder.Discarded),
		slog.Uint64("chunks_sent", snap.Transport.ChunksSent),
		slog.Uint64("bytes_sent", snap.Transport.BytesSent))
	logger.Info("Shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// buildLink selects the configured backend. The returned cleanup closes it.
func buildLink(cfg config.LinkConfig, logger *slog.Logger) (transport.Link, func(), error) {
	switch cfg.Backend {
	case config.LinkBackendWebSocket:
		l, err := link.NewWebSocketLink(cfg.WebSocket, logger)
		if err != nil {
			return nil, nil, err
		}
		l.Start()
		return l, func() { l.Close() }, nil
	case config.LinkBackendMQTT:
		l, err := link.NewMQTTLink(cfg.MQTT, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { l.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown link backend %q", cfg.Backend)
	}
}

func buildMicrophone(sourcePath string, cfg config.AudioConfig, logger *slog.Logger) (device.Microphone, int) {
	if sourcePath == "" {
		return device.NewSilentMicrophone(cfg.BlockSize), 0
	}
	mic, sampleRate, err := device.NewFileMicrophone(sourcePath, cfg.BlockSize)
	if err != nil {
		logger.Warn("Failed to load microphone source, using silence",
			slog.String("path", sourcePath),
			slog.String("error", err.Error()))
		return device.NewSilentMicrophone(cfg.BlockSize), 0
	}
	logger.Info("Microphone source loaded",
		slog.String("path", sourcePath),
		slog.Int("sample_rate", sampleRate))
	return mic, sampleRate
}

// initLogger builds the slog logger from the logging config.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var output *os.File
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler), nil
}
