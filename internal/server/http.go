package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/if-else-master/AI-VoiceTransMic/internal/config"
	"github.com/if-else-master/AI-VoiceTransMic/internal/device"
)

// Snapshotter provides the current device view for the status endpoint.
type Snapshotter interface {
	Snapshot() device.Snapshot
}

// OpsServer exposes health, status, and metrics over HTTP. It never
// participates in the audio path.
type OpsServer struct {
	server *http.Server
	device Snapshotter
	logger *slog.Logger
}

// NewOpsServer creates the ops HTTP server.
func NewOpsServer(cfg config.HTTPConfig, dev Snapshotter, logger *slog.Logger) *OpsServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &OpsServer{
		device: dev,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *OpsServer) Start() {
	s.logger.Info("Ops server started", slog.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Ops server failed", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *OpsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *OpsServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.device.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn("Failed to encode status", slog.String("error", err.Error()))
	}
}
