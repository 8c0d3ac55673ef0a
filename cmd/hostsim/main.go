package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/if-else-master/AI-VoiceTransMic/internal/audio"
	"github.com/if-else-master/AI-VoiceTransMic/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type options struct {
	addr       string
	outDir     string
	echo       bool
	tone       bool
	statusPoll time.Duration
}

func main() {
	opts := options{}
	flag.StringVar(&opts.addr, "addr", ":8090", "listen address")
	flag.StringVar(&opts.outDir, "out", "recordings", "directory for received WAV files")
	flag.BoolVar(&opts.echo, "echo", false, "send each recording back as a playback payload")
	flag.BoolVar(&opts.tone, "tone", false, "request the device test tone after each recording")
	flag.DurationVar(&opts.statusPoll, "status-poll", 0, "status request interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		logger.Error("Failed to create output directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Upgrade failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("Device connected", slog.String("remote", r.RemoteAddr))
		newDeviceSession(conn, opts, logger).run()
	})

	logger.Info("Host simulator listening",
		slog.String("addr", opts.addr),
		slog.String("out", opts.outDir),
		slog.Bool("echo", opts.echo),
		slog.Bool("tone", opts.tone))
	if err := http.ListenAndServe(opts.addr, nil); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// deviceSession reassembles one device connection's uplink stream:
// header frame, then raw PCM chunks until the announced payload is
// complete, interleaved with status responses to our own polls.
type deviceSession struct {
	conn   *websocket.Conn
	opts   options
	logger *slog.Logger

	writeMu sync.Mutex

	buf      []byte
	header   *protocol.Header
	payload  []byte
	received int
	seq      int
}

func newDeviceSession(conn *websocket.Conn, opts options, logger *slog.Logger) *deviceSession {
	return &deviceSession{conn: conn, opts: opts, logger: logger}
}

func (s *deviceSession) run() {
	defer s.conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	if s.opts.statusPoll > 0 {
		go s.statusLoop(stop)
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("Device disconnected", slog.String("error", err.Error()))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.buf = append(s.buf, data...)
		s.consume()
	}
}

// consume drains as much of the reassembly buffer as possible.
func (s *deviceSession) consume() {
	for len(s.buf) > 0 {
		if s.header != nil {
			if !s.consumePayload() {
				return
			}
			continue
		}

		switch s.buf[0] {
		case protocol.HeaderMarker:
			if len(s.buf) < protocol.HeaderFrameSize {
				return
			}
			header, err := protocol.ParseHeader(s.buf[:protocol.HeaderFrameSize])
			if err != nil {
				s.logger.Warn("Bad header frame, skipping byte", slog.String("error", err.Error()))
				s.buf = s.buf[1:]
				continue
			}
			s.buf = s.buf[protocol.HeaderFrameSize:]
			s.header = header
			s.received = 0
			s.logger.Info("Recording announced", slog.String("header", header.String()))

		case protocol.CmdStatus:
			if len(s.buf) < protocol.StatusResponseSize {
				return
			}
			status, err := protocol.ParseStatus(s.buf[:protocol.StatusResponseSize])
			if err != nil {
				s.logger.Warn("Bad status response, skipping byte", slog.String("error", err.Error()))
				s.buf = s.buf[1:]
				continue
			}
			s.buf = s.buf[protocol.StatusResponseSize:]
			s.logger.Info("Device status", slog.String("status", status.String()))

		default:
			s.logger.Warn("Unexpected byte outside recording, skipping",
				slog.String("byte", fmt.Sprintf("0x%02x", s.buf[0])))
			s.buf = s.buf[1:]
		}
	}
}

// consumePayload moves buffered bytes into the in-flight recording and
// finishes it when the announced size is reached. Returns false when the
// buffer is exhausted.
func (s *deviceSession) consumePayload() bool {
	want := s.header.PayloadBytes() - s.received
	n := len(s.buf)
	if n > want {
		n = want
	}
	s.received += n
	s.payload = append(s.payload, s.buf[:n]...)
	s.buf = s.buf[n:]

	if s.received < s.header.PayloadBytes() {
		return false
	}

	s.finishRecording()
	return true
}

func (s *deviceSession) finishRecording() {
	header := s.header
	payload := s.payload
	s.header = nil
	s.payload = nil
	s.received = 0

	samples := audio.BlockFromBytes(payload)
	s.seq++
	name := fmt.Sprintf("recording_%s_%04d.wav", time.Now().Format("20060102_150405"), s.seq)
	path := filepath.Join(s.opts.outDir, name)

	data, err := audio.EncodeWAV(samples, int(header.SampleRate))
	if err != nil {
		s.logger.Warn("Failed to encode recording", slog.String("error", err.Error()))
	} else if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Failed to save recording", slog.String("error", err.Error()))
	} else {
		s.logger.Info("Recording saved",
			slog.String("path", path),
			slog.Int("samples", len(samples)),
			slog.Float64("seconds", float64(len(samples))/float64(header.SampleRate)))
	}

	// Processing verdict, then any configured playback.
	s.send(protocol.EncodeCommand(protocol.Command{Kind: protocol.CmdReady}))

	if s.opts.echo {
		s.logger.Info("Echoing recording back", slog.Int("bytes", len(payload)))
		s.send(protocol.EncodeCommand(protocol.Command{
			Kind:        protocol.CmdPlay,
			PayloadSize: uint32(len(payload)),
		}))
		s.send(payload)
	} else if s.opts.tone {
		s.logger.Info("Requesting test tone")
		s.send(protocol.EncodeCommand(protocol.Command{Kind: protocol.CmdPlay}))
	}
}

func (s *deviceSession) statusLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.statusPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.send(protocol.EncodeCommand(protocol.Command{Kind: protocol.CmdStatus}))
		}
	}
}

func (s *deviceSession) send(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Warn("Write to device failed", slog.String("error", err.Error()))
	}
}
