package link

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/if-else-master/AI-VoiceTransMic/internal/config"
)

const (
	inboundQueueSize    = 256
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// WebSocketLink carries the audio transport over a websocket connection to
// the host. Chunks map to binary messages. The link dials in the
// background and keeps retrying with backoff after a drop, so the state
// machine sees connectivity come and go through IsConnected.
type WebSocketLink struct {
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool

	inbound chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWebSocketLink creates a websocket link. Start must be called before
// the link reports connectivity.
func NewWebSocketLink(cfg config.WebSocketConfig, logger *slog.Logger) (*WebSocketLink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketLink{
		url:          cfg.URL,
		dialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		writeTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		logger:       logger.With(slog.String("link", "websocket")),
		inbound:      make(chan []byte, inboundQueueSize),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the background dial and read loop.
func (l *WebSocketLink) Start() {
	l.wg.Add(1)
	go l.run()
}

// Close tears the link down and waits for the background loop.
func (l *WebSocketLink) Close() error {
	close(l.done)
	l.dropConn()
	l.wg.Wait()
	return nil
}

// IsConnected reports whether a dialed connection is currently up.
func (l *WebSocketLink) IsConnected() bool {
	return l.connected.Load()
}

// SendChunk writes one binary message. Ordering is guaranteed by the
// single connection; a write failure drops the connection so the next
// IsConnected poll sees the loss.
func (l *WebSocketLink) SendChunk(data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	if l.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		l.logger.Warn("Write failed, dropping connection", slog.String("error", err.Error()))
		l.dropConn()
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

// Recv returns the next inbound delivery, or nil when none is queued.
func (l *WebSocketLink) Recv() []byte {
	select {
	case data := <-l.inbound:
		return data
	default:
		return nil
	}
}

// run dials, pumps reads until the connection fails, then retries with
// exponential backoff.
func (l *WebSocketLink) run() {
	defer l.wg.Done()

	backoff := reconnectMinBackoff
	for {
		select {
		case <-l.done:
			return
		default:
		}

		conn, err := l.dial()
		if err != nil {
			l.logger.Debug("Dial failed",
				slog.String("url", l.url),
				slog.Duration("retry_in", backoff),
				slog.String("error", err.Error()))
			select {
			case <-l.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
			continue
		}

		backoff = reconnectMinBackoff
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		l.connected.Store(true)
		l.logger.Info("Connected", slog.String("url", l.url))

		l.readPump(conn)
		l.dropConn()
	}
}

func (l *WebSocketLink) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: l.dialTimeout}
	conn, _, err := dialer.Dial(l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", l.url, err)
	}
	return conn, nil
}

// readPump delivers inbound binary messages until the connection errors.
// Text messages are ignored; a full queue drops the delivery.
func (l *WebSocketLink) readPump(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Warn("Read failed", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case l.inbound <- data:
		default:
			l.logger.Warn("Inbound queue full, dropping delivery", slog.Int("bytes", len(data)))
		}
	}
}

func (l *WebSocketLink) dropConn() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	l.connected.Store(false)
	if conn != nil {
		conn.Close()
	}
}
