package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
)

// WebSocket reads status frames from the remote service's socket and
// reconnects after drops.
type WebSocket struct {
	url       string
	token     func() string
	dialer    *websocket.Dialer
	reconnect time.Duration
	log       zerolog.Logger

	pump
}

// NewWebSocket creates a socket channel. token is read on every dial.
func NewWebSocket(url string, token func() string, reconnect time.Duration, log zerolog.Logger) *WebSocket {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &WebSocket{
		url:       url,
		token:     token,
		dialer:    websocket.DefaultDialer,
		reconnect: reconnect,
		log:       log.With().Str("component", "channel").Str("kind", "websocket").Logger(),
	}
}

// wsSession holds the live socket of one Connect call.
type wsSession struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSession) adopt(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		conn.Close()
		return false
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	return true
}

func (s *wsSession) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *wsSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Connect dials once and then keeps reading in the background.
func (w *WebSocket) Connect(ctx context.Context) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	sess := &wsSession{}
	sess.adopt(conn)

	err = w.start(ctx, func(ctx context.Context, out chan<- models.StatusUpdate) {
		// Closing the socket unblocks ReadMessage.
		go func() {
			<-ctx.Done()
			sess.close()
		}()

		for {
			w.read(ctx, sess.current(), out)
			if ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnect):
			}

			conn, err := w.dial(ctx)
			if err != nil {
				w.log.Warn().Err(err).Msg("reconnect failed")
				continue
			}
			if !sess.adopt(conn) {
				return
			}
			w.log.Info().Msg("reconnected")
		}
	})
	if err != nil {
		sess.close()
		return err
	}

	w.log.Info().Str("url", w.url).Msg("connected")
	return nil
}

// Disconnect closes the socket and stops reconnecting.
func (w *WebSocket) Disconnect() error {
	w.stop()
	return nil
}

// Updates returns the stream of the current connection.
func (w *WebSocket) Updates() <-chan models.StatusUpdate {
	return w.stream()
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if w.token != nil {
		if tok := w.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Errorf("dialing status socket: unauthorized (%d)", resp.StatusCode)
		}
		return nil, errors.Errorf("dialing status socket: %w", err)
	}
	return conn, nil
}

func (w *WebSocket) read(ctx context.Context, conn *websocket.Conn, out chan<- models.StatusUpdate) {
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("status socket closed")
			}
			return
		}

		u, ok := DecodeUpdate(data)
		if !ok {
			w.log.Debug().Bytes("frame", data).Msg("ignoring frame")
			continue
		}
		if !send(ctx, out, u) {
			return
		}
	}
}
