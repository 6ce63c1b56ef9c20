// Package channel receives out-of-band file status updates from the remote service.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
)

// ErrConnected is returned by Connect on a channel that is already running.
var ErrConnected = errors.New("channel already connected")

// Channel is a source of status updates with an explicit lifecycle.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Updates returns the stream of the current connection. It is closed on Disconnect.
	Updates() <-chan models.StatusUpdate
}

// fileStatusEvent is the event name carrying status updates.
const fileStatusEvent = "fileStatus"

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeUpdate parses a status frame. It accepts an {"event","data"} envelope,
// a socket.io style ["fileStatus", {...}] array or a bare update object.
func DecodeUpdate(frame []byte) (models.StatusUpdate, bool) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return models.StatusUpdate{}, false
	}

	switch frame[0] {
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(frame, &parts); err != nil || len(parts) < 2 {
			return models.StatusUpdate{}, false
		}
		var name string
		if err := json.Unmarshal(parts[0], &name); err != nil || name != fileStatusEvent {
			return models.StatusUpdate{}, false
		}
		return decodeBare(parts[1])
	case '{':
		var env envelope
		if err := json.Unmarshal(frame, &env); err == nil && env.Event != "" {
			if env.Event != fileStatusEvent {
				return models.StatusUpdate{}, false
			}
			return decodeBare(env.Data)
		}
		return decodeBare(frame)
	}
	return models.StatusUpdate{}, false
}

func decodeBare(data []byte) (models.StatusUpdate, bool) {
	var u models.StatusUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return models.StatusUpdate{}, false
	}
	if u.FileID == "" {
		return models.StatusUpdate{}, false
	}
	if _, ok := u.Status.Local(); !ok {
		return models.StatusUpdate{}, false
	}
	return u, true
}

// pump runs one producer goroutine per connection and owns its output channel.
type pump struct {
	mu      sync.Mutex
	updates chan models.StatusUpdate
	cancel  context.CancelFunc
	done    chan struct{}
}

func (p *pump) start(ctx context.Context, run func(ctx context.Context, out chan<- models.StatusUpdate)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.StatusUpdate, 64)
	done := make(chan struct{})
	p.updates = out
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		defer close(out)
		run(ctx, out)
	}()
	return nil
}

func (p *pump) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *pump) stream() <-chan models.StatusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates
}

func send(ctx context.Context, out chan<- models.StatusUpdate, u models.StatusUpdate) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
