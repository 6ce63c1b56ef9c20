package channel

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/remote"
)

// Lister pages through the remote file listing.
type Lister interface {
	ListAll(ctx context.Context, pageSize int) ([]remote.FileResponse, error)
}

// Poller turns periodic listings into status updates. Every listed file is
// emitted on every poll; the receiver drops updates that change nothing.
type Poller struct {
	lister   Lister
	interval time.Duration
	pageSize int
	log      zerolog.Logger

	pump
}

// NewPoller creates a polling channel.
func NewPoller(lister Lister, interval time.Duration, pageSize int, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Poller{
		lister:   lister,
		interval: interval,
		pageSize: pageSize,
		log:      log.With().Str("component", "channel").Str("kind", "poll").Logger(),
	}
}

// Connect starts polling. The first poll runs immediately.
func (p *Poller) Connect(ctx context.Context) error {
	return p.start(ctx, func(ctx context.Context, out chan<- models.StatusUpdate) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			if !p.poll(ctx, out) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func (p *Poller) poll(ctx context.Context, out chan<- models.StatusUpdate) bool {
	items, err := p.lister.ListAll(ctx, p.pageSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.log.Warn().Err(err).Msg("poll failed")
		return true
	}

	for _, item := range items {
		u := models.StatusUpdate{FileID: item.ID, Status: item.Status, Error: item.Error, Summary: item.Summary}
		if !send(ctx, out, u) {
			return false
		}
	}
	return true
}

// Disconnect stops polling.
func (p *Poller) Disconnect() error {
	p.stop()
	return nil
}

// Updates returns the stream of the current polling run.
func (p *Poller) Updates() <-chan models.StatusUpdate {
	return p.stream()
}
