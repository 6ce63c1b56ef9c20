// Package watch turns files dropped into an inbox directory into tracked entries.
package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/extract"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/storage"
	"github.com/filedeck/backend/internal/tracker"
)

const (
	tick   = 250 * time.Millisecond
	settle = 300 * time.Millisecond
)

// ErrBadPattern is returned for include patterns doublestar cannot parse.
var ErrBadPattern = errors.New("invalid include pattern")

// Saver stores file content.
type Saver interface {
	Save(name string, r io.Reader) (*storage.Blob, error)
}

// Adder creates tracked entries.
type Adder interface {
	AddFiles(files []tracker.NewFile) ([]models.FileEntry, error)
}

// Inbox watches a directory and ingests files whose base name matches one
// of the include patterns. An empty pattern list accepts everything.
// Ingested files are removed from the inbox.
type Inbox struct {
	dir      string
	patterns []string
	store    Saver
	adder    Adder
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewInbox validates the patterns and creates the inbox directory.
func NewInbox(dir string, patterns []string, store Saver, adder Adder, log zerolog.Logger) (*Inbox, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Errorf("creating inbox directory: %w", err)
	}
	return &Inbox{
		dir:      dir,
		patterns: patterns,
		store:    store,
		adder:    adder,
		log:      log.With().Str("component", "watch").Str("dir", dir).Logger(),
		pending:  make(map[string]time.Time),
	}, nil
}

// Matches reports whether a file name is accepted by the include patterns.
// Hidden and partially written files are never accepted.
func (in *Inbox) Matches(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	if len(in.patterns) == 0 {
		return true
	}
	lower := strings.ToLower(base)
	for _, p := range in.patterns {
		if ok, _ := doublestar.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}

// Run watches the inbox until ctx is cancelled. Files already present are
// ingested first.
func (in *Inbox) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return errors.Errorf("watching %s: %w", in.dir, err)
	}
	in.log.Info().Strs("patterns", in.patterns).Msg("watching inbox")

	in.scan()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if in.Matches(ev.Name) {
					in.touch(ev.Name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.log.Warn().Err(err).Msg("watch error")
		case now := <-ticker.C:
			for _, path := range in.stable(now) {
				in.ingestLogged(path)
			}
		}
	}
}

func (in *Inbox) scan() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.log.Warn().Err(err).Msg("reading inbox")
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && in.Matches(e.Name()) {
			in.ingestLogged(filepath.Join(in.dir, e.Name()))
		}
	}
}

func (in *Inbox) touch(path string) {
	in.mu.Lock()
	in.pending[path] = time.Now()
	in.mu.Unlock()
}

// stable returns the pending paths that have not changed for the settle period.
func (in *Inbox) stable(now time.Time) []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	var ready []string
	for path, seen := range in.pending {
		if now.Sub(seen) > settle {
			ready = append(ready, path)
			delete(in.pending, path)
		}
	}
	return ready
}

func (in *Inbox) ingestLogged(path string) {
	entry, err := in.Ingest(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		in.log.Error().Err(err).Str("file", filepath.Base(path)).Msg("ingest failed")
		return
	}
	in.log.Info().Str("id", entry.ID).Str("file", entry.Name).Msg("file ingested")
}

// Ingest stores one file, creates its entry and removes it from the inbox.
func (in *Inbox) Ingest(path string) (models.FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.FileEntry{}, errors.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileEntry{}, errors.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return models.FileEntry{}, errors.Errorf("%s is a directory", path)
	}

	mime, r, err := extract.DetectReader(f)
	if err != nil {
		return models.FileEntry{}, errors.Errorf("sniffing %s: %w", path, err)
	}

	name := filepath.Base(path)
	blob, err := in.store.Save(name, r)
	if err != nil {
		return models.FileEntry{}, errors.Errorf("storing %s: %w", name, err)
	}

	entries, err := in.adder.AddFiles([]tracker.NewFile{{
		Name:      name,
		SizeBytes: blob.Size,
		MimeType:  mime,
		BlobID:    blob.ID,
	}})
	if err != nil {
		return models.FileEntry{}, err
	}

	f.Close()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.log.Warn().Err(err).Str("file", name).Msg("could not remove ingested file")
	}
	return entries[0], nil
}
