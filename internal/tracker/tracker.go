// Package tracker owns the in-memory collection of uploaded files and drives
// each one through its processing lifecycle.
package tracker

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/remote"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrNotRetryable    = errors.New("only failed files can be retried")
	ErrNotPending      = errors.New("file is not pending")
	ErrInFlight        = errors.New("file is already being processed")
	ErrInvalidFile     = errors.New("invalid file")
	ErrDuplicateID     = errors.New("file id already in use")
	ErrSyncUnsupported = errors.New("sync requires a server-backed mode")

	// ErrStale marks a continuation whose entry was deleted, retried or reconciled
	// since the work started. Such results are dropped.
	ErrStale = errors.New("stale continuation")
)

const (
	// ReconciledFailureMessage is used when the server reports a failure without a reason.
	ReconciledFailureMessage = "File processing failed"
	// ReconciledSummaryPlaceholder is used when the server reports completion without a summary.
	ReconciledSummaryPlaceholder = "Processing completed"
)

// Placement decides where newly added files go in the collection.
type Placement string

const (
	PlacementPrepend Placement = "prepend"
	PlacementAppend  Placement = "append"
)

// NewFile describes a file handed to AddFiles.
type NewFile struct {
	Name      string
	SizeBytes int64
	MimeType  string
	BlobID    string
}

// Notifier receives user-facing notices.
type Notifier interface {
	Publish(n notify.Notice) notify.Notice
}

// BlobStore is the part of blob storage the tracker and pipelines need.
type BlobStore interface {
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// Strategy advances entries for one operating mode.
type Strategy interface {
	Name() string
	// ServerBacked reports whether a remote service owns the files.
	ServerBacked() bool
	// Run drives a pending entry forward through the Run handle.
	Run(ctx context.Context, run *Run) error
	// Retry prepares a failed entry for another attempt and reports whether
	// the tracker should advance it again.
	Retry(ctx context.Context, entry models.FileEntry) (bool, error)
	// Delete performs any remote side of removing an entry.
	Delete(ctx context.Context, entry models.FileEntry) error
}

// SummaryFetcher is implemented by strategies that can look up a server-side summary.
type SummaryFetcher interface {
	FetchSummary(ctx context.Context, id string) (string, error)
}

// Syncer is implemented by strategies that can list every server-side file.
type Syncer interface {
	ListAll(ctx context.Context) ([]remote.FileResponse, error)
}

// Options configures a Tracker.
type Options struct {
	Placement   Placement
	AutoAdvance bool
	Notifier    Notifier
	Blobs       BlobStore
	Logger      zerolog.Logger
	Now         func() time.Time
}

// EventKind classifies a collection change.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventRekeyed EventKind = "rekeyed"
)

// Event describes one change to the collection.
type Event struct {
	Kind   EventKind         `json:"kind"`
	Entry  models.FileEntry  `json:"entry"`
	From   models.FileStatus `json:"from,omitempty"`
	PrevID string            `json:"prevId,omitempty"`
	At     time.Time         `json:"at"`
}

// Tracker is the authoritative collection of file entries.
type Tracker struct {
	mu       sync.Mutex
	entries  map[string]*models.FileEntry
	order    []string
	inFlight map[string]bool
	subs     map[int]chan Event
	nextSub  int
	closed   bool

	strategy Strategy
	opts     Options
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a tracker that advances entries with strategy.
func New(strategy Strategy, opts Options) *Tracker {
	if opts.Placement == "" {
		opts.Placement = PlacementPrepend
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		entries:  make(map[string]*models.FileEntry),
		inFlight: make(map[string]bool),
		subs:     make(map[int]chan Event),
		strategy: strategy,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "tracker").Str("mode", strategy.Name()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Strategy returns the configured strategy.
func (t *Tracker) Strategy() Strategy {
	return t.strategy
}

// AddFiles creates a pending entry for each file. The whole batch is rejected
// if any file is invalid.
func (t *Tracker) AddFiles(files []NewFile) ([]models.FileEntry, error) {
	for i, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return nil, errors.Errorf("%w: file %d has no name", ErrInvalidFile, i)
		}
		if f.SizeBytes < 0 {
			return nil, errors.Errorf("%w: %s has negative size", ErrInvalidFile, f.Name)
		}
	}

	t.mu.Lock()
	now := t.opts.Now()
	ids := make([]string, 0, len(files))
	created := make([]models.FileEntry, 0, len(files))
	for _, f := range files {
		e := models.NewFileEntry(uuid.New().String(), f.Name, f.SizeBytes, f.MimeType, now)
		e.BlobID = f.BlobID
		t.entries[e.ID] = e
		ids = append(ids, e.ID)
		created = append(created, *e)
	}

	if t.opts.Placement == PlacementAppend {
		t.order = append(t.order, ids...)
	} else {
		t.order = append(ids, t.order...)
	}

	for _, e := range created {
		t.emitLocked(Event{Kind: EventAdded, Entry: e, At: now})
	}
	t.mu.Unlock()

	t.log.Debug().Int("count", len(created)).Msg("files added")

	if t.opts.AutoAdvance {
		for _, e := range created {
			t.spawnAdvance(e.ID)
		}
	}
	return created, nil
}

// Advance drives a pending entry through the strategy. Stage failures are
// recorded on the entry and do not surface here.
func (t *Tracker) Advance(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return errors.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.inFlight[id] {
		t.mu.Unlock()
		return errors.Errorf("%w: %s", ErrInFlight, id)
	}
	if e.Status != models.StatusPending {
		t.mu.Unlock()
		return errors.Errorf("%w: %s is %s", ErrNotPending, id, e.Status)
	}
	t.inFlight[id] = true
	run := &Run{t: t, id: id, attempt: e.Attempt}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inFlight, run.id)
		t.mu.Unlock()
	}()

	if err := t.strategy.Run(ctx, run); err != nil {
		t.fail(run, err)
	}
	return nil
}

// Start checks that an entry can be advanced and advances it in the
// background. It is how entries move when auto-advance is off.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	switch {
	case !ok:
		t.mu.Unlock()
		return errors.Errorf("%w: %s", ErrNotFound, id)
	case t.inFlight[id]:
		t.mu.Unlock()
		return errors.Errorf("%w: %s", ErrInFlight, id)
	case e.Status != models.StatusPending:
		status := e.Status
		t.mu.Unlock()
		return errors.Errorf("%w: %s is %s", ErrNotPending, id, status)
	}
	t.mu.Unlock()

	t.spawnAdvance(id)
	return nil
}

func (t *Tracker) spawnAdvance(id string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if err := t.Advance(t.ctx, id); err != nil {
			t.log.Debug().Err(err).Str("file", id).Msg("advance skipped")
		}
	}()
}

// fail moves an in-progress entry to error and notifies about it.
func (t *Tracker) fail(run *Run, cause error) {
	if errors.Is(cause, ErrStale) {
		return
	}
	if t.ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		return
	}

	t.mu.Lock()
	e, ok := t.entries[run.id]
	if !ok || e.Attempt != run.attempt || !e.Status.InProgress() {
		t.mu.Unlock()
		return
	}
	from := e.Status
	e.Status = models.StatusError
	e.Outcome = models.NewFailed(cause.Error())
	e.UpdatedAt = t.opts.Now()
	snapshot := *e
	t.emitLocked(Event{Kind: EventUpdated, Entry: snapshot, From: from, At: e.UpdatedAt})
	t.mu.Unlock()

	t.log.Warn().Err(cause).Str("file", snapshot.ID).Str("stage", string(from)).Msg("processing failed")
	t.notify(notify.Notice{
		Level:   notify.LevelError,
		Title:   "Processing failed",
		Message: snapshot.Name + ": " + snapshot.ErrorMessage(),
		FileID:  snapshot.ID,
	})

	if errors.Is(cause, remote.ErrUnauthorized) {
		t.notify(notify.Notice{
			Level:   notify.LevelError,
			Title:   "Authentication required",
			Message: "The file service rejected the credentials. Please sign in again.",
			Global:  true,
		})
	}
}

// Retry resets a failed entry to pending and, when auto-advance is on,
// processes it again.
func (t *Tracker) Retry(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		if t.strategy.ServerBacked() {
			t.notify(notify.Notice{Level: notify.LevelError, Title: "Retry failed", Message: "File not found", FileID: id})
			return errors.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}
	if e.Status != models.StatusError {
		t.mu.Unlock()
		return errors.Errorf("%w: %s is %s", ErrNotRetryable, id, e.Status)
	}
	snapshot := *e
	t.mu.Unlock()

	readvance, err := t.strategy.Retry(ctx, snapshot)
	if err != nil {
		t.log.Warn().Err(err).Str("file", id).Msg("retry failed")
		t.notify(notify.Notice{Level: notify.LevelError, Title: "Retry failed", Message: err.Error(), FileID: id})
		return err
	}

	t.mu.Lock()
	e, ok = t.entries[id]
	if !ok || e.Attempt != snapshot.Attempt || e.Status != models.StatusError {
		t.mu.Unlock()
		return nil
	}
	e.Status = models.StatusPending
	e.Outcome = nil
	e.Attempt++
	e.UpdatedAt = t.opts.Now()
	t.emitLocked(Event{Kind: EventUpdated, Entry: *e, From: models.StatusError, At: e.UpdatedAt})
	t.mu.Unlock()

	t.log.Info().Str("file", id).Int("attempt", snapshot.Attempt+1).Msg("retrying")

	if readvance && t.opts.AutoAdvance {
		t.spawnAdvance(id)
	}
	return nil
}

// Delete removes an entry. The local removal always stands. A failed remote
// delete only produces a warning notice.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return errors.Errorf("%w: %s", ErrNotFound, id)
	}
	snapshot := *e
	t.removeLocked(id)
	t.emitLocked(Event{Kind: EventRemoved, Entry: snapshot, At: t.opts.Now()})
	t.mu.Unlock()

	t.dropBlob(snapshot)

	if err := t.strategy.Delete(ctx, snapshot); err != nil {
		t.log.Warn().Err(err).Str("file", id).Msg("remote delete failed")
		t.notify(notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "File removed locally",
			Message: "Server delete failed: " + err.Error(),
			FileID:  id,
		})
	}
	return nil
}

// Reconcile applies an externally reported status. Unknown ids and updates
// that would leave the entry as it is are ignored and report false.
func (t *Tracker) Reconcile(update models.StatusUpdate) bool {
	status, ok := update.Status.Local()
	if !ok {
		t.log.Debug().Str("file", update.FileID).Str("status", string(update.Status)).Msg("ignoring unknown status")
		return false
	}

	t.mu.Lock()
	e, known := t.entries[update.FileID]
	unchanged := known && unchangedBy(*e, status, update)
	t.mu.Unlock()
	if !known || unchanged {
		return false
	}

	update.Summary = strings.TrimSpace(update.Summary)
	if status == models.StatusComplete && update.Summary == "" {
		update.Summary = t.fetchSummary(update.FileID)
	}

	t.mu.Lock()
	e, ok = t.entries[update.FileID]
	if !ok || unchangedBy(*e, status, update) {
		t.mu.Unlock()
		return false
	}
	from := e.Status
	e.Status = status
	switch status {
	case models.StatusComplete:
		e.Outcome = models.Complete{Summary: update.Summary}
	case models.StatusError:
		e.Outcome = reconciledFailure(update.Error)
	default:
		e.Outcome = nil
	}
	e.UpdatedAt = t.opts.Now()
	snapshot := *e
	t.emitLocked(Event{Kind: EventUpdated, Entry: snapshot, From: from, At: e.UpdatedAt})
	t.mu.Unlock()

	if from != status {
		switch status {
		case models.StatusComplete:
			t.notify(notify.Notice{Level: notify.LevelSuccess, Title: "File processed", Message: snapshot.Name + " has been processed", FileID: snapshot.ID})
		case models.StatusError:
			t.notify(notify.Notice{Level: notify.LevelError, Title: "Processing failed", Message: snapshot.Name + ": " + snapshot.ErrorMessage(), FileID: snapshot.ID})
		}
	}
	return true
}

// unchangedBy reports whether applying u with the given local status would
// leave e as it is. A completion without a summary keeps the existing one.
func unchangedBy(e models.FileEntry, status models.FileStatus, u models.StatusUpdate) bool {
	if e.Status != status {
		return false
	}
	switch status {
	case models.StatusComplete:
		summary := strings.TrimSpace(u.Summary)
		return summary == "" || summary == e.Summary()
	case models.StatusError:
		return reconciledFailure(u.Error).Message == e.ErrorMessage()
	}
	return true
}

func reconciledFailure(msg string) models.Failed {
	if strings.TrimSpace(msg) == "" {
		msg = ReconciledFailureMessage
	}
	return models.NewFailed(msg)
}

func (t *Tracker) fetchSummary(id string) string {
	fetcher, ok := t.strategy.(SummaryFetcher)
	if !ok {
		return ReconciledSummaryPlaceholder
	}
	summary, err := fetcher.FetchSummary(t.ctx, id)
	if err != nil {
		t.log.Debug().Err(err).Str("file", id).Msg("summary lookup failed")
	}
	if summary = strings.TrimSpace(summary); summary == "" {
		return ReconciledSummaryPlaceholder
	}
	return summary
}

// Follow reconciles updates until ctx is done or the channel closes.
func (t *Tracker) Follow(ctx context.Context, updates <-chan models.StatusUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			t.Reconcile(u)
		}
	}
}

// Sync pulls the full server-side listing and reconciles it. With hydrate set,
// files the tracker does not know yet are added. The result counts entries
// that were added or actually changed.
func (t *Tracker) Sync(ctx context.Context, hydrate bool) (int, error) {
	syncer, ok := t.strategy.(Syncer)
	if !ok || !t.strategy.ServerBacked() {
		return 0, ErrSyncUnsupported
	}

	items, err := syncer.ListAll(ctx)
	if err != nil {
		return 0, errors.Errorf("listing remote files: %w", err)
	}

	changed := 0
	for _, item := range items {
		if t.Reconcile(models.StatusUpdate{FileID: item.ID, Status: item.Status, Error: item.Error, Summary: item.Summary}) {
			changed++
			continue
		}
		if hydrate && t.hydrate(item) {
			changed++
		}
	}
	return changed, nil
}

func (t *Tracker) hydrate(item remote.FileResponse) bool {
	status, ok := item.Status.Local()
	if !ok {
		return false
	}

	uploaded := item.CreatedAt
	if uploaded.IsZero() {
		uploaded = t.opts.Now()
	}
	e := models.NewFileEntry(item.ID, item.Filename, item.Size, item.Type, uploaded)
	e.Status = status
	e.Confirmed = true
	switch status {
	case models.StatusComplete:
		summary := strings.TrimSpace(item.Summary)
		if summary == "" {
			summary = ReconciledSummaryPlaceholder
		}
		e.Outcome = models.Complete{Summary: summary}
	case models.StatusError:
		e.Outcome = reconciledFailure(item.Error)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[e.ID]; exists {
		return false
	}
	t.entries[e.ID] = e
	t.order = append(t.order, e.ID)
	t.emitLocked(Event{Kind: EventAdded, Entry: *e, At: t.opts.Now()})
	return true
}

// Snapshot returns copies of all entries in collection order.
func (t *Tracker) Snapshot() []models.FileEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.FileEntry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out
}

// Get returns a copy of one entry.
func (t *Tracker) Get(id string) (models.FileEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return models.FileEntry{}, errors.Errorf("%w: %s", ErrNotFound, id)
	}
	return *e, nil
}

// Query filters and sorts a snapshot.
func (t *Tracker) Query(q Query) []models.FileEntry {
	return Apply(t.Snapshot(), q)
}

// Counts returns the number of entries per status.
func (t *Tracker) Counts() map[models.FileStatus]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[models.FileStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	for _, e := range t.entries {
		counts[e.Status]++
	}
	return counts
}

// CleanupTerminal removes finished entries not updated within maxAge.
func (t *Tracker) CleanupTerminal(maxAge time.Duration) int {
	t.mu.Lock()
	now := t.opts.Now()
	cutoff := now.Add(-maxAge)
	var removed []models.FileEntry
	for _, id := range append([]string(nil), t.order...) {
		e := t.entries[id]
		if e.Status.Terminal() && !t.inFlight[id] && e.UpdatedAt.Before(cutoff) {
			removed = append(removed, *e)
			t.removeLocked(id)
			t.emitLocked(Event{Kind: EventRemoved, Entry: *e, At: now})
		}
	}
	t.mu.Unlock()

	for _, e := range removed {
		t.dropBlob(e)
	}
	if len(removed) > 0 {
		t.log.Info().Int("count", len(removed)).Msg("cleaned up finished files")
	}
	return len(removed)
}

// RunCleanup calls CleanupTerminal every interval until ctx is done.
func (t *Tracker) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CleanupTerminal(maxAge)
		}
	}
}

// Subscribe returns a channel of collection events and a function that ends
// the subscription. Slow subscribers miss events.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, 64)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close cancels outstanding work, waits for it and closes all subscriptions.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()

	t.mu.Lock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	t.mu.Unlock()
}

// Wait blocks until all spawned work has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) removeLocked(id string) {
	delete(t.entries, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) emitLocked(ev Event) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *Tracker) dropBlob(e models.FileEntry) {
	if t.opts.Blobs == nil || e.BlobID == "" {
		return
	}
	if err := t.opts.Blobs.Delete(e.BlobID); err != nil {
		t.log.Debug().Err(err).Str("blob", e.BlobID).Msg("blob cleanup failed")
	}
}

func (t *Tracker) notify(n notify.Notice) {
	if t.opts.Notifier != nil {
		t.opts.Notifier.Publish(n)
	}
}
