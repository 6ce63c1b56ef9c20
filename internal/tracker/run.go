package tracker

import (
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/summarize"
)

// Run is a strategy's handle on the entry it is advancing. Every mutation
// re-checks that the entry still exists, has not been retried since the run
// started and is in the expected state. Otherwise it returns ErrStale.
type Run struct {
	t       *Tracker
	id      string
	attempt int
}

// ID returns the entry's current id.
func (r *Run) ID() string {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	return r.id
}

// Entry returns a copy of the entry.
func (r *Run) Entry() (models.FileEntry, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	e, err := r.currentLocked()
	if err != nil {
		return models.FileEntry{}, err
	}
	return *e, nil
}

// Transition moves the entry between two non-terminal stages.
func (r *Run) Transition(from, to models.FileStatus) error {
	if to.Terminal() {
		return errors.Errorf("transition to %s must go through Complete or a returned error", to)
	}
	if !models.CanTransition(from, to) {
		return errors.Errorf("invalid transition %s -> %s", from, to)
	}

	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	e, err := r.expectLocked(from)
	if err != nil {
		return err
	}
	e.Status = to
	e.Outcome = nil
	e.UpdatedAt = r.t.opts.Now()
	r.t.emitLocked(Event{Kind: EventUpdated, Entry: *e, From: from, At: e.UpdatedAt})

	r.t.log.Debug().Str("file", e.ID).Str("from", string(from)).Str("to", string(to)).Msg("transition")
	return nil
}

// Complete finishes a summarizing entry. A blank summary is a failure.
func (r *Run) Complete(summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return summarize.ErrEmptySummary
	}

	r.t.mu.Lock()
	e, err := r.expectLocked(models.StatusSummarizing)
	if err != nil {
		r.t.mu.Unlock()
		return err
	}
	e.Status = models.StatusComplete
	e.Outcome = models.Complete{Summary: summary}
	e.UpdatedAt = r.t.opts.Now()
	snapshot := *e
	r.t.emitLocked(Event{Kind: EventUpdated, Entry: snapshot, From: models.StatusSummarizing, At: e.UpdatedAt})
	r.t.mu.Unlock()

	r.t.log.Info().Str("file", snapshot.ID).Str("name", snapshot.Name).Msg("file summarized")
	r.t.notify(notify.Notice{
		Level:   notify.LevelSuccess,
		Title:   "File processed",
		Message: snapshot.Name + " has been summarized",
		FileID:  snapshot.ID,
	})
	return nil
}

// Rekey replaces the entry's id with the one assigned by the server and marks
// the upload as confirmed.
func (r *Run) Rekey(newID string) error {
	if newID == "" {
		return errors.New("server returned an empty file id")
	}

	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	e, err := r.currentLocked()
	if err != nil {
		return err
	}
	old := e.ID
	if newID == old {
		e.Confirmed = true
		return nil
	}
	if _, taken := r.t.entries[newID]; taken {
		return errors.Errorf("%w: %s", ErrDuplicateID, newID)
	}

	delete(r.t.entries, old)
	r.t.entries[newID] = e
	for i, id := range r.t.order {
		if id == old {
			r.t.order[i] = newID
			break
		}
	}
	if r.t.inFlight[old] {
		delete(r.t.inFlight, old)
		r.t.inFlight[newID] = true
	}

	e.ID = newID
	e.Confirmed = true
	e.UpdatedAt = r.t.opts.Now()
	r.id = newID
	r.t.emitLocked(Event{Kind: EventRekeyed, Entry: *e, PrevID: old, At: e.UpdatedAt})
	return nil
}

// Report applies a status the server returned directly to the run.
func (r *Run) Report(update models.StatusUpdate) bool {
	if update.FileID == "" {
		update.FileID = r.ID()
	}
	return r.t.Reconcile(update)
}

func (r *Run) currentLocked() (*models.FileEntry, error) {
	e, ok := r.t.entries[r.id]
	if !ok || e.Attempt != r.attempt {
		return nil, ErrStale
	}
	return e, nil
}

func (r *Run) expectLocked(from models.FileStatus) (*models.FileEntry, error) {
	e, err := r.currentLocked()
	if err != nil {
		return nil, err
	}
	if e.Status != from {
		return nil, ErrStale
	}
	return e, nil
}
