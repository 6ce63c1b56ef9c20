package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/tracker"
)

func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.duckdb"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func entry(id, name string, status models.FileStatus) models.FileEntry {
	e := models.NewFileEntry(id, name, 10, "", time.Now())
	e.Status = status
	return *e
}

func TestJournal_TypeBreakdown(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	events := []tracker.Event{
		{Kind: tracker.EventAdded, Entry: entry("1", "a.pdf", models.StatusPending)},
		{Kind: tracker.EventAdded, Entry: entry("2", "b.pdf", models.StatusPending)},
		{Kind: tracker.EventAdded, Entry: entry("3", "c.txt", models.StatusPending)},
		{Kind: tracker.EventAdded, Entry: entry("4", "d.txt", models.StatusPending)},
		{Kind: tracker.EventRemoved, Entry: entry("4", "d.txt", models.StatusPending)},
		{Kind: tracker.EventAdded, Entry: entry("5", "e.csv", models.StatusPending)},
	}
	for _, ev := range events {
		require.NoError(t, j.Record(ctx, ev))
	}

	got, err := j.TypeBreakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.TypeCount{
		{Type: "pdf", Count: 2},
		{Type: "csv", Count: 1},
		{Type: "txt", Count: 1},
	}, got)
}

func TestJournal_EmptyBreakdown(t *testing.T) {
	j := createTestJournal(t)
	got, err := j.TypeBreakdown(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestJournal_HistoryAndRekey(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	failed := entry("srv-9", "doc.txt", models.StatusError)
	failed.Outcome = models.NewFailed("upload rejected")

	events := []tracker.Event{
		{Kind: tracker.EventAdded, Entry: entry("local-1", "doc.txt", models.StatusPending), At: base},
		{Kind: tracker.EventUpdated, Entry: entry("local-1", "doc.txt", models.StatusUploading), From: models.StatusPending, At: base.Add(time.Second)},
		{Kind: tracker.EventRekeyed, Entry: entry("srv-9", "doc.txt", models.StatusUploading), PrevID: "local-1", At: base.Add(2 * time.Second)},
		{Kind: tracker.EventUpdated, Entry: failed, From: models.StatusUploading, At: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, j.Record(ctx, ev))
	}

	history, err := j.History(ctx, "srv-9")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, tracker.EventAdded, history[0].Kind)
	assert.Equal(t, "local-1", history[2].PrevID)
	assert.Equal(t, models.StatusError, history[3].To)
	assert.Equal(t, models.StatusUploading, history[3].From)
	assert.Equal(t, "upload rejected", history[3].Message)

	old, err := j.History(ctx, "local-1")
	require.NoError(t, err)
	assert.Empty(t, old)

	counts, err := j.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.FileStatus]int{models.StatusError: 1}, counts)
}

func TestJournal_FollowTracker(t *testing.T) {
	j := createTestJournal(t)

	events := make(chan tracker.Event, 2)
	events <- tracker.Event{Kind: tracker.EventAdded, Entry: entry("x", "x.md", models.StatusPending)}
	events <- tracker.Event{Kind: tracker.EventAdded, Entry: entry("y", "y.md", models.StatusPending)}
	close(events)

	require.NoError(t, j.Follow(context.Background(), events))

	got, err := j.TypeBreakdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.TypeCount{{Type: "md", Count: 2}}, got)
}

func TestJournal_InMemory(t *testing.T) {
	j, err := Open("", zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record(context.Background(), tracker.Event{Kind: tracker.EventAdded, Entry: entry("m", "m.log", models.StatusPending)}))
	got, err := j.TypeBreakdown(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
