package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/filedeck/backend/internal/journal"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/tracker"
)

func TestFileHandler_Upload(t *testing.T) {
	t.Run("creates pending entries", func(t *testing.T) {
		f := newFixture(t)
		rec := f.upload(t, f.user, map[string]string{"notes.txt": "hello world"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		views := decode[[]models.FileEntryView](t, rec)
		require.Len(t, views, 1)
		assert.Equal(t, "notes.txt", views[0].Name)
		assert.Equal(t, int64(len("hello world")), views[0].Size)
		assert.Equal(t, models.StatusPending, views[0].Status)
		assert.Contains(t, views[0].MimeType, "text/plain")

		snap := f.tracker.Snapshot()
		require.Len(t, snap, 1)
		assert.True(t, f.blobs.Has(snap[0].BlobID))
	})

	t.Run("accepts several parts", func(t *testing.T) {
		f := newFixture(t)
		rec := f.upload(t, f.user, map[string]string{"a.txt": "a", "b.txt": "b"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Len(t, decode[[]models.FileEntryView](t, rec), 2)
		assert.Len(t, f.tracker.Snapshot(), 2)
	})

	t.Run("rejects a form without files", func(t *testing.T) {
		f := newFixture(t)
		rec := f.upload(t, f.user, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
		assert.Empty(t, f.tracker.Snapshot())
	})

	t.Run("rejects a non-multipart body", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, f.user, http.MethodPost, "/api/files", map[string]string{"name": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires a token", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, models.UserAccount{}, http.MethodGet, "/api/files", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFileHandler_List(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "zeta.txt", "zzz")
	f.addFile(t, "alpha.txt", "a")
	f.addFile(t, "report.md", "report body")

	t.Run("default sort is newest first", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[fileListResponse](t, rec)
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, "uploadedAt-desc", resp.Sort)
		assert.Equal(t, 3, resp.Counts[models.StatusPending])
	})

	t.Run("search and sort", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files?search=.txt&sort=name-asc", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[fileListResponse](t, rec)
		require.Len(t, resp.Files, 2)
		assert.Equal(t, "alpha.txt", resp.Files[0].Name)
		assert.Equal(t, "zeta.txt", resp.Files[1].Name)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files?status=complete", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[fileListResponse](t, rec).Total)
	})

	t.Run("bad sort", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files?sort=colour-up", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad status", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files?status=lost", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("msgpack", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodGet, "/api/files/msgpack?sort=size-desc", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

		var resp fileListResponse
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Files, 3)
		assert.Equal(t, "report.md", resp.Files[0].Name)
		assert.Equal(t, "size-desc", resp.Sort)
	})
}

func TestFileHandler_GetAndDelete(t *testing.T) {
	f := newFixture(t)
	entry := f.addFile(t, "doc.txt", "content")

	rec := f.do(t, f.user, http.MethodGet, "/api/files/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entry.ID, decode[models.FileEntryView](t, rec).ID)

	rec = f.do(t, f.user, http.MethodGet, "/api/files/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.user, http.MethodDelete, "/api/files/"+entry.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.tracker.Snapshot())
	assert.False(t, f.blobs.Has(entry.BlobID))

	rec = f.do(t, f.user, http.MethodDelete, "/api/files/"+entry.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandler_Retry(t *testing.T) {
	f := newFixture(t)
	entry := f.addFile(t, "bad.txt", "this will go boom")
	require.NoError(t, f.tracker.Advance(context.Background(), entry.ID))

	failed, err := f.tracker.Get(entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, failed.Status)

	rec := f.do(t, f.user, http.MethodPost, "/api/files/"+entry.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	view := decode[models.FileEntryView](t, rec)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Equal(t, 1, view.Attempt)
	assert.Empty(t, view.Error)

	t.Run("only failed files", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodPost, "/api/files/"+entry.ID+"/retry", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown id is a no-op locally", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodPost, "/api/files/nope/retry", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}

func TestFileHandler_Advance(t *testing.T) {
	f := newFixture(t)
	entry := f.addFile(t, "doc.txt", "first sentence. second sentence.")
	path := "/api/files/" + entry.ID + "/advance"

	rec := f.do(t, f.user, http.MethodPost, path, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, entry.ID, decode[models.FileEntryView](t, rec).ID)

	waitFor(t, func() bool {
		got, err := f.tracker.Get(entry.ID)
		return err == nil && got.Status == models.StatusComplete
	})
	got, _ := f.tracker.Get(entry.ID)
	assert.Equal(t, "a summary", got.Summary())

	t.Run("finished file conflicts", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := f.do(t, f.user, http.MethodPost, "/api/files/nope/advance", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("retried file is advanced again", func(t *testing.T) {
		bad := f.addFile(t, "bad.txt", "this will go boom")
		require.NoError(t, f.tracker.Advance(context.Background(), bad.ID))
		rec := f.do(t, f.user, http.MethodPost, "/api/files/"+bad.ID+"/retry", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = f.do(t, f.user, http.MethodPost, "/api/files/"+bad.ID+"/advance", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		waitFor(t, func() bool {
			got, err := f.tracker.Get(bad.ID)
			return err == nil && got.Status == models.StatusError && got.Attempt == 1
		})
	})

	t.Run("requires a token", func(t *testing.T) {
		rec := f.do(t, models.UserAccount{}, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFileHandler_History(t *testing.T) {
	f := newFixture(t)
	entry := f.addFile(t, "doc.txt", "content")

	rec := f.do(t, f.user, http.MethodGet, "/api/files/"+entry.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.history[entry.ID] = []journal.Transition{
		{FileID: entry.ID, Kind: tracker.EventAdded, To: models.StatusPending, At: at},
		{FileID: entry.ID, Kind: tracker.EventUpdated, From: models.StatusPending, To: models.StatusUploading, At: at.Add(time.Second)},
	}
	rec = f.do(t, f.user, http.MethodGet, "/api/files/"+entry.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	transitions := decode[[]journal.Transition](t, rec)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.StatusUploading, transitions[1].To)

	rec = f.do(t, f.user, http.MethodGet, "/api/files/unknown/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandler_SyncNeedsServerMode(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, f.user, http.MethodPost, "/api/files/sync", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "remote mode")
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "a.txt", "a")

	rec := f.do(t, f.user, http.MethodGet, "/api/stats/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode[map[models.FileStatus]int](t, rec)
	assert.Len(t, counts, len(models.AllStatuses))
	assert.Equal(t, 1, counts[models.StatusPending])
	assert.Equal(t, 0, counts[models.StatusComplete])

	rec = f.do(t, f.user, http.MethodGet, "/api/stats/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"type":"TXT","count":2}]`, rec.Body.String())

	rec = f.do(t, models.UserAccount{}, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "local", health["mode"])
	assert.EqualValues(t, 1, health["files"])
}

func TestNoticeHandlers(t *testing.T) {
	f := newFixture(t)
	n := f.notices.Warn("Heads up", "something happened", "")

	rec := f.do(t, f.user, http.MethodGet, "/api/notices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Heads up")

	rec = f.do(t, f.user, http.MethodDelete, "/api/notices/"+n.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.notices.Active())

	rec = f.do(t, f.user, http.MethodDelete, "/api/notices/"+n.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
