package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedeck/backend/internal/channel"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/remote"
	"github.com/filedeck/backend/internal/testutil"
)

type remoteFixture struct {
	tracker *Tracker
	server  *testutil.FakeRemote
	blobs   *testutil.MockStorage
	notices *notify.Center
}

func newRemoteFixture(t *testing.T, autoAdvance bool) *remoteFixture {
	t.Helper()
	server := testutil.NewFakeRemote()
	blobs := testutil.NewMockStorage()
	notices := notify.NewCenter(0, 0)

	tr := New(NewRemotePipeline(server, blobs, 10), Options{
		AutoAdvance: autoAdvance,
		Notifier:    notices,
		Blobs:       blobs,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(tr.Close)
	return &remoteFixture{tracker: tr, server: server, blobs: blobs, notices: notices}
}

func (f *remoteFixture) upload(t *testing.T, name string) models.FileEntry {
	t.Helper()
	blob, err := f.blobs.SaveBytes(name, []byte("body of "+name))
	require.NoError(t, err)
	entries, err := f.tracker.AddFiles([]NewFile{{Name: name, SizeBytes: blob.Size, BlobID: blob.ID}})
	require.NoError(t, err)
	f.tracker.Wait()
	return entries[0]
}

func TestRemotePipeline_Upload(t *testing.T) {
	t.Run("adopts server id and waits in processing", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		events, cancel := f.tracker.Subscribe()
		defer cancel()

		local := f.upload(t, "doc.txt")

		snap := f.tracker.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, "srv-1", snap[0].ID)
		assert.NotEqual(t, local.ID, snap[0].ID)
		assert.True(t, snap[0].Confirmed)
		assert.Equal(t, models.StatusProcessing, snap[0].Status)

		var rekeyed bool
		for len(events) > 0 {
			if ev := <-events; ev.Kind == EventRekeyed {
				rekeyed = true
				assert.Equal(t, local.ID, ev.PrevID)
			}
		}
		assert.True(t, rekeyed)
	})

	t.Run("upload failure moves entry to error", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.server.UploadErr = errors.New("connection refused")

		entry := f.upload(t, "doc.txt")

		got, err := f.tracker.Get(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, got.Status)
		assert.Contains(t, got.ErrorMessage(), "connection refused")
		assert.False(t, got.Confirmed)
	})

	t.Run("unauthorized raises global notice", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.server.UploadErr = remote.ErrUnauthorized

		f.upload(t, "doc.txt")

		var global bool
		for _, n := range f.notices.Active() {
			if n.Global {
				global = true
			}
		}
		assert.True(t, global)
	})

	t.Run("immediate completion is reconciled", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.server.UploadStatus = models.RemoteCompleted

		f.upload(t, "doc.txt")

		got, err := f.tracker.Get("srv-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, got.Status)
		assert.Equal(t, ReconciledSummaryPlaceholder, got.Summary())
	})

	t.Run("delete during upload removes orphan", func(t *testing.T) {
		f := newRemoteFixture(t, false)
		f.server.UploadGate = make(chan struct{})

		blob, _ := f.blobs.SaveBytes("doc.txt", []byte("x"))
		entries, _ := f.tracker.AddFiles([]NewFile{{Name: "doc.txt", BlobID: blob.ID}})
		id := entries[0].ID

		done := make(chan error, 1)
		go func() { done <- f.tracker.Advance(context.Background(), id) }()
		require.Eventually(t, func() bool {
			e, _ := f.tracker.Get(id)
			return e.Status == models.StatusUploading
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, f.tracker.Delete(context.Background(), id))
		close(f.server.UploadGate)
		require.NoError(t, <-done)

		assert.Empty(t, f.tracker.Snapshot())
		_, _, deleted := f.server.Calls()
		assert.Equal(t, []string{"srv-1"}, deleted)
	})
}

func TestRemotePipeline_Reconcile(t *testing.T) {
	f := newRemoteFixture(t, true)
	f.upload(t, "doc.txt")
	f.server.SetStatus("srv-1", models.RemoteCompleted, "server summary")

	require.True(t, f.tracker.Reconcile(models.StatusUpdate{FileID: "srv-1", Status: models.RemoteCompleted}))

	got, _ := f.tracker.Get("srv-1")
	assert.Equal(t, models.StatusComplete, got.Status)
	assert.Equal(t, "server summary", got.Summary())

	var success bool
	for _, n := range f.notices.Active() {
		if n.Level == notify.LevelSuccess && n.FileID == "srv-1" {
			success = true
		}
	}
	assert.True(t, success)
}

func TestRemotePipeline_Retry(t *testing.T) {
	t.Run("confirmed entry asks server to retry", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.upload(t, "doc.txt")
		f.tracker.Reconcile(models.StatusUpdate{FileID: "srv-1", Status: models.RemoteFailed, Error: "parse error"})

		require.NoError(t, f.tracker.Retry(context.Background(), "srv-1"))
		f.tracker.Wait()

		got, _ := f.tracker.Get("srv-1")
		assert.Equal(t, models.StatusPending, got.Status)
		uploaded, retried, _ := f.server.Calls()
		assert.Equal(t, []string{"srv-1"}, retried)
		assert.Len(t, uploaded, 1)
	})

	t.Run("server retry failure is surfaced", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.upload(t, "doc.txt")
		f.tracker.Reconcile(models.StatusUpdate{FileID: "srv-1", Status: models.RemoteFailed})
		f.server.RetryErr = &remote.StatusError{Method: "POST", Path: "/files/srv-1/retry", StatusCode: 500}

		err := f.tracker.Retry(context.Background(), "srv-1")
		assert.Error(t, err)

		got, _ := f.tracker.Get("srv-1")
		assert.Equal(t, models.StatusError, got.Status)
	})

	t.Run("unconfirmed entry is uploaded again", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.server.UploadErr = errors.New("timeout")
		entry := f.upload(t, "doc.txt")

		f.server.UploadErr = nil
		require.NoError(t, f.tracker.Retry(context.Background(), entry.ID))
		f.tracker.Wait()

		snap := f.tracker.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, models.StatusProcessing, snap[0].Status)
		assert.True(t, snap[0].Confirmed)
	})

	t.Run("unknown id is reported", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		err := f.tracker.Retry(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotEmpty(t, f.notices.Active())
	})
}

func TestRemotePipeline_Delete(t *testing.T) {
	t.Run("deletes server copy", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.upload(t, "doc.txt")

		require.NoError(t, f.tracker.Delete(context.Background(), "srv-1"))
		_, _, deleted := f.server.Calls()
		assert.Equal(t, []string{"srv-1"}, deleted)
	})

	t.Run("server failure keeps local removal and warns", func(t *testing.T) {
		f := newRemoteFixture(t, true)
		f.upload(t, "doc.txt")
		f.server.DeleteErr = errors.New("service unavailable")

		require.NoError(t, f.tracker.Delete(context.Background(), "srv-1"))
		assert.Empty(t, f.tracker.Snapshot())

		notices := f.notices.Active()
		require.NotEmpty(t, notices)
		assert.Equal(t, notify.LevelWarning, notices[len(notices)-1].Level)
	})
}

func TestRemotePipeline_Sync(t *testing.T) {
	f := newRemoteFixture(t, true)
	f.upload(t, "mine.txt")
	f.server.SetStatus("srv-1", models.RemoteFailed, "")
	f.server.Seed(remote.FileResponse{ID: "other", Filename: "theirs.pdf", Status: models.RemoteCompleted, Summary: "from server", Size: 42})

	t.Run("without hydrate only reconciles", func(t *testing.T) {
		changed, err := f.tracker.Sync(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		snap := f.tracker.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, models.StatusError, snap[0].Status)
	})

	t.Run("hydrate adds unknown server files", func(t *testing.T) {
		changed, err := f.tracker.Sync(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, 1, changed, "srv-1 is already failed locally")

		got, err := f.tracker.Get("other")
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, got.Status)
		assert.Equal(t, "from server", got.Summary())
		assert.True(t, got.Confirmed)
	})

	t.Run("repeated sync changes nothing", func(t *testing.T) {
		changed, err := f.tracker.Sync(context.Background(), true)
		require.NoError(t, err)
		assert.Zero(t, changed)
	})
}

func TestRemotePipeline_PolledRetryFailsAgain(t *testing.T) {
	f := newRemoteFixture(t, true)
	f.upload(t, "doc.txt")
	f.server.SetStatus("srv-1", models.RemoteFailed, "")

	poller := channel.NewPoller(f.server, 10*time.Millisecond, 10, zerolog.Nop())
	require.NoError(t, poller.Connect(context.Background()))
	defer poller.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		_ = f.tracker.Follow(ctx, poller.Updates())
	}()

	status := func() models.FileStatus {
		got, _ := f.tracker.Get("srv-1")
		return got.Status
	}
	require.Eventually(t, func() bool { return status() == models.StatusError }, 2*time.Second, 5*time.Millisecond)

	// The server fails the retried file again with the same outcome before
	// the next poll.
	require.NoError(t, f.tracker.Retry(context.Background(), "srv-1"))
	require.Eventually(t, func() bool { return status() == models.StatusError }, 2*time.Second, 5*time.Millisecond)

	got, _ := f.tracker.Get("srv-1")
	assert.Equal(t, ReconciledFailureMessage, got.ErrorMessage())
	assert.Equal(t, 1, got.Attempt)

	cancel()
	<-followed
}
