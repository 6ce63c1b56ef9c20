package tracker

import (
	"context"
	"io"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/remote"
)

// RemoteFiles is the part of the remote file service client the pipeline uses.
type RemoteFiles interface {
	Upload(ctx context.Context, name string, body io.Reader) (*remote.FileResponse, error)
	Get(ctx context.Context, id string) (*remote.FileResponse, error)
	ListAll(ctx context.Context, pageSize int) ([]remote.FileResponse, error)
	Retry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// RemotePipeline uploads files to the remote service, which then owns
// processing. Later progress arrives through Reconcile.
type RemotePipeline struct {
	client   RemoteFiles
	blobs    BlobStore
	pageSize int
}

// NewRemotePipeline creates the server-backed strategy.
func NewRemotePipeline(client RemoteFiles, blobs BlobStore, pageSize int) *RemotePipeline {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &RemotePipeline{client: client, blobs: blobs, pageSize: pageSize}
}

func (p *RemotePipeline) Name() string       { return "remote" }
func (p *RemotePipeline) ServerBacked() bool { return true }

// Run uploads the entry and adopts the server's id.
func (p *RemotePipeline) Run(ctx context.Context, run *Run) error {
	if err := run.Transition(models.StatusPending, models.StatusUploading); err != nil {
		return err
	}
	entry, err := run.Entry()
	if err != nil {
		return err
	}
	if entry.BlobID == "" {
		return errors.New("file content is not available")
	}

	rc, err := p.blobs.Open(entry.BlobID)
	if err != nil {
		return errors.Errorf("reading file: %w", err)
	}
	resp, err := p.client.Upload(ctx, entry.Name, rc)
	rc.Close()
	if err != nil {
		return err
	}

	if err := run.Rekey(resp.ID); err != nil {
		if errors.Is(err, ErrStale) {
			// Deleted while uploading; the server copy is orphaned.
			if derr := p.client.Delete(ctx, resp.ID); derr != nil {
				run.t.log.Warn().Err(derr).Str("file", resp.ID).Msg("removing orphaned upload failed")
			}
		}
		return err
	}

	switch resp.Status {
	case models.RemoteCompleted, models.RemoteFailed:
		run.Report(models.StatusUpdate{FileID: resp.ID, Status: resp.Status, Error: resp.Error, Summary: resp.Summary})
		return nil
	}
	return run.Transition(models.StatusUploading, models.StatusProcessing)
}

// Retry asks the server to reprocess confirmed uploads. Uploads that never
// reached the server are sent again.
func (p *RemotePipeline) Retry(ctx context.Context, entry models.FileEntry) (bool, error) {
	if !entry.Confirmed {
		return true, nil
	}
	if err := p.client.Retry(ctx, entry.ID); err != nil {
		return false, err
	}
	return false, nil
}

// Delete removes the server copy of confirmed uploads.
func (p *RemotePipeline) Delete(ctx context.Context, entry models.FileEntry) error {
	if !entry.Confirmed {
		return nil
	}
	return p.client.Delete(ctx, entry.ID)
}

// FetchSummary looks up the server-side summary of a file.
func (p *RemotePipeline) FetchSummary(ctx context.Context, id string) (string, error) {
	resp, err := p.client.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// ListAll returns every file the server knows.
func (p *RemotePipeline) ListAll(ctx context.Context) ([]remote.FileResponse, error) {
	return p.client.ListAll(ctx, p.pageSize)
}
