package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/remote"
)

// FakeRemote is an in-memory stand-in for the remote file service.
type FakeRemote struct {
	mu    sync.Mutex
	files []*remote.FileResponse
	seq   int

	UploadErr error
	RetryErr  error
	DeleteErr error
	GetErr    error
	// UploadStatus is the status reported for new uploads. Defaults to processing.
	UploadStatus models.RemoteStatus
	// UploadGate, when set, blocks Upload until it is closed.
	UploadGate chan struct{}

	Uploaded []string
	Retried  []string
	Deleted  []string
}

// NewFakeRemote creates an empty fake service.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{}
}

// Seed adds a file the service already knows about.
func (f *FakeRemote) Seed(resp remote.FileResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := resp
	f.files = append(f.files, &r)
}

// SetStatus changes a known file's status and summary.
func (f *FakeRemote) SetStatus(id string, status models.RemoteStatus, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.files {
		if r.ID == id {
			r.Status = status
			r.Summary = summary
		}
	}
}

func (f *FakeRemote) Upload(ctx context.Context, name string, body io.Reader) (*remote.FileResponse, error) {
	if f.UploadGate != nil {
		select {
		case <-f.UploadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Uploaded = append(f.Uploaded, name)
	if f.UploadErr != nil {
		return nil, f.UploadErr
	}

	status := f.UploadStatus
	if status == "" {
		status = models.RemoteProcessing
	}
	f.seq++
	resp := &remote.FileResponse{
		ID:        fmt.Sprintf("srv-%d", f.seq),
		Filename:  name,
		Status:    status,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}
	f.files = append(f.files, resp)
	out := *resp
	return &out, nil
}

func (f *FakeRemote) Get(ctx context.Context, id string) (*remote.FileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetErr != nil {
		return nil, f.GetErr
	}
	for _, r := range f.files {
		if r.ID == id {
			out := *r
			return &out, nil
		}
	}
	return nil, &remote.StatusError{Method: "GET", Path: "/files/" + id, StatusCode: 404, Message: "File not found"}
}

func (f *FakeRemote) List(ctx context.Context, p remote.ListParams) (*remote.ListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	page := p.Page
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * limit
	resp := &remote.ListResponse{Total: len(f.files), Page: page, Limit: limit}
	for i := start; i < len(f.files) && i < start+limit; i++ {
		resp.Items = append(resp.Items, *f.files[i])
	}
	return resp, nil
}

func (f *FakeRemote) ListAll(ctx context.Context, pageSize int) ([]remote.FileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]remote.FileResponse, 0, len(f.files))
	for _, r := range f.files {
		out = append(out, *r)
	}
	return out, nil
}

func (f *FakeRemote) Retry(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retried = append(f.Retried, id)
	return f.RetryErr
}

func (f *FakeRemote) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, id)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for i, r := range f.files {
		if r.ID == id {
			f.files = append(f.files[:i], f.files[i+1:]...)
			break
		}
	}
	return nil
}

func (f *FakeRemote) TypeBreakdown(ctx context.Context) ([]models.TypeCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := map[string]int{}
	var order []string
	for _, r := range f.files {
		t := models.TypeOf(r.Filename, r.Type)
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t]++
	}
	out := make([]models.TypeCount, 0, len(order))
	for _, t := range order {
		out = append(out, models.TypeCount{Type: t, Count: counts[t]})
	}
	return out, nil
}

// Calls returns copies of the recorded call lists.
func (f *FakeRemote) Calls() (uploaded, retried, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Uploaded...), append([]string(nil), f.Retried...), append([]string(nil), f.Deleted...)
}
