package tracker

import (
	"context"
	"io"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/summarize"
)

// TextExtractor converts stored content into text.
type TextExtractor interface {
	ExtractText(mimeType, name string, r io.Reader) (string, error)
}

// LocalPipeline processes files in-process: it reads the stored blob,
// extracts its text and summarizes it.
type LocalPipeline struct {
	blobs      BlobStore
	extractor  TextExtractor
	summarizer summarize.Summarizer
	delay      time.Duration
}

// NewLocalPipeline creates the in-process strategy. delay is the pause
// between stages.
func NewLocalPipeline(blobs BlobStore, extractor TextExtractor, summarizer summarize.Summarizer, delay time.Duration) *LocalPipeline {
	return &LocalPipeline{
		blobs:      blobs,
		extractor:  extractor,
		summarizer: summarizer,
		delay:      delay,
	}
}

func (p *LocalPipeline) Name() string       { return "local" }
func (p *LocalPipeline) ServerBacked() bool { return false }

// Run takes the entry from pending to complete.
func (p *LocalPipeline) Run(ctx context.Context, run *Run) error {
	if err := run.Transition(models.StatusPending, models.StatusUploading); err != nil {
		return err
	}
	if err := sleep(ctx, p.delay); err != nil {
		return err
	}

	if err := run.Transition(models.StatusUploading, models.StatusProcessing); err != nil {
		return err
	}
	entry, err := run.Entry()
	if err != nil {
		return err
	}
	text, err := p.readText(entry)
	if err != nil {
		return err
	}
	if err := sleep(ctx, p.delay); err != nil {
		return err
	}

	if err := run.Transition(models.StatusProcessing, models.StatusSummarizing); err != nil {
		return err
	}
	summary, err := p.summarizer.Summarize(ctx, text)
	if err != nil {
		return err
	}
	return run.Complete(summary)
}

func (p *LocalPipeline) readText(entry models.FileEntry) (string, error) {
	if entry.BlobID == "" {
		return "", errors.New("file content is not available")
	}

	rc, err := p.blobs.Open(entry.BlobID)
	if err != nil {
		return "", errors.Errorf("reading file: %w", err)
	}
	defer rc.Close()

	return p.extractor.ExtractText(entry.MimeType, entry.Name, rc)
}

// Retry always processes the entry again.
func (p *LocalPipeline) Retry(ctx context.Context, entry models.FileEntry) (bool, error) {
	return true, nil
}

// Delete has nothing remote to remove.
func (p *LocalPipeline) Delete(ctx context.Context, entry models.FileEntry) error {
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
