// Package summarize produces short summaries of extracted file text.
package summarize

import (
	"context"
	"strings"
	"unicode"

	"gitlab.com/tozd/go/errors"
)

// ErrEmptySummary is returned when a summarizer produces no usable text.
var ErrEmptySummary = errors.New("Summarization failed.")

// Summarizer turns a document's text into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to the Summarizer interface.
type Func func(ctx context.Context, text string) (string, error)

// Summarize calls f.
func (f Func) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Checked wraps a summarizer so that blank results become ErrEmptySummary.
func Checked(s Summarizer) Summarizer {
	return Func(func(ctx context.Context, text string) (string, error) {
		out, err := s.Summarize(ctx, text)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", ErrEmptySummary
		}
		return out, nil
	})
}

// Leading summarizes by keeping the first few sentences of the text.
// It is used when no summarization endpoint is configured.
type Leading struct {
	Sentences int
	MaxChars  int
}

// NewLeading returns a Leading summarizer with the default limits.
func NewLeading() *Leading {
	return &Leading{Sentences: 3, MaxChars: 600}
}

// Summarize returns the leading sentences of text.
func (l *Leading) Summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmptySummary
	}

	count := 0
	end := len(text)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + 1
		if next < len(text) && !unicode.IsSpace(rune(text[next])) {
			continue
		}
		count++
		if count == l.Sentences {
			end = next
			break
		}
	}

	summary := text[:end]
	if l.MaxChars > 0 && len(summary) > l.MaxChars {
		summary = truncateWords(summary, l.MaxChars) + "…"
	}
	return summary, nil
}

func truncateWords(s string, max int) string {
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	// Never cut inside a multi-byte rune.
	return strings.ToValidUTF8(cut, "")
}
