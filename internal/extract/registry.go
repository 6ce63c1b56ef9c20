// Package extract turns stored upload bodies into plain text for summarization.
package extract

import (
	"bufio"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gitlab.com/tozd/go/errors"
)

// DefaultMaxTextBytes caps how much text is handed to the summarizer.
const DefaultMaxTextBytes = 512 * 1024

var (
	// ErrUnsupported is returned when no extractor accepts the file.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrEmptyContent is returned when the file yields no text.
	ErrEmptyContent = errors.New("file has no text content")
)

// Extractor converts one family of file formats to text.
type Extractor interface {
	Name() string
	CanExtract(mimeType, name string) bool
	Extract(r io.Reader, limit int64) (string, error)
}

// Registry holds the available extractors and picks one per file.
type Registry struct {
	extractors []Extractor
	maxBytes   int64
}

// NewRegistry creates a registry with the built-in extractors.
func NewRegistry(maxBytes int64) *Registry {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTextBytes
	}
	r := &Registry{maxBytes: maxBytes}
	r.Register(textExtractor{})
	r.Register(gzipExtractor{inner: textExtractor{}})
	return r
}

// Register adds an extractor. Later registrations are consulted after earlier ones.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Find returns the first extractor that accepts the file.
func (r *Registry) Find(mimeType, name string) (Extractor, error) {
	for _, e := range r.extractors {
		if e.CanExtract(mimeType, name) {
			return e, nil
		}
	}
	return nil, errors.Errorf("%w: %s", ErrUnsupported, displayType(mimeType, name))
}

// ExtractText finds an extractor for the file and returns its trimmed text.
func (r *Registry) ExtractText(mimeType, name string, rd io.Reader) (string, error) {
	e, err := r.Find(mimeType, name)
	if err != nil {
		return "", err
	}

	text, err := e.Extract(rd, r.maxBytes)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// DetectMIME sniffs the MIME type of a file from its leading bytes.
func DetectMIME(head []byte) string {
	return mimetype.Detect(head).String()
}

// DetectReader sniffs the MIME type and returns a reader that still yields the full stream.
func DetectReader(r io.Reader) (string, io.Reader, error) {
	br := bufio.NewReaderSize(r, 3072)
	head, err := br.Peek(3072)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return "", nil, errors.Errorf("sniffing content type: %w", err)
	}
	return DetectMIME(head), br, nil
}

// baseMIME strips parameters such as charset.
func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func displayType(mimeType, name string) string {
	if base := baseMIME(mimeType); base != "" {
		return base
	}
	return name
}
