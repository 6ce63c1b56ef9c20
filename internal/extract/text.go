package extract

import (
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gitlab.com/tozd/go/errors"
)

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".tsv":      true,
	".log":      true,
	".json":     true,
	".xml":      true,
	".yaml":     true,
	".yml":      true,
	".html":     true,
	".htm":      true,
}

var textMIMEs = map[string]bool{
	"application/json":     true,
	"application/xml":      true,
	"application/x-ndjson": true,
	"application/yaml":     true,
	"application/x-yaml":   true,
}

// textExtractor reads UTF-8 text files as-is.
type textExtractor struct{}

func (textExtractor) Name() string { return "text" }

func (textExtractor) CanExtract(mimeType, name string) bool {
	base := baseMIME(mimeType)
	if strings.HasPrefix(base, "text/") || textMIMEs[base] {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}

func (textExtractor) Extract(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "", errors.Errorf("reading text: %w", err)
	}
	// The limit may cut a multi-byte rune in half.
	if int64(len(data)) == limit {
		for i := 0; i < utf8.UTFMax-1 && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	if !utf8.Valid(data) {
		return "", errors.New("file is not valid UTF-8 text")
	}
	return string(data), nil
}

// gzipExtractor decompresses gzip-wrapped text.
type gzipExtractor struct {
	inner Extractor
}

func (gzipExtractor) Name() string { return "gzip" }

func (gzipExtractor) CanExtract(mimeType, name string) bool {
	base := baseMIME(mimeType)
	return base == "application/gzip" || base == "application/x-gzip" ||
		strings.HasSuffix(strings.ToLower(name), ".gz")
}

func (g gzipExtractor) Extract(r io.Reader, limit int64) (string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return "", errors.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	return g.inner.Extract(zr, limit)
}
