package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// HTTPSummarizer calls a summarization endpoint that accepts {"text"} and
// answers {"summary"}.
type HTTPSummarizer struct {
	endpoint string
	token    string
	client   *http.Client
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPSummarizer creates a summarizer for the given endpoint.
func NewHTTPSummarizer(endpoint, token string, timeout time.Duration) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSummarizer{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Summarize posts the text and returns the trimmed summary.
func (s *HTTPSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(summarizeRequest{Text: text})
	if err != nil {
		return "", errors.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Errorf("calling summarizer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Errorf("reading summarizer response: %w", err)
	}

	var out summarizeResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return "", errors.Errorf("summarizer returned %d: %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return "", errors.Errorf("decoding summarizer response: %w", err)
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
