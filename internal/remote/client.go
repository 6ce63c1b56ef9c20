// Package remote is a client for the server-side file processing API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
)

// ErrUnauthorized is returned when the service rejects the credentials.
var ErrUnauthorized = errors.New("remote service rejected credentials")

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// FileResponse is the server's view of one uploaded file.
type FileResponse struct {
	ID        string              `json:"id"`
	Filename  string              `json:"filename"`
	Status    models.RemoteStatus `json:"status"`
	URL       string              `json:"url"`
	Type      string              `json:"type"`
	Size      int64               `json:"size"`
	CreatedAt time.Time           `json:"createdAt"`
	Summary   string              `json:"summary,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ListParams filters a file listing.
type ListParams struct {
	Page   int
	Limit  int
	Type   string
	Status string
}

// ListResponse is one page of files.
type ListResponse struct {
	Items []FileResponse `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// Client talks to the remote file service with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken replaces the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends the file body as multipart field "file".
func (c *Client) Upload(ctx context.Context, name string, body io.Reader) (*FileResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	var out FileResponse
	if err := c.do(ctx, http.MethodPost, "/files/upload", pr, mw.FormDataContentType(), &out); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &out, nil
}

// List returns one page of files.
func (c *Client) List(ctx context.Context, p ListParams) (*ListResponse, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Type != "" {
		q.Set("type", p.Type)
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}

	path := "/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAll pages through every file.
func (c *Client) ListAll(ctx context.Context, pageSize int) ([]FileResponse, error) {
	if pageSize <= 0 {
		pageSize = 10
	}

	var all []FileResponse
	for page := 1; ; page++ {
		resp, err := c.List(ctx, ListParams{Page: page, Limit: pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Items...)
		if len(resp.Items) < pageSize || (resp.Total > 0 && len(all) >= resp.Total) {
			return all, nil
		}
	}
}

// Get fetches one file.
func (c *Client) Get(ctx context.Context, id string) (*FileResponse, error) {
	var out FileResponse
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry asks the service to reprocess a failed file.
func (c *Client) Retry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(id)+"/retry", nil, "", nil)
}

// Delete removes a file on the service.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil, "", nil)
}

// TypeBreakdown returns file counts per type.
func (c *Client) TypeBreakdown(ctx context.Context) ([]models.TypeCount, error) {
	var out []models.TypeCount
	if err := c.do(ctx, http.MethodGet, "/files/stats/types", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return errors.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls a message out of a typical JSON error body.
func errorMessage(data []byte) string {
	var body struct {
		Message interface{} `json:"message"`
		Error   string      `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch m := body.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case []interface{}:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
