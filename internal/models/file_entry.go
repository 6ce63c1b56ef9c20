package models

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// FallbackErrorMessage is used when a failure carries no message of its own.
const FallbackErrorMessage = "An unknown error occurred."

// Outcome is the result attached to an entry in a terminal state.
// Only Complete and Failed implement it.
type Outcome interface {
	Status() FileStatus
	isOutcome()
}

// Complete is the outcome of a successfully summarized file.
type Complete struct {
	Summary string
}

// Failed is the outcome of a file whose processing stopped with an error.
type Failed struct {
	Message string
}

func (Complete) Status() FileStatus { return StatusComplete }
func (Complete) isOutcome()         {}

func (Failed) Status() FileStatus { return StatusError }
func (Failed) isOutcome()         {}

// NewFailed builds a Failed outcome, substituting the fallback for an empty message.
func NewFailed(message string) Failed {
	message = strings.TrimSpace(message)
	if message == "" {
		message = FallbackErrorMessage
	}
	return Failed{Message: message}
}

// FileEntry is one uploaded file tracked through its processing lifecycle.
type FileEntry struct {
	ID         string
	Name       string
	SizeBytes  int64
	MimeType   string
	Status     FileStatus
	Outcome    Outcome
	UploadedAt time.Time
	UpdatedAt  time.Time
	BlobID     string
	Attempt    int
	Confirmed  bool // server acknowledged the upload and owns the id
}

// NewFileEntry creates an entry in pending status.
func NewFileEntry(id, name string, size int64, mimeType string, now time.Time) *FileEntry {
	return &FileEntry{
		ID:         id,
		Name:       name,
		SizeBytes:  size,
		MimeType:   mimeType,
		Status:     StatusPending,
		UploadedAt: now,
		UpdatedAt:  now,
	}
}

// Summary returns the summary of a completed entry, or "".
func (e FileEntry) Summary() string {
	if c, ok := e.Outcome.(Complete); ok {
		return c.Summary
	}
	return ""
}

// ErrorMessage returns the failure message of an errored entry, or "".
func (e FileEntry) ErrorMessage() string {
	if f, ok := e.Outcome.(Failed); ok {
		return f.Message
	}
	return ""
}

// Type returns the display type used by the type breakdown.
func (e FileEntry) Type() string {
	return TypeOf(e.Name, e.MimeType)
}

// FileEntryView is the wire representation of a FileEntry.
type FileEntryView struct {
	ID         string     `json:"id" msgpack:"id"`
	Name       string     `json:"name" msgpack:"name"`
	Size       int64      `json:"size" msgpack:"size"`
	MimeType   string     `json:"mimeType" msgpack:"mimeType"`
	Type       string     `json:"type" msgpack:"type"`
	Status     FileStatus `json:"status" msgpack:"status"`
	Summary    string     `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Error      string     `json:"error,omitempty" msgpack:"error,omitempty"`
	UploadedAt time.Time  `json:"uploadedAt" msgpack:"uploadedAt"`
	UpdatedAt  time.Time  `json:"updatedAt" msgpack:"updatedAt"`
	Attempt    int        `json:"attempt" msgpack:"attempt"`
}

// View converts the entry to its wire form.
func (e FileEntry) View() FileEntryView {
	return FileEntryView{
		ID:         e.ID,
		Name:       e.Name,
		Size:       e.SizeBytes,
		MimeType:   e.MimeType,
		Type:       e.Type(),
		Status:     e.Status,
		Summary:    e.Summary(),
		Error:      e.ErrorMessage(),
		UploadedAt: e.UploadedAt,
		UpdatedAt:  e.UpdatedAt,
		Attempt:    e.Attempt,
	}
}

// MarshalJSON encodes the entry through its view.
func (e FileEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.View())
}

// Views converts a slice of entries.
func Views(entries []FileEntry) []FileEntryView {
	views := make([]FileEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.View())
	}
	return views
}

// TypeOf derives a short type label from a file name, falling back to the MIME subtype.
func TypeOf(name, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."); ext != "" {
		return ext
	}
	base, _, _ := strings.Cut(mimeType, ";")
	if _, sub, ok := strings.Cut(strings.TrimSpace(base), "/"); ok && sub != "" {
		return strings.ToLower(sub)
	}
	return "other"
}
