package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Blob is the metadata of a stored upload body.
type Blob struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

// Store defines the interface for blob storage.
type Store interface {
	Save(name string, r io.Reader) (*Blob, error)
	Get(id string) (*Blob, error)
	Open(id string) (io.ReadCloser, error)
	List(limit int) ([]*Blob, error)
	Delete(id string) error
	Path(id string) (string, error)
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	blobs     map[string]*Blob
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		blobs:     make(map[string]*Blob),
	}, nil
}

// Save writes the reader's contents to a new blob.
func (s *LocalStore) Save(name string, r io.Reader) (*Blob, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating blob: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	blob := &Blob{
		ID:       id,
		Name:     name,
		Size:     size,
		StoredAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = blob

	return blob, nil
}

// Get retrieves blob metadata by ID.
func (s *LocalStore) Get(id string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", id)
	}

	return blob, nil
}

// Open returns a reader over the blob contents. The caller closes it.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// List returns the most recently stored blobs.
func (s *LocalStore) List(limit int) ([]*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Blob, 0, len(s.blobs))
	for _, blob := range s.blobs {
		list = append(list, blob)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].StoredAt.After(list[j].StoredAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a blob from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("blob not found: %s", id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}

	delete(s.blobs, id)
	return nil
}

// Path returns the absolute path to a blob.
func (s *LocalStore) Path(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.blobs[id]; !ok {
		return "", fmt.Errorf("blob not found: %s", id)
	}

	return filepath.Join(s.uploadDir, id), nil
}
