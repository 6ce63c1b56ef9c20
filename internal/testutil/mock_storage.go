// mock_storage.go - Mock blob storage implementation for testing
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/filedeck/backend/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	blobs map[string]*storage.Blob
	data  map[string][]byte
	mu    sync.RWMutex

	// OpenErr, when set, is returned by every Open call.
	OpenErr error
}

// NewMockStorage creates an empty mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		blobs: make(map[string]*storage.Blob),
		data:  make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*storage.Blob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, data)
}

// SaveBytes stores data directly.
func (m *MockStorage) SaveBytes(name string, data []byte) (*storage.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := generateTestID()
	blob := &storage.Blob{
		ID:       id,
		Name:     name,
		Size:     int64(len(data)),
		StoredAt: time.Now(),
	}

	m.blobs[id] = blob
	m.data[id] = data
	return blob, nil
}

func (m *MockStorage) Get(id string) (*storage.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[id]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return blob, nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	data, ok := m.data[id]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) List(limit int) ([]*storage.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*storage.Blob, 0, len(m.blobs))
	for _, blob := range m.blobs {
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

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; !ok {
		return errors.New("blob not found")
	}
	delete(m.blobs, id)
	delete(m.data, id)
	return nil
}

func (m *MockStorage) Path(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.blobs[id]; !ok {
		return "", errors.New("blob not found")
	}
	return "/mock/" + id, nil
}

// Has reports whether a blob is still stored.
func (m *MockStorage) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok
}

var (
	testIDMu  sync.Mutex
	testIDSeq int
)

func generateTestID() string {
	testIDMu.Lock()
	defer testIDMu.Unlock()
	testIDSeq++
	return fmt.Sprintf("test-blob-%d", testIDSeq)
}
