package media

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory keeps uploads in process memory and returns mem:// URLs. For
// development and tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory constructs an empty in-memory uploader.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Upload implements the uploader boundary.
func (m *Memory) Upload(ctx context.Context, collection, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("media: read upload: %w", err)
	}

	key := collection + "/" + name
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return "mem://" + key, nil
}

// Object returns a stored object's bytes, for test assertions.
func (m *Memory) Object(collection, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[collection+"/"+name]
	return data, ok
}
