// Package media stores mediafile blobs outside the datastore. Blobs are
// keyed by mediafile id.
package media

import (
	"context"
	"fmt"
	"sync"
)

// Service is the blob store mediafile actions write to.
type Service interface {
	Upload(ctx context.Context, id int64, data []byte, mimetype string) error
	// Duplicate copies the blob of sourceID to targetID.
	Duplicate(ctx context.Context, sourceID, targetID int64) error
	// Delete removes the blob of id. A missing blob is not an error.
	Delete(ctx context.Context, id int64) error
}

// Key is the object key of a mediafile blob.
func Key(id int64) string { return fmt.Sprintf("mediafile/%d", id) }

// Blob is one stored file.
type Blob struct {
	Data     []byte
	Mimetype string
}

// Memory keeps blobs in a map. It backs tests and single-process setups.
type Memory struct {
	mu    sync.Mutex
	blobs map[int64]Blob
}

// NewMemory returns an empty in-memory service.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[int64]Blob)}
}

func (m *Memory) Upload(_ context.Context, id int64, data []byte, mimetype string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = Blob{Data: append([]byte(nil), data...), Mimetype: mimetype}
	return nil
}

func (m *Memory) Duplicate(_ context.Context, sourceID, targetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[sourceID]
	if !ok {
		return fmt.Errorf("media: no blob for mediafile %d", sourceID)
	}
	m.blobs[targetID] = b
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

// Get returns the stored blob of id.
func (m *Memory) Get(id int64) (Blob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	return b, ok
}
