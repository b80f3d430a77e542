package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/campbel/fragment/internal/delivery"
)

// BlobStore holds the one file behind the current fallback link. Putting a
// new file revokes the previous link.
type BlobStore struct {
	mu   sync.Mutex
	id   string
	file delivery.File
}

func (b *BlobStore) Put(f delivery.File) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id, b.file = uuid.NewString(), f
	return b.id
}

func (b *BlobStore) Get(id string) (delivery.File, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == "" || id != b.id {
		return delivery.File{}, false
	}
	return b.file, true
}

// Delete revokes id if it is still current.
func (b *BlobStore) Delete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == b.id {
		b.id, b.file = "", delivery.File{}
	}
}
