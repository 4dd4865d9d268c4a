package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type blob struct {
	data        []byte
	contentType string
}

// BlobStore keeps archived pages and images in memory and returns memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject stores a copy of data under path. Writing the same path twice keeps the last body.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = blob{data: body, contentType: contentType}
	return "memory://" + path, nil
}

// Object returns the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	return b.data, ok
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[path].contentType
}

// Paths lists stored paths with the given prefix in lexical order.
func (s *BlobStore) Paths(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.blobs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
