// Package memory provides an in-memory blob store for tests and
// development.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

type object struct {
	data        []byte
	contentType string
}

// Store implements fromscratch.BlobStore in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New creates a new in-memory blob store. Served URLs are rooted at
// baseURL.
func New(baseURL string) *Store {
	return &Store{
		objects: make(map[string]object),
		baseURL: baseURL,
	}
}

func (s *Store) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType}
	return nil
}

func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, fromscratch.ErrMediaNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// ContentType returns the stored content type for a key, if any.
func (s *Store) ContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	return obj.contentType, exists
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; !exists {
		return fromscratch.ErrMediaNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}
