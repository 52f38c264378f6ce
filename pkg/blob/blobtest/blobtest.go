// Package blobtest provides an in-memory blob.Store for tests.
package blobtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
)

// Object is a stored object.
type Object struct {
	Data        []byte
	ContentType string
}

// Store keeps objects in memory. PutErr, when set, fails every Put. PutDelay
// holds every Put back before it stores anything.
type Store struct {
	mu       sync.Mutex
	objects  map[string]Object
	PutErr   error
	PutDelay time.Duration
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

func (s *Store) Put(ctx context.Context, path string, r io.Reader, _ int64, contentType string) error {
	if s.PutDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.PutDelay):
		}
	}
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{Data: data, ContentType: contentType}
	return nil
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, mcerrors.ErrNotFound)
	}
	return obj.Data, nil
}

// Object returns a stored object.
func (s *Store) Object(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Paths lists stored paths in order.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
