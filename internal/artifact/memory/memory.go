// Package memory provides an in-process artifact store for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is one stored artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// Store keeps artifacts in a map and hands out mem:// URIs.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
}

// New creates an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Put records the artifact under path.
func (s *Store) Put(_ context.Context, path, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return "mem://" + path, nil
}

// Get returns a stored artifact, for test assertions.
func (s *Store) Get(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}
