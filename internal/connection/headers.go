package connection

import (
	"net/http"
	"sync"
)

// HeaderStore holds the extra handshake headers. Names are unique after
// canonicalization (http.CanonicalHeaderKey), so "x-key" and "X-Key" are the
// same header; the first value set for a name wins until it is removed.
type HeaderStore struct {
	mu      sync.Mutex
	headers map[string]string
}

// NewHeaderStore creates an empty store.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{headers: make(map[string]string)}
}

// Set adds name if it is not present. It reports whether the header was added.
func (s *HeaderStore) Set(name, value string) bool {
	name = http.CanonicalHeaderKey(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.headers[name]; ok {
		return false
	}
	s.headers[name] = value
	return true
}

// Get returns the value stored for name.
func (s *HeaderStore) Get(name string) (string, bool) {
	name = http.CanonicalHeaderKey(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.headers[name]
	return v, ok
}

// Remove deletes name and returns the value it held.
func (s *HeaderStore) Remove(name string) (string, bool) {
	name = http.CanonicalHeaderKey(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.headers[name]
	if ok {
		delete(s.headers, name)
	}
	return v, ok
}

// Clear removes every header.
func (s *HeaderStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.headers)
}

// Len returns the number of stored headers.
func (s *HeaderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.headers)
}

// applyTo copies the stored headers into h.
func (s *HeaderStore) applyTo(h http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range s.headers {
		h.Set(name, value)
	}
}
