package client

import "sync"

const (
	reactionRecordKeyPrefix = "post-reactions:"
	viewMarkerKeyPrefix     = "post-view:"
	viewMarkerValue         = "true"
)

// Storage is a string key-value store scoped like browser storage. A LocalStorage role
// outlives sessions; a SessionStorage role is discarded when the browsing session ends.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// ReactionRecordKey names the persistent entry listing the reactions a visitor left on a post.
func ReactionRecordKey(slug string) string {
	return reactionRecordKeyPrefix + slug
}

// ViewMarkerKey names the session entry marking a post as already counted.
func ViewMarkerKey(slug string) string {
	return viewMarkerKeyPrefix + slug
}

// MemoryStorage is an in-process Storage safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Clear drops every entry, as a browser does when a session ends.
func (s *MemoryStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
}
