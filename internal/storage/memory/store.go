// Package memory is an in-memory Store used by tests and the CLI, where
// persistence across processes is not needed.
package memory

import (
	"context"
	"sync"

	"github.com/cmskit/assistant-engine/internal/storage"
)

// Store is a map-backed settings store, safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	assistantID string
	threads     map[string]string
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{threads: make(map[string]string)}
}

func (s *Store) AssistantID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistantID, nil
}

func (s *Store) SetAssistantID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantID = id
	return nil
}

func (s *Store) ThreadID(ctx context.Context, user string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[user], nil
}

func (s *Store) SetThreadID(ctx context.Context, user, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[user] = threadID
	return nil
}

func (s *Store) DeleteThreadID(ctx context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, user)
	return nil
}

func (s *Store) Close() error {
	return nil
}
