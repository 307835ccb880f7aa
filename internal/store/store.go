// Package store holds the most recent clip seen by a process and decides
// whether a new one should be propagated.
package store

import (
	"sync"

	"go.klb.dev/mpclip/internal/message"
)

// Store remembers the latest accepted clip. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	latest *message.Clip
	text   string
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Add accepts clip if its text differs from the latest clip and it is not
// older than it. Accepted clips become the latest.
func (s *Store) Add(clip *message.Clip) bool {
	text, err := clip.Text()
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil {
		if text == s.text || clip.Before(s.latest) {
			return false
		}
	}
	s.latest, s.text = clip, text
	return true
}

// Latest returns the latest accepted clip, or nil.
func (s *Store) Latest() *message.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
