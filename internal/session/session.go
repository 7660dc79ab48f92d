package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/proteosurf/proteosurf/internal/models"
)

// Session holds the current structure context for one conversation.
// Render tools key their subprocess on the session id, so a conversation
// shares one renderer across all its tool calls.
type Session struct {
	id string

	mu      sync.Mutex
	current *models.Structure
}

// New creates an empty session with no structure loaded.
func New() *Session {
	return &Session{id: uuid.New().String()}
}

// ID is the stable conversation identifier for this session.
func (s *Session) ID() string {
	return s.id
}

// SetCurrent records the structure later tool calls operate on by
// default. Mutated copies replace the original here without touching it.
func (s *Session) SetCurrent(st *models.Structure) {
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
}

// Current returns the active structure, or nil if none is loaded.
func (s *Session) Current() *models.Structure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear drops the structure context.
func (s *Session) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
