package memory

import (
	"sync"

	"quiz-studio/internal/app"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*app.Navigator
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*app.Navigator),
	}
}

// GetOrCreate returns the registered navigator, or registers the one built by
// create and reports created=true.
func (s *AttemptStore) GetOrCreate(quizID string, create func() *app.Navigator) (*app.Navigator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nav, ok := s.attempts[quizID]; ok {
		return nav, false
	}
	nav := create()
	s.attempts[quizID] = nav
	return nav, true
}

func (s *AttemptStore) Get(quizID string) (*app.Navigator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nav, ok := s.attempts[quizID]
	return nav, ok
}

func (s *AttemptStore) DeleteIfFinished(quizID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav, ok := s.attempts[quizID]
	if !ok {
		return
	}
	if nav.Finished() {
		delete(s.attempts, quizID)
	}
}
