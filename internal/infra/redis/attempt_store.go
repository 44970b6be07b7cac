package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-studio/internal/app"
)

// AttemptStore is a Redis-aware implementation of app.AttemptRepository.
// Navigators live in process; Redis carries a liveness marker per attempt so
// other tools sharing the instance can see that a quiz is being taken.
type AttemptStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	attempts map[string]*app.Navigator
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{
		client:   client,
		ttl:      ttl,
		attempts: make(map[string]*app.Navigator),
	}
}

func (s *AttemptStore) GetOrCreate(quizID string, create func() *app.Navigator) (*app.Navigator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nav, ok := s.attempts[quizID]; ok {
		return nav, false
	}
	nav := create()
	s.attempts[quizID] = nav
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(quizID), "1", s.ttl).Err()
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
		_ = s.client.Del(context.Background(), s.key(quizID)).Err()
	}
}

func (s *AttemptStore) key(quizID string) string {
	return "quiz:attempt:" + quizID
}
