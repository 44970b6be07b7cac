package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

// Store is an in-memory app.Store. Values are kept encoded so callers never
// share memory with stored data.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	quizzes map[string][]byte
	results [][]byte
}

func NewStore() *Store {
	return &Store{
		blobs:   make(map[string][]byte),
		quizzes: make(map[string][]byte),
	}
}

func (s *Store) PutBlob(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) GetBlob(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) DeleteBlob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *Store) PutQuiz(_ context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = data
	return nil
}

func (s *Store) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	s.mu.RLock()
	data, ok := s.quizzes[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *Store) AllQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.quizzes))
	for id := range s.quizzes {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	quizzes := make([]domain.Quiz, 0, len(ids))
	for _, id := range ids {
		quiz, err := s.GetQuiz(ctx, id)
		if err != nil {
			continue
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, nil
}

func (s *Store) DeleteQuiz(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quizzes, id)
	return nil
}

func (s *Store) PutResult(_ context.Context, result domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, data)
	return nil
}

// Results returns matching results, most recently stored first.
func (s *Store) Results(_ context.Context, filter app.ResultFilter) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Result
	for i := len(s.results) - 1; i >= 0; i-- {
		var r domain.Result
		if err := json.Unmarshal(s.results[i], &r); err != nil {
			return nil, err
		}
		if !filter.Match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
