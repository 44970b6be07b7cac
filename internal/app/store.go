package app

import (
	"context"
	"time"

	"quiz-studio/internal/domain"
)

// BlobStore is the key/value half of the persistence host. Values are JSON documents.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, value []byte) error
	// GetBlob reports ok=false when the key is absent.
	GetBlob(ctx context.Context, key string) (value []byte, ok bool, err error)
	DeleteBlob(ctx context.Context, key string) error
}

// Store abstracts the persistence host (memory, SQLite, Redis, Postgres).
type Store interface {
	BlobStore

	PutQuiz(ctx context.Context, quiz domain.Quiz) error
	// GetQuiz returns domain.ErrQuizNotFound when id does not resolve.
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	AllQuizzes(ctx context.Context) ([]domain.Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error

	// PutResult appends a result; results are never updated in place.
	PutResult(ctx context.Context, result domain.Result) error
	Results(ctx context.Context, filter ResultFilter) ([]domain.Result, error)
}

// ResultFilter narrows result queries. Zero values match everything.
type ResultFilter struct {
	QuizID string
	Since  time.Time
	Limit  int
}

// Match reports whether r passes the filter's predicates (Limit is applied by callers).
func (f ResultFilter) Match(r domain.Result) bool {
	if f.QuizID != "" && r.QuizID != f.QuizID {
		return false
	}
	if !f.Since.IsZero() && r.CompletedAt.Before(f.Since) {
		return false
	}
	return true
}

// QuizRepository loads quiz content for delivery (usually through a read cache).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	Invalidate(quizID string)
}

// StoreQuizLoader adapts a Store to the loader shape used by quiz caches.
type StoreQuizLoader struct {
	Store Store
}

func (l StoreQuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return l.Store.GetQuiz(ctx, quizID)
}
