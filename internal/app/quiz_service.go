package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
)

// AttemptRepository tracks the live navigator of each quiz (in-memory, Redis, etc).
type AttemptRepository interface {
	GetOrCreate(quizID string, create func() *Navigator) (*Navigator, bool)
	Get(quizID string) (*Navigator, bool)
	DeleteIfFinished(quizID string)
}

// QuizService contains the authoring and delivery use cases.
type QuizService struct {
	store    Store
	quizzes  QuizRepository
	attempts AttemptRepository
	log      zerolog.Logger
	now      func() time.Time
	clock    Clock
}

// ServiceOption customizes a QuizService.
type ServiceOption func(*QuizService)

// WithServiceClock is test-only for deterministic timestamps and countdowns.
func WithServiceClock(c Clock) ServiceOption {
	return func(s *QuizService) {
		s.clock = c
		s.now = c.Now
	}
}

func NewQuizService(store Store, quizzes QuizRepository, attempts AttemptRepository, log zerolog.Logger, opts ...ServiceOption) *QuizService {
	s := &QuizService{
		store:    store,
		quizzes:  quizzes,
		attempts: attempts,
		log:      log.With().Str("component", "quiz_service").Logger(),
		now:      time.Now,
		clock:    SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateQuiz assigns ids and timestamps, validates and stores a new quiz.
func (s *QuizService) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	quiz = s.normalize(quiz)
	now := s.now().UTC()
	quiz.CreatedAt = now
	quiz.UpdatedAt = now
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.store.PutQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, domain.E(domain.KindPersistence, "create quiz", "", err)
	}
	s.quizzes.Invalidate(quiz.ID)
	s.log.Info().Str("quiz_id", quiz.ID).Int("questions", len(quiz.Questions)).Msg("quiz created")
	return quiz, nil
}

// UpdateQuiz replaces an existing quiz, keeping its creation time.
func (s *QuizService) UpdateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	existing, err := s.store.GetQuiz(ctx, quiz.ID)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz = s.normalize(quiz)
	quiz.CreatedAt = existing.CreatedAt
	quiz.UpdatedAt = s.now().UTC()
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.store.PutQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, domain.E(domain.KindPersistence, "update quiz", "", err)
	}
	s.quizzes.Invalidate(quiz.ID)
	return quiz, nil
}

// DeleteQuiz removes a quiz and any saved progress for it.
func (s *QuizService) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := s.store.GetQuiz(ctx, quizID); err != nil {
		return err
	}
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return domain.E(domain.KindPersistence, "delete quiz", "", err)
	}
	for _, key := range []string{config.ProgressKey(quizID), config.NavigationKey(quizID)} {
		if err := s.store.DeleteBlob(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("delete saved progress")
		}
	}
	s.quizzes.Invalidate(quizID)
	return nil
}

// GetQuiz reads through the quiz cache.
func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// ListQuizzes returns every quiz, most recently updated first.
func (s *QuizService) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	quizzes, err := s.store.AllQuizzes(ctx)
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "list quizzes", "", err)
	}
	sort.SliceStable(quizzes, func(i, j int) bool {
		if !quizzes[i].UpdatedAt.Equal(quizzes[j].UpdatedAt) {
			return quizzes[i].UpdatedAt.After(quizzes[j].UpdatedAt)
		}
		return quizzes[i].Title < quizzes[j].Title
	})
	return quizzes, nil
}

// ImportQuizzes accepts one quiz object or an array of them. Imported quizzes
// get a fresh id when theirs is missing or already taken.
func (s *QuizService) ImportQuizzes(ctx context.Context, data []byte) ([]domain.Quiz, error) {
	var batch []domain.Quiz
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, domain.E(domain.KindValidation, "import", "unreadable quiz file", err)
		}
	} else {
		var one domain.Quiz
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, domain.E(domain.KindValidation, "import", "unreadable quiz file", err)
		}
		batch = []domain.Quiz{one}
	}

	imported := make([]domain.Quiz, 0, len(batch))
	for _, quiz := range batch {
		if quiz.ID != "" {
			if _, err := s.store.GetQuiz(ctx, quiz.ID); err == nil {
				quiz.ID = ""
			} else if !errors.Is(err, domain.ErrNotFound) {
				return imported, err
			}
		}
		created, err := s.CreateQuiz(ctx, quiz)
		if err != nil {
			return imported, err
		}
		imported = append(imported, created)
	}
	return imported, nil
}

// ExportQuiz renders a quiz in the interchange format.
func (s *QuizService) ExportQuiz(ctx context.Context, quizID string) ([]byte, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(quiz, "", "  ")
}

// Results lists persisted results, newest first.
func (s *QuizService) Results(ctx context.Context, filter ResultFilter) ([]domain.Result, error) {
	results, err := s.store.Results(ctx, filter)
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "list results", "", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CompletedAt.After(results[j].CompletedAt)
	})
	return results, nil
}

// StartAttempt creates and starts the navigator for a quiz. Only one attempt per
// quiz may be live; a finished one is replaced.
func (s *QuizService) StartAttempt(ctx context.Context, quizID string, view ViewHost, resumable bool) (*Navigator, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	userID, err := s.UserID(ctx)
	if err != nil {
		return nil, err
	}

	s.attempts.DeleteIfFinished(quizID)
	nav, created := s.attempts.GetOrCreate(quizID, func() *Navigator {
		return NewNavigator(s.store,
			WithView(view),
			WithClock(s.clock),
			WithLogger(s.log),
			WithUser(userID),
			WithOnComplete(func(r domain.Result) {
				s.log.Info().Str("result_id", r.ID).Str("quiz_id", r.QuizID).Msg("result stored")
			}),
		)
	})
	if !created {
		return nil, domain.ErrAttemptActive
	}
	if err := nav.Start(ctx, quiz, resumable); err != nil {
		nav.Abort()
		s.attempts.DeleteIfFinished(quizID)
		return nil, err
	}
	return nav, nil
}

// Attempt returns the live navigator of a quiz.
func (s *QuizService) Attempt(quizID string) (*Navigator, bool) {
	return s.attempts.Get(quizID)
}

// EndAttempt drops a finished navigator from the registry.
func (s *QuizService) EndAttempt(quizID string) {
	s.attempts.DeleteIfFinished(quizID)
}

// UserID returns the opaque local user id, creating it on first use.
func (s *QuizService) UserID(ctx context.Context) (string, error) {
	data, ok, err := s.store.GetBlob(ctx, config.UserIDKey)
	if err != nil {
		return "", domain.E(domain.KindPersistence, "user id", "", err)
	}
	if ok {
		var id string
		if err := json.Unmarshal(data, &id); err == nil && id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	raw, _ := json.Marshal(id)
	if err := s.store.PutBlob(ctx, config.UserIDKey, raw); err != nil {
		return "", domain.E(domain.KindPersistence, "user id", "", err)
	}
	return id, nil
}

// Preferences loads the user's preferences, falling back to defaults.
func (s *QuizService) Preferences(ctx context.Context) (domain.Preferences, error) {
	userID, err := s.UserID(ctx)
	if err != nil {
		return domain.Preferences{}, err
	}
	prefs := domain.Preferences{UserID: userID, DefaultGeneration: domain.DefaultGenerationOptions()}
	data, ok, err := s.store.GetBlob(ctx, config.PreferencesKey)
	if err != nil {
		return prefs, domain.E(domain.KindPersistence, "preferences", "", err)
	}
	if ok {
		if err := json.Unmarshal(data, &prefs); err != nil {
			s.log.Warn().Err(err).Msg("discarding unreadable preferences")
		}
		prefs.UserID = userID
	}
	return prefs, nil
}

// SavePreferences validates and stores preferences.
func (s *QuizService) SavePreferences(ctx context.Context, prefs domain.Preferences) error {
	if err := prefs.DefaultGeneration.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if err := s.store.PutBlob(ctx, config.PreferencesKey, data); err != nil {
		return domain.E(domain.KindPersistence, "preferences", "", err)
	}
	return nil
}

func (s *QuizService) normalize(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.Prompt = strings.TrimSpace(q.Prompt)
		questions[i] = q.Canonical()
	}
	quiz.Questions = questions
	quiz.Title = strings.TrimSpace(quiz.Title)
	return quiz
}
