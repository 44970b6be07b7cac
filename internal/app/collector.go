package app

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/rules"
)

// SubmissionResult reports the outcome of AnswerCollector.Submit.
type SubmissionResult struct {
	OK          bool           `json:"ok"`
	QuestionID  string         `json:"questionId"`
	Answer      domain.Answer  `json:"answer"`
	Verdict     domain.Verdict `json:"verdict"`
	SubmittedAt time.Time      `json:"submittedAt"`
	Reason      string         `json:"reason,omitempty"`
	Err         error          `json:"-"`
}

func failedSubmission(questionID string, answer domain.Answer, err *domain.Error) SubmissionResult {
	return SubmissionResult{
		QuestionID: questionID,
		Answer:     answer,
		Verdict:    domain.Verdict{Admissible: false, Reason: err.Msg},
		Reason:     err.Msg,
		Err:        err,
	}
}

// Score is the running tally of an attempt.
type Score struct {
	CorrectCount      int `json:"correctCount"`
	TotalAnswered     int `json:"totalAnswered"`
	TotalQuestions    int `json:"totalQuestions"`
	CurrentPercent    int `json:"currentPercent"`
	ProjectedPercent  int `json:"projectedPercent"`
	CompletionPercent int `json:"completionPercent"`
}

// AnswerCollector validates, stores and persists the answers of one attempt.
// It is the only component that decides correctness.
type AnswerCollector struct {
	quiz   domain.Quiz
	store  BlobStore
	log    zerolog.Logger
	now    func() time.Time
	userID string

	mu        sync.RWMutex
	state     domain.AttemptState
	lastStamp time.Time
}

// CollectorOption customizes an AnswerCollector.
type CollectorOption func(*AnswerCollector)

// WithCollectorClock is used by tests for deterministic timestamps.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *AnswerCollector) { c.now = now }
}

// WithUserID stamps results with the local user's identifier.
func WithUserID(id string) CollectorOption {
	return func(c *AnswerCollector) { c.userID = id }
}

// WithCollectorLogger sets the diagnostic logger.
func WithCollectorLogger(log zerolog.Logger) CollectorOption {
	return func(c *AnswerCollector) { c.log = log }
}

// NewAnswerCollector starts an empty attempt over quiz; progress is kept in store.
func NewAnswerCollector(quiz domain.Quiz, store BlobStore, opts ...CollectorOption) *AnswerCollector {
	c := &AnswerCollector{
		quiz:  quiz,
		store: store,
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "answer_collector").Str("quiz_id", quiz.ID).Logger()
	c.state = c.freshState()
	return c
}

// clock returns UTC wall time at millisecond precision so persisted timestamps round-trip exactly.
func (c *AnswerCollector) clock() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}

func (c *AnswerCollector) freshState() domain.AttemptState {
	return domain.AttemptState{
		QuizID:      c.quiz.ID,
		StartedAt:   c.clock(),
		Answers:     make(map[string]domain.Answer),
		Verdicts:    make(map[string]domain.Verdict),
		SubmittedAt: make(map[string]time.Time),
	}
}

// Submit judges and stores an answer. Inadmissible answers and unknown
// questions leave the state untouched. Re-submission overwrites.
func (c *AnswerCollector) Submit(questionID string, answer domain.Answer) SubmissionResult {
	question, ok := c.quiz.Question(questionID)
	if !ok {
		return failedSubmission(questionID, answer, domain.E(domain.KindNotFound, "submit", "not found", nil))
	}
	verdict := rules.Judge(answer, question)
	if !verdict.Admissible {
		return failedSubmission(questionID, answer, domain.E(domain.KindValidation, "submit", verdict.Reason, nil))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := c.clock()
	if stamp.Before(c.lastStamp) {
		stamp = c.lastStamp
	}
	c.lastStamp = stamp

	stored := answer.Clone()
	c.state.Answers[questionID] = stored
	c.state.Verdicts[questionID] = verdict
	c.state.SubmittedAt[questionID] = stamp

	return SubmissionResult{
		OK:          true,
		QuestionID:  questionID,
		Answer:      stored.Clone(),
		Verdict:     verdict,
		SubmittedAt: stamp,
	}
}

// Answer returns the stored answer for a question.
func (c *AnswerCollector) Answer(questionID string) (domain.Answer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.state.Answers[questionID]
	if !ok {
		return domain.Answer{}, false
	}
	return a.Clone(), true
}

// Verdict returns the verdict recorded at submission time.
func (c *AnswerCollector) Verdict(questionID string) (domain.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state.Verdicts[questionID]
	return v, ok
}

// IsAnswered reports whether an admissible answer is stored for the question.
func (c *AnswerCollector) IsAnswered(questionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.state.Answers[questionID]
	return ok
}

// AnsweredCount is the number of questions with a stored answer.
func (c *AnswerCollector) AnsweredCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state.Answers)
}

// AllAnswered reports whether every question of the quiz has an answer.
func (c *AnswerCollector) AllAnswered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, q := range c.quiz.Questions {
		if _, ok := c.state.Answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

// FirstUnanswered returns the first question id in declared order without an answer.
func (c *AnswerCollector) FirstUnanswered() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, q := range c.quiz.Questions {
		if _, ok := c.state.Answers[q.ID]; !ok {
			return q.ID, true
		}
	}
	return "", false
}

// StartedAt is the attempt's start time.
func (c *AnswerCollector) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.StartedAt
}

// LastPersistedAt is set after every successful SaveProgress.
func (c *AnswerCollector) LastPersistedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.LastPersistedAt == nil {
		return time.Time{}, false
	}
	return *c.state.LastPersistedAt, true
}

// CurrentScore recomputes correctness through the rules for every stored answer.
func (c *AnswerCollector) CurrentScore() Score {
	c.mu.RLock()
	defer c.mu.RUnlock()

	score := Score{TotalQuestions: len(c.quiz.Questions)}
	for _, q := range c.quiz.Questions {
		a, ok := c.state.Answers[q.ID]
		if !ok {
			continue
		}
		score.TotalAnswered++
		if rules.Correct(a, q) {
			score.CorrectCount++
		}
	}
	score.CurrentPercent = percent(score.CorrectCount, score.TotalAnswered)
	score.ProjectedPercent = percent(score.CorrectCount, score.TotalQuestions)
	score.CompletionPercent = percent(score.TotalAnswered, score.TotalQuestions)
	return score
}

func percent(n, d int) int {
	if d == 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(d)))
}

// GenerateFinalResults emits one record per question in the quiz's declared order.
// Unanswered questions yield a nil answer and correct=false.
func (c *AnswerCollector) GenerateFinalResults() domain.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	completedAt := c.clock()
	result := domain.Result{
		ID:             uuid.NewString(),
		QuizID:         c.quiz.ID,
		UserID:         c.userID,
		TotalQuestions: len(c.quiz.Questions),
		Answers:        make([]domain.QuestionRecord, 0, len(c.quiz.Questions)),
		StartedAt:      c.state.StartedAt,
		CompletedAt:    completedAt,
	}

	for _, q := range c.quiz.Questions {
		record := domain.QuestionRecord{QuestionID: q.ID, ExplanationText: q.Explanation}
		if a, ok := c.state.Answers[q.ID]; ok {
			answer := a.Clone()
			record.UserAnswer = &answer
			if ts, ok := c.state.SubmittedAt[q.ID]; ok {
				stamp := ts
				record.SubmittedAt = &stamp
			}
			result.Metadata.AnsweredCount++
			if rules.Admissible(a, q).OK {
				result.Metadata.ValidAnswerCount++
				record.Correct = rules.Correct(a, q)
			}
		}
		if record.Correct {
			result.CorrectCount++
		}
		result.Answers = append(result.Answers, record)
	}

	result.ScorePercent = percent(result.CorrectCount, result.TotalQuestions)
	spent := completedAt.Sub(c.state.StartedAt)
	if spent < 0 {
		spent = 0
	}
	result.TimeSpentSeconds = int(spent / time.Second)
	if result.Metadata.AnsweredCount > 0 {
		avg := spent.Seconds() / float64(result.Metadata.AnsweredCount)
		result.Metadata.AverageSecondsPerQuestion = math.Round(avg*100) / 100
	}
	result.Metadata.CompletionReason = domain.CompletionSubmitted
	return result
}

// progressSnapshot is the persisted form of an AttemptState. Maps marshal with
// sorted keys, so unchanged state always serializes to the same bytes.
type progressSnapshot struct {
	QuizID      string                    `json:"quizId"`
	StartedAt   time.Time                 `json:"startedAt"`
	Answers     map[string]domain.Answer  `json:"answers"`
	Verdicts    map[string]domain.Verdict `json:"verdicts"`
	SubmittedAt map[string]time.Time      `json:"submittedAt"`
}

// SaveProgress persists the attempt state. Failures are logged and reported as false.
func (c *AnswerCollector) SaveProgress(ctx context.Context) bool {
	c.mu.RLock()
	data, err := json.Marshal(progressSnapshot{
		QuizID:      c.state.QuizID,
		StartedAt:   c.state.StartedAt,
		Answers:     c.state.Answers,
		Verdicts:    c.state.Verdicts,
		SubmittedAt: c.state.SubmittedAt,
	})
	c.mu.RUnlock()
	if err != nil {
		c.log.Error().Err(err).Msg("encode progress")
		return false
	}

	if err := c.store.PutBlob(ctx, config.ProgressKey(c.quiz.ID), data); err != nil {
		c.log.Error().Err(err).Msg("save progress")
		return false
	}

	c.mu.Lock()
	now := c.clock()
	c.state.LastPersistedAt = &now
	c.mu.Unlock()
	return true
}

// LoadProgress replaces the in-memory state with the saved one, if any.
// Answers for questions no longer in the quiz are dropped.
func (c *AnswerCollector) LoadProgress(ctx context.Context) bool {
	data, ok, err := c.store.GetBlob(ctx, config.ProgressKey(c.quiz.ID))
	if err != nil {
		c.log.Error().Err(err).Msg("load progress")
		return false
	}
	if !ok {
		return false
	}

	var snap progressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn().Err(err).Msg("discarding unreadable progress")
		return false
	}
	if snap.QuizID != c.quiz.ID {
		c.log.Warn().Str("saved_quiz_id", snap.QuizID).Msg("discarding progress of another quiz")
		return false
	}

	state := domain.AttemptState{
		QuizID:      snap.QuizID,
		StartedAt:   snap.StartedAt,
		Answers:     make(map[string]domain.Answer, len(snap.Answers)),
		Verdicts:    make(map[string]domain.Verdict, len(snap.Verdicts)),
		SubmittedAt: make(map[string]time.Time, len(snap.SubmittedAt)),
	}
	var last time.Time
	for id, a := range snap.Answers {
		if _, known := c.quiz.Question(id); !known {
			continue
		}
		state.Answers[id] = a
		if v, ok := snap.Verdicts[id]; ok {
			state.Verdicts[id] = v
		}
		if ts, ok := snap.SubmittedAt[id]; ok {
			state.SubmittedAt[id] = ts
			if ts.After(last) {
				last = ts
			}
		}
	}

	c.mu.Lock()
	c.state = state
	c.lastStamp = last
	c.mu.Unlock()
	return true
}

// ClearProgress deletes the saved attempt state.
func (c *AnswerCollector) ClearProgress(ctx context.Context) bool {
	if err := c.store.DeleteBlob(ctx, config.ProgressKey(c.quiz.ID)); err != nil {
		c.log.Error().Err(err).Msg("clear progress")
		return false
	}
	return true
}

// Reset clears all answers and starts a new attempt clock.
func (c *AnswerCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.freshState()
	c.lastStamp = time.Time{}
}
