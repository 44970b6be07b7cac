package domain

import (
	"fmt"
	"time"
)

// Settings tune how a quiz is delivered.
type Settings struct {
	ShuffleQuestions bool `json:"shuffleQuestions"`
	ShowExplanations bool `json:"showExplanations"`
	TimeLimitMinutes *int `json:"timeLimitMinutes,omitempty" validate:"omitempty,min=1,max=1440"`
}

// TimeLimit returns the configured budget, or zero when the quiz is untimed.
func (s Settings) TimeLimit() time.Duration {
	if s.TimeLimitMinutes == nil {
		return 0
	}
	return time.Duration(*s.TimeLimitMinutes) * time.Minute
}

// Quiz is a collection of questions.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title" validate:"notblank,max=200"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	Questions   []Question `json:"questions" validate:"min=1"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Settings    Settings   `json:"settings"`
}

// Validate checks the quiz fields, id uniqueness and every question's invariants.
func (q Quiz) Validate() error {
	if err := validateStruct(q); err != nil {
		return E(KindValidation, "quiz "+q.ID, err.Error(), nil)
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for i, question := range q.Questions {
		if question.ID == "" {
			return E(KindValidation, "quiz "+q.ID, fmt.Sprintf("question %d has no id", i), nil)
		}
		if _, dup := seen[question.ID]; dup {
			return E(KindValidation, "quiz "+q.ID, fmt.Sprintf("duplicate question id %q", question.ID), nil)
		}
		seen[question.ID] = struct{}{}
		if err := question.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Verdict is the outcome of judging one answer. Correct is set iff Admissible.
type Verdict struct {
	Admissible bool   `json:"admissible"`
	Reason     string `json:"reason,omitempty"`
	Correct    *bool  `json:"correct,omitempty"`
}

// IsCorrect reports an admissible, correct verdict.
func (v Verdict) IsCorrect() bool {
	return v.Admissible && v.Correct != nil && *v.Correct
}

// AttemptState is the in-memory state of one quiz-taking session.
type AttemptState struct {
	QuizID          string
	StartedAt       time.Time
	EndedAt         *time.Time
	Answers         map[string]Answer
	Verdicts        map[string]Verdict
	SubmittedAt     map[string]time.Time
	LastPersistedAt *time.Time
}

// CompletionReason records why an attempt was finalized.
type CompletionReason string

const (
	CompletionSubmitted   CompletionReason = "completed"
	CompletionTimeExpired CompletionReason = "time-expired"
)

// QuestionRecord is the per-question line of a Result.
type QuestionRecord struct {
	QuestionID      string     `json:"questionId"`
	UserAnswer      *Answer    `json:"userAnswer"`
	Correct         bool       `json:"correct"`
	ExplanationText string     `json:"explanation,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
}

// ResultMetadata holds derived statistics for a Result.
type ResultMetadata struct {
	AnsweredCount             int              `json:"answeredCount"`
	ValidAnswerCount          int              `json:"validAnswerCount"`
	AverageSecondsPerQuestion float64          `json:"averageSecondsPerQuestion"`
	CompletionReason          CompletionReason `json:"completionReason,omitempty"`
}

// Result is the persisted, append-only record of a finished attempt.
type Result struct {
	ID               string           `json:"id"`
	QuizID           string           `json:"quizId"`
	UserID           string           `json:"userId"`
	ScorePercent     int              `json:"scorePercent"`
	CorrectCount     int              `json:"correctCount"`
	TotalQuestions   int              `json:"totalQuestions"`
	Answers          []QuestionRecord `json:"answers"`
	StartedAt        time.Time        `json:"startedAt"`
	CompletedAt      time.Time        `json:"completedAt"`
	TimeSpentSeconds int              `json:"timeSpentSeconds"`
	Metadata         ResultMetadata   `json:"metadata"`
}

// QuotaRecord is a service-scoped snapshot of API usage.
type QuotaRecord struct {
	Service           string  `json:"service"`
	Used              *int64  `json:"used,omitempty"`
	Remaining         *int64  `json:"remaining,omitempty"`
	Limit             *int64  `json:"limit,omitempty"`
	ResetEpochSeconds *int64  `json:"resetEpochSeconds,omitempty"`
	UsageFraction     float64 `json:"usageFraction"`
	LastUpdatedMillis int64   `json:"lastUpdatedMillis"`
}

// ExplanationEntry is one cached per-answer explanation.
type ExplanationEntry struct {
	Key                string `json:"key"`
	Text               string `json:"text"`
	CreatedEpochMillis int64  `json:"createdEpochMillis"`
	ExpiresEpochMillis int64  `json:"expiresEpochMillis"`
}

// Difficulty of generated questions.
type Difficulty string

const (
	DifficultyMixed  Difficulty = "mixed"
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// GenerationOptions parameterize LLM question generation.
type GenerationOptions struct {
	Count        int            `json:"count" validate:"min=1,max=20"`
	Difficulty   Difficulty     `json:"difficulty" validate:"oneof=mixed easy medium hard"`
	AllowedKinds []QuestionType `json:"allowedKinds" validate:"min=1,dive,oneof=mcq-single mcq-multiple text-input"`
}

// Validate checks count range, difficulty and kinds.
func (o GenerationOptions) Validate() error {
	if err := validateStruct(o); err != nil {
		return E(KindValidation, "generation options", err.Error(), nil)
	}
	return nil
}

// Allows reports whether kind t may be generated.
func (o GenerationOptions) Allows(t QuestionType) bool {
	for _, k := range o.AllowedKinds {
		if k == t {
			return true
		}
	}
	return false
}

// DefaultGenerationOptions mirror the authoring form's initial values.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Count:        5,
		Difficulty:   DifficultyMixed,
		AllowedKinds: []QuestionType{MCQSingle, MCQMultiple, TextInput},
	}
}

// Preferences are the single local user's settings.
type Preferences struct {
	UserID            string            `json:"userId"`
	Theme             string            `json:"theme,omitempty"`
	DefaultGeneration GenerationOptions `json:"defaultGeneration"`
}
