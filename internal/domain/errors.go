package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies failures so callers can decide whether to retry, surface or degrade.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not-found"
	KindPersistence       Kind = "persistence"
	KindNetwork           Kind = "network"
	KindQuotaExceeded     Kind = "quota-exceeded"
	KindCancelled         Kind = "cancelled"
	KindMalformedResponse Kind = "malformed-response"
	KindTimeExpired       Kind = "time-expired"
)

// Error is the kinded error used across the core.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, and on message when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// E builds a kinded error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrQuotaExceeded     = &Error{Kind: KindQuotaExceeded}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrTimeExpired       = &Error{Kind: KindTimeExpired}

	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = &Error{Kind: KindNotFound, Msg: "quiz not found"}
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = &Error{Kind: KindNotFound, Msg: "not found"}
	// ErrNotAllAnswered is returned by a non-forced completion with gaps.
	ErrNotAllAnswered = &Error{Kind: KindValidation, Msg: "not-all-answered"}
	// ErrNotRunning is returned when the navigator is not accepting input.
	ErrNotRunning = &Error{Kind: KindValidation, Msg: "not-running"}
	// ErrNoQuestionsGenerated is returned when every LLM candidate was rejected.
	ErrNoQuestionsGenerated = &Error{Kind: KindValidation, Msg: "no-questions-generated"}
	// ErrAttemptActive is returned when a quiz already has a live attempt.
	ErrAttemptActive = &Error{Kind: KindValidation, Msg: "attempt already active"}
)

// QuotaExceededError carries the reset hint of a rate-limited LLM service.
type QuotaExceededError struct {
	Service    string
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("quota exceeded for %s, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("quota exceeded for %s until %s", e.Service, e.ResetAt.Format(time.RFC3339))
}

func (e *QuotaExceededError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindQuotaExceeded && t.Msg == ""
}

// UserFacingError is what the view host renders for a surfaced failure.
type UserFacingError struct {
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
}

// UserError maps an error to a title, message and remediation hints.
func UserError(err error) UserFacingError {
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		msg := "The AI service rate limit was reached."
		if quota.RetryAfter > 0 {
			msg = fmt.Sprintf("The AI service rate limit was reached. Try again in %d seconds.", int(quota.RetryAfter.Seconds()))
		}
		return UserFacingError{
			Title:       "Quota exceeded",
			Message:     msg,
			Suggestions: []string{"Wait for the quota to reset", "Generate fewer questions per request"},
		}
	}
	switch KindOf(err) {
	case KindValidation:
		return UserFacingError{Title: "Invalid input", Message: err.Error(), Suggestions: []string{"Check the highlighted fields and try again"}}
	case KindNotFound:
		return UserFacingError{Title: "Not found", Message: err.Error(), Suggestions: []string{"Refresh the quiz list"}}
	case KindPersistence:
		return UserFacingError{Title: "Storage error", Message: err.Error(), Suggestions: []string{"Check available disk space", "Export your quizzes as a backup"}}
	case KindNetwork:
		return UserFacingError{Title: "Network error", Message: err.Error(), Suggestions: []string{"Check your internet connection", "Retry in a few moments"}}
	case KindMalformedResponse:
		return UserFacingError{Title: "Unreadable AI response", Message: err.Error(), Suggestions: []string{"Retry the generation", "Shorten or simplify the source text"}}
	case KindTimeExpired:
		return UserFacingError{Title: "Time is up", Message: err.Error(), Suggestions: nil}
	case KindCancelled:
		return UserFacingError{Title: "Cancelled", Message: err.Error(), Suggestions: nil}
	}
	return UserFacingError{Title: "Unexpected error", Message: err.Error(), Suggestions: []string{"Retry the operation"}}
}
