package app

import (
	"context"

	"quiz-studio/internal/domain"
)

// Phase is the navigator's lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseAborted   Phase = "aborted"
)

// TimerBand flags the last minute and the last ten seconds of a timed attempt.
type TimerBand string

const (
	TimerNormal   TimerBand = ""
	TimerWarning  TimerBand = "warning"
	TimerCritical TimerBand = "critical"
)

// NavigatorState is the snapshot pushed to the view host on every change.
type NavigatorState struct {
	Phase                Phase     `json:"phase"`
	CurrentIndex         int       `json:"currentIndex"`
	Total                int       `json:"total"`
	AnsweredCount        int       `json:"answeredCount"`
	QuestionID           string    `json:"questionId,omitempty"`
	TimeRemainingSeconds *int      `json:"timeRemainingSeconds,omitempty"`
	TimerBand            TimerBand `json:"timerBand,omitempty"`
}

// ProgressStage labels the phases of question generation.
type ProgressStage string

const (
	StageAnalyzing  ProgressStage = "analyzing"
	StageGenerating ProgressStage = "generating"
	StageValidating ProgressStage = "validating"
	StageComplete   ProgressStage = "complete"
)

// ViewHost receives structured updates; it never decides correctness.
type ViewHost interface {
	OnStateChange(state NavigatorState)
	OnProgress(stage ProgressStage, percent int)
	OnError(err domain.UserFacingError)
}

// AnswerSource asks the user for an answer. Implementations return an error
// matching domain.ErrCancelled when the user dismisses the prompt.
type AnswerSource interface {
	RequestAnswer(ctx context.Context, q domain.Question, state NavigatorState) (domain.Answer, error)
}

// NopView discards every update.
type NopView struct{}

func (NopView) OnStateChange(NavigatorState) {}
func (NopView) OnProgress(ProgressStage, int) {}
func (NopView) OnError(domain.UserFacingError) {}
