package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/infra/memory"
)

// fakeClock only moves when Advance is called. Its tickers never fire, so
// tests drive the countdown through Navigator.Tick.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) app.Ticker { return idleTicker{} }

type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop() {}

type recordingView struct {
	mu     sync.Mutex
	states []app.NavigatorState
	errs   []domain.UserFacingError
}

func (v *recordingView) OnStateChange(st app.NavigatorState) {
	v.mu.Lock()
	v.states = append(v.states, st)
	v.mu.Unlock()
}

func (v *recordingView) OnProgress(app.ProgressStage, int) {}

func (v *recordingView) OnError(err domain.UserFacingError) {
	v.mu.Lock()
	v.errs = append(v.errs, err)
	v.mu.Unlock()
}

func (v *recordingView) last() app.NavigatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[len(v.states)-1]
}

func (v *recordingView) errorCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.errs)
}

// failingResults rejects every result write.
type failingResults struct {
	*memory.Store
}

func (failingResults) PutResult(context.Context, domain.Result) error {
	return errors.New("disk full")
}

// switchableResults rejects result writes while failing is set.
type switchableResults struct {
	*memory.Store
	failing atomic.Bool
}

func (s *switchableResults) PutResult(ctx context.Context, r domain.Result) error {
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.Store.PutResult(ctx, r)
}

func intPtr(v int) *int { return &v }

// sampleQuiz has one question of each kind.
func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "General knowledge",
		Questions: []domain.Question{
			{ID: "q1", Type: domain.MCQSingle, Prompt: "2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1, Explanation: "Basic addition."},
			{ID: "q2", Type: domain.MCQMultiple, Prompt: "Primes?", Options: []string{"2", "3", "4", "6"}, CorrectIndices: []int{0, 1}},
			{ID: "q3", Type: domain.TextInput, Prompt: "Capital of France?", CorrectAnswer: "Paris"},
		},
	}
}

func correctAnswers() map[string]domain.Answer {
	return map[string]domain.Answer{
		"q1": domain.SingleAnswer(1),
		"q2": domain.MultipleAnswer(1, 0),
		"q3": domain.TextAnswer("  paris "),
	}
}
