package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
)

const (
	warningThreshold  = 60
	criticalThreshold = 10
)

// Clock abstracts wall time and tickers so tests can drive the countdown.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the navigator uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop() { s.t.Stop() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// NavigatorOption customizes a Navigator.
type NavigatorOption func(*Navigator)

// WithClock replaces the wall clock and its tickers.
func WithClock(c Clock) NavigatorOption { return func(n *Navigator) { n.clock = c } }

// WithView sets the host that receives state changes and errors.
func WithView(v ViewHost) NavigatorOption { return func(n *Navigator) { n.view = v } }

// WithLogger sets the base logger.
func WithLogger(log zerolog.Logger) NavigatorOption { return func(n *Navigator) { n.log = log } }

// WithUser stamps results with the local user id.
func WithUser(id string) NavigatorOption { return func(n *Navigator) { n.userID = id } }

// WithOnComplete registers a callback invoked exactly once with the persisted result.
func WithOnComplete(fn func(domain.Result)) NavigatorOption {
	return func(n *Navigator) { n.onComplete = fn }
}

// Navigator sequences the questions of one attempt, runs the optional countdown,
// persists resumable progress and finalizes the result.
//
//	idle -> running <-> paused -> completed
//	running|paused -> aborted
type Navigator struct {
	store      Store
	view       ViewHost
	clock      Clock
	log        zerolog.Logger
	userID     string
	onComplete func(domain.Result)

	mu            sync.Mutex
	phase         Phase
	quiz          domain.Quiz
	order         []int
	index         int
	collector     *AnswerCollector
	timed         bool
	remaining     time.Duration
	lastTick      time.Time
	expired       bool
	ticker        Ticker
	tickStop      chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	result        *domain.Result
	completeFired bool
}

// NewNavigator returns an idle navigator persisting through store.
func NewNavigator(store Store, opts ...NavigatorOption) *Navigator {
	n := &Navigator{
		store: store,
		view:  NopView{},
		clock: SystemClock,
		log:   zerolog.Nop(),
		phase: PhaseIdle,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With().Str("component", "navigator").Logger()
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n
}

type navigationSnapshot struct {
	CurrentIndex         int       `json:"currentIndex"`
	StartedAt            time.Time `json:"startedAt"`
	TimeRemainingSeconds *int      `json:"timeRemainingSeconds,omitempty"`
	Order                []int     `json:"order"`
}

// Start begins an attempt. With resumable set, saved progress for the quiz is
// restored, including the question order and remaining time.
func (n *Navigator) Start(ctx context.Context, quiz domain.Quiz, resumable bool) error {
	if err := quiz.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	if n.phase != PhaseIdle {
		n.mu.Unlock()
		return domain.E(domain.KindValidation, "navigator.start", "already started", nil)
	}

	collector := NewAnswerCollector(quiz, n.store,
		WithCollectorClock(n.clock.Now),
		WithUserID(n.userID),
		WithCollectorLogger(n.log),
	)
	var nav *navigationSnapshot
	if resumable && collector.LoadProgress(ctx) {
		nav = n.loadNavigation(ctx, quiz.ID, collector.StartedAt())
		n.log.Info().Str("quiz_id", quiz.ID).Int("answered", collector.AnsweredCount()).Msg("resuming attempt")
	}

	total := len(quiz.Questions)
	n.quiz = quiz
	n.collector = collector
	switch {
	case nav != nil && isPermutation(nav.Order, total):
		n.order = nav.Order
	case quiz.Settings.ShuffleQuestions:
		n.order = shuffleOrder(total, collector.StartedAt())
	default:
		n.order = identityOrder(total)
	}
	n.index = 0
	if nav != nil && nav.CurrentIndex >= 0 && nav.CurrentIndex < total {
		n.index = nav.CurrentIndex
	}

	n.timed = quiz.Settings.TimeLimitMinutes != nil
	if n.timed {
		n.remaining = quiz.Settings.TimeLimit()
		if nav != nil && nav.TimeRemainingSeconds != nil {
			n.remaining = time.Duration(*nav.TimeRemainingSeconds) * time.Second
		}
	}

	n.phase = PhaseRunning
	n.lastTick = n.clock.Now()
	if n.timed {
		n.armTickerLocked()
	}
	expiredAtStart := n.timed && n.remaining <= 0
	if expiredAtStart {
		n.expired = true
	}
	st := n.stateLocked()
	n.mu.Unlock()

	n.publish(st)
	if expiredAtStart {
		n.expire()
	}
	return nil
}

func (n *Navigator) loadNavigation(ctx context.Context, quizID string, startedAt time.Time) *navigationSnapshot {
	data, ok, err := n.store.GetBlob(ctx, config.NavigationKey(quizID))
	if err != nil {
		n.log.Error().Err(err).Msg("load navigation")
		return nil
	}
	if !ok {
		return nil
	}
	var snap navigationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		n.log.Warn().Err(err).Msg("discarding unreadable navigation state")
		return nil
	}
	if !snap.StartedAt.Equal(startedAt) {
		return nil
	}
	return &snap
}

func (n *Navigator) armTickerLocked() {
	t := n.clock.NewTicker(time.Second)
	stop := make(chan struct{})
	n.ticker = t
	n.tickStop = stop
	go func() {
		for {
			select {
			case <-t.C():
				n.Tick()
			case <-stop:
				return
			}
		}
	}()
}

func (n *Navigator) stopTickerLocked() {
	if n.ticker == nil {
		return
	}
	n.ticker.Stop()
	close(n.tickStop)
	n.ticker = nil
	n.tickStop = nil
}

// Tick advances the countdown by the wall-clock time elapsed since the previous
// tick, so a suspended process is charged for the whole gap. Once time is up
// every tick retries the forced completion until the result is stored.
func (n *Navigator) Tick() {
	n.mu.Lock()
	if n.phase != PhaseRunning || !n.timed {
		n.mu.Unlock()
		return
	}
	if n.expired {
		n.mu.Unlock()
		n.expire()
		return
	}
	now := n.clock.Now()
	delta := now.Sub(n.lastTick)
	if delta < 0 {
		delta = 0
	}
	n.lastTick = now
	n.remaining -= delta
	expired := n.remaining <= 0
	if expired {
		n.remaining = 0
		n.expired = true
	}
	st := n.stateLocked()
	n.mu.Unlock()

	n.publish(st)
	if expired {
		n.expire()
	}
}

func (n *Navigator) expire() {
	n.log.Info().Str("quiz_id", n.quiz.ID).Msg("time limit reached, completing attempt")
	if _, err := n.complete(context.Background(), true, domain.CompletionTimeExpired); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		n.log.Error().Err(err).Msg("forced completion failed")
	}
}

// Next moves forward; a no-op on the last question.
func (n *Navigator) Next() NavigatorState {
	return n.move(func() {
		if n.index < len(n.order)-1 {
			n.index++
		}
	})
}

// Previous moves back; a no-op on the first question.
func (n *Navigator) Previous() NavigatorState {
	return n.move(func() {
		if n.index > 0 {
			n.index--
		}
	})
}

// GoTo jumps to a position in the delivery order; out-of-range positions are ignored.
func (n *Navigator) GoTo(position int) NavigatorState {
	return n.move(func() {
		if position >= 0 && position < len(n.order) {
			n.index = position
		}
	})
}

func (n *Navigator) move(step func()) NavigatorState {
	n.mu.Lock()
	before := n.index
	if n.phase == PhaseRunning {
		step()
	}
	changed := before != n.index
	st := n.stateLocked()
	n.mu.Unlock()
	if changed {
		n.publish(st)
	}
	return st
}

// SubmitCurrent records an answer for the question at the current position.
// Answers are refused once the time limit has passed.
func (n *Navigator) SubmitCurrent(answer domain.Answer) SubmissionResult {
	n.mu.Lock()
	if n.phase != PhaseRunning || n.expired {
		questionID := ""
		if q, ok := n.currentQuestionLocked(); ok {
			questionID = q.ID
		}
		n.mu.Unlock()
		return failedSubmission(questionID, answer, domain.E(domain.KindValidation, "navigator.submit", "not-running", nil))
	}
	q, _ := n.currentQuestionLocked()
	res := n.collector.Submit(q.ID, answer)
	st := n.stateLocked()
	n.mu.Unlock()

	if res.OK {
		n.publish(st)
	}
	return res
}

// SaveProgress persists the attempt state and the navigator position.
// It is a no-op returning false once the attempt is finished.
func (n *Navigator) SaveProgress(ctx context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseRunning && n.phase != PhasePaused {
		return false
	}

	if !n.collector.SaveProgress(ctx) {
		return false
	}
	snap := navigationSnapshot{
		CurrentIndex: n.index,
		StartedAt:    n.collector.StartedAt(),
		Order:        n.order,
	}
	if n.timed {
		secs := remainingSeconds(n.remaining)
		snap.TimeRemainingSeconds = &secs
	}
	data, err := json.Marshal(snap)
	if err != nil {
		n.log.Error().Err(err).Msg("encode navigation")
		return false
	}
	if err := n.store.PutBlob(ctx, config.NavigationKey(n.quiz.ID), data); err != nil {
		n.log.Error().Err(err).Msg("save navigation")
		return false
	}
	return true
}

// Pause freezes the countdown.
func (n *Navigator) Pause() NavigatorState {
	n.mu.Lock()
	changed := false
	if n.phase == PhaseRunning && !n.expired {
		if n.timed {
			now := n.clock.Now()
			if delta := now.Sub(n.lastTick); delta > 0 {
				n.remaining -= delta
				if n.remaining < 0 {
					n.remaining = 0
				}
			}
			n.lastTick = now
			n.stopTickerLocked()
		}
		n.phase = PhasePaused
		changed = true
	}
	st := n.stateLocked()
	n.mu.Unlock()
	if changed {
		n.publish(st)
	}
	return st
}

// Resume restarts the countdown from the time remaining at pause.
func (n *Navigator) Resume() NavigatorState {
	n.mu.Lock()
	changed := false
	if n.phase == PhasePaused {
		n.phase = PhaseRunning
		n.lastTick = n.clock.Now()
		if n.timed {
			n.armTickerLocked()
		}
		changed = true
	}
	st := n.stateLocked()
	n.mu.Unlock()
	if changed {
		n.publish(st)
	}
	return st
}

// Complete finalizes the attempt. Without force it fails while questions are unanswered.
func (n *Navigator) Complete(ctx context.Context, force bool) (domain.Result, error) {
	return n.complete(ctx, force, domain.CompletionSubmitted)
}

func (n *Navigator) complete(ctx context.Context, force bool, reason domain.CompletionReason) (domain.Result, error) {
	n.mu.Lock()
	if n.phase != PhaseRunning && n.phase != PhasePaused {
		n.mu.Unlock()
		return domain.Result{}, domain.E(domain.KindValidation, "navigator.complete", "not-running", nil)
	}
	if n.expired {
		force = true
		reason = domain.CompletionTimeExpired
	}
	if !force && !n.collector.AllAnswered() {
		n.mu.Unlock()
		return domain.Result{}, domain.E(domain.KindValidation, "navigator.complete", "not-all-answered", nil)
	}

	result := n.collector.GenerateFinalResults()
	result.Metadata.CompletionReason = reason
	if err := n.store.PutResult(ctx, result); err != nil {
		n.mu.Unlock()
		perr := domain.E(domain.KindPersistence, "navigator.complete", "save result", err)
		n.log.Error().Err(err).Str("quiz_id", result.QuizID).Msg("persist result")
		n.view.OnError(domain.UserError(perr))
		return domain.Result{}, perr
	}

	n.stopTickerLocked()
	n.collector.ClearProgress(ctx)
	if err := n.store.DeleteBlob(ctx, config.NavigationKey(n.quiz.ID)); err != nil {
		n.log.Warn().Err(err).Msg("clear navigation")
	}
	n.phase = PhaseCompleted
	n.result = &result
	close(n.done)
	fire := !n.completeFired
	n.completeFired = true
	onComplete := n.onComplete
	st := n.stateLocked()
	n.mu.Unlock()

	n.log.Info().
		Str("quiz_id", result.QuizID).
		Int("score", result.ScorePercent).
		Str("reason", string(reason)).
		Msg("attempt completed")
	n.publish(st)
	if fire && onComplete != nil {
		onComplete(result)
	}
	return result, nil
}

// Abort cancels outstanding requests bound to the attempt, stops the countdown
// and drops the in-memory state without persisting it.
func (n *Navigator) Abort() NavigatorState {
	n.mu.Lock()
	if n.phase == PhaseCompleted || n.phase == PhaseAborted {
		st := n.stateLocked()
		n.mu.Unlock()
		return st
	}
	n.stopTickerLocked()
	n.cancel()
	if n.collector != nil {
		n.collector.Reset()
	}
	n.phase = PhaseAborted
	close(n.done)
	st := n.stateLocked()
	n.mu.Unlock()

	n.publish(st)
	return st
}

// ClearProgress deletes saved progress for the quiz and aborts the attempt.
func (n *Navigator) ClearProgress(ctx context.Context) bool {
	n.mu.Lock()
	quizID := n.quiz.ID
	collector := n.collector
	n.mu.Unlock()

	ok := true
	if collector != nil {
		ok = collector.ClearProgress(ctx)
	} else if quizID != "" {
		if err := n.store.DeleteBlob(ctx, config.ProgressKey(quizID)); err != nil {
			n.log.Error().Err(err).Msg("clear progress")
			ok = false
		}
	}
	if quizID != "" {
		if err := n.store.DeleteBlob(ctx, config.NavigationKey(quizID)); err != nil {
			n.log.Error().Err(err).Msg("clear navigation")
			ok = false
		}
	}
	n.Abort()
	return ok
}

// Drive runs an interactive loop: ask the source for the current question's
// answer, submit it, advance, and complete after the last question. It returns
// when the attempt finishes or the source cancels.
func (n *Navigator) Drive(ctx context.Context, src AnswerSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-n.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		st := n.State()
		if st.Phase != PhaseRunning {
			return nil
		}
		q, ok := n.CurrentQuestion()
		if !ok {
			return nil
		}

		answer, err := src.RequestAnswer(ctx, q, st)
		if err != nil {
			if n.State().Phase != PhaseRunning || errors.Is(err, domain.ErrCancelled) {
				return nil
			}
			return err
		}

		res := n.SubmitCurrent(answer)
		if !res.OK {
			if errors.Is(res.Err, domain.ErrNotRunning) {
				return nil
			}
			n.view.OnError(domain.UserError(res.Err))
			continue
		}

		if st.CurrentIndex < st.Total-1 {
			n.Next()
			continue
		}
		if _, err := n.Complete(ctx, false); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotAllAnswered):
				n.goToFirstUnanswered()
				continue
			case errors.Is(err, domain.ErrNotRunning):
				return nil
			}
			return err
		}
		return nil
	}
}

func (n *Navigator) goToFirstUnanswered() {
	n.mu.Lock()
	if n.collector == nil {
		n.mu.Unlock()
		return
	}
	id, ok := n.collector.FirstUnanswered()
	position := -1
	if ok {
		for pos, idx := range n.order {
			if n.quiz.Questions[idx].ID == id {
				position = pos
				break
			}
		}
	}
	n.mu.Unlock()
	if position >= 0 {
		n.GoTo(position)
	}
}

// State returns the current snapshot.
func (n *Navigator) State() NavigatorState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stateLocked()
}

// CurrentQuestion returns the question at the current position.
func (n *Navigator) CurrentQuestion() (domain.Question, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentQuestionLocked()
}

// Order returns the delivery order as question ids.
func (n *Navigator) Order() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, len(n.order))
	for pos, idx := range n.order {
		ids[pos] = n.quiz.Questions[idx].ID
	}
	return ids
}

// Collector exposes the attempt's answer collector, nil before Start.
func (n *Navigator) Collector() *AnswerCollector {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collector
}

// Quiz returns the quiz being taken.
func (n *Navigator) Quiz() domain.Quiz {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.quiz
}

// Result returns the finalized result once completed.
func (n *Navigator) Result() (domain.Result, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.result == nil {
		return domain.Result{}, false
	}
	return *n.result, true
}

// Context is cancelled when the attempt is aborted; bind LLM requests to it.
func (n *Navigator) Context() context.Context { return n.ctx }

// Done is closed when the attempt completes or aborts.
func (n *Navigator) Done() <-chan struct{} { return n.done }

// Finished reports a terminal phase.
func (n *Navigator) Finished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase == PhaseCompleted || n.phase == PhaseAborted
}

func (n *Navigator) currentQuestionLocked() (domain.Question, bool) {
	if len(n.order) == 0 || n.index < 0 || n.index >= len(n.order) {
		return domain.Question{}, false
	}
	return n.quiz.Questions[n.order[n.index]], true
}

func (n *Navigator) stateLocked() NavigatorState {
	st := NavigatorState{
		Phase:        n.phase,
		CurrentIndex: n.index,
		Total:        len(n.order),
	}
	if n.collector != nil {
		st.AnsweredCount = n.collector.AnsweredCount()
	}
	if q, ok := n.currentQuestionLocked(); ok {
		st.QuestionID = q.ID
	}
	if n.timed {
		secs := remainingSeconds(n.remaining)
		st.TimeRemainingSeconds = &secs
		st.TimerBand = bandFor(secs)
	}
	return st
}

func (n *Navigator) publish(st NavigatorState) {
	n.view.OnStateChange(st)
}

func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func bandFor(secs int) TimerBand {
	switch {
	case secs <= criticalThreshold:
		return TimerCritical
	case secs <= warningThreshold:
		return TimerWarning
	}
	return TimerNormal
}
