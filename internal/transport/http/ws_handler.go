package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

// Explainer produces the explanation shown for an answered question.
type Explainer interface {
	Explain(ctx context.Context, q domain.Question, answer *domain.Answer, correct bool) string
}

type WSHandler struct {
	service   *app.QuizService
	explainer Explainer
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewWSHandler(service *app.QuizService, explainer Explainer, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:   service,
		explainer: explainer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string          `json:"questionId"`
	Answer     json.RawMessage `json:"answer"`
}

type gotoPayload struct {
	Position int `json:"position"`
}

type completePayload struct {
	Force bool `json:"force"`
}

type explainPayload struct {
	QuestionID string `json:"questionId"`
}

type answerResult struct {
	app.SubmissionResult
	Score app.Score `json:"score"`
}

type explanationPayload struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
}

type savedPayload struct {
	OK bool `json:"ok"`
}

type progressPayload struct {
	Stage   app.ProgressStage `json:"stage"`
	Percent int               `json:"percent"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	domain.UserFacingError
	Kind domain.Kind `json:"kind,omitempty"`
}

func newErrorPayload(err error) errorPayload {
	p := errorPayload{UserFacingError: domain.UserError(err), Kind: domain.KindOf(err)}
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		p.Kind = domain.KindQuotaExceeded
	}
	return p
}

// questionView is a question without its answer key.
type questionView struct {
	ID      string              `json:"id"`
	Type    domain.QuestionType `json:"type"`
	Prompt  string              `json:"prompt"`
	Options []string            `json:"options,omitempty"`
	Media   *domain.Media       `json:"media,omitempty"`
}

func viewOf(q domain.Question) questionView {
	return questionView{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Options: q.Options, Media: q.Media}
}

// wsView is the navigator's view host for one connection. Every outbound
// message goes through it so the writer goroutine is the only one writing.
type wsView struct {
	send       chan outboundMessage[any]
	writerDone <-chan struct{}
	question   func(id string) (domain.Question, bool)

	mu           sync.Mutex
	closed       bool
	last         *app.NavigatorState
	lastQuestion string
	result       func() (domain.Result, bool)
}

func (v *wsView) push(msg outboundMessage[any]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushLocked(msg)
}

func (v *wsView) pushLocked(msg outboundMessage[any]) {
	if v.closed {
		return
	}
	select {
	case v.send <- msg:
	case <-v.writerDone:
	}
}

// attach lets the view report the result when the attempt completes, whether
// the user submitted or the timer ran out.
func (v *wsView) attach(nav *app.Navigator) {
	v.mu.Lock()
	v.result = nav.Result
	v.mu.Unlock()
}

// OnStateChange forwards a state that differs from the last one sent, preceded
// by the question when the position moved to a new one and followed by the
// result on completion.
func (v *wsView) OnStateChange(st app.NavigatorState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last != nil && sameState(*v.last, st) {
		return
	}
	v.last = &st
	if st.QuestionID != "" && st.QuestionID != v.lastQuestion && v.question != nil {
		if q, ok := v.question(st.QuestionID); ok {
			v.lastQuestion = st.QuestionID
			v.pushLocked(outboundMessage[any]{Type: "question", Payload: viewOf(q)})
		}
	}
	v.pushLocked(outboundMessage[any]{Type: "state", Payload: st})
	if st.Phase == app.PhaseCompleted && v.result != nil {
		if result, ok := v.result(); ok {
			v.pushLocked(outboundMessage[any]{Type: "result", Payload: result})
		}
	}
}

func (v *wsView) OnProgress(stage app.ProgressStage, percent int) {
	v.push(outboundMessage[any]{Type: "progress", Payload: progressPayload{Stage: stage, Percent: percent}})
}

func (v *wsView) OnError(err domain.UserFacingError) {
	v.push(outboundMessage[any]{Type: "error", Payload: errorPayload{UserFacingError: err}})
}

func (v *wsView) fail(err error) {
	v.push(outboundMessage[any]{Type: "error", Payload: newErrorPayload(err)})
}

func (v *wsView) close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}

func sameState(a, b app.NavigatorState) bool {
	if a.Phase != b.Phase || a.CurrentIndex != b.CurrentIndex || a.Total != b.Total ||
		a.AnsweredCount != b.AnsweredCount || a.QuestionID != b.QuestionID || a.TimerBand != b.TimerBand {
		return false
	}
	if (a.TimeRemainingSeconds == nil) != (b.TimeRemainingSeconds == nil) {
		return false
	}
	return a.TimeRemainingSeconds == nil || *a.TimeRemainingSeconds == *b.TimeRemainingSeconds
}

// ServeWS upgrades the request and runs one attempt of the quiz over the socket.
// Unless resume=false is passed, saved progress is restored. Closing the socket
// before completion saves progress and ends the attempt.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	resumable := r.URL.Query().Get("resume") != "false"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("quiz_id", quizID).Logger()
	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	view := &wsView{send: send, writerDone: writerDone}
	ctx, cancel := context.WithCancel(r.Context())
	var explaining sync.WaitGroup
	defer func() {
		cancel()
		explaining.Wait()
		view.close()
		close(send)
		<-writerDone
	}()

	quiz, err := h.service.GetQuiz(ctx, quizID)
	if err != nil {
		view.fail(err)
		return
	}
	view.question = quiz.Question

	nav, err := h.service.StartAttempt(ctx, quizID, view, resumable)
	if err != nil {
		view.fail(err)
		return
	}
	view.attach(nav)
	defer func() {
		if !nav.Finished() {
			nav.SaveProgress(context.Background())
			nav.Abort()
		}
		h.service.EndAttempt(quizID)
	}()
	go func() {
		select {
		case <-nav.Context().Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	log.Info().Msg("attempt session opened")

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				view.fail(domain.E(domain.KindValidation, "answer", "invalid answer payload", err))
				continue
			}
			q, ok := nav.CurrentQuestion()
			if !ok {
				view.fail(domain.ErrNotRunning)
				continue
			}
			if payload.QuestionID != "" && payload.QuestionID != q.ID {
				view.fail(domain.E(domain.KindValidation, "answer", "question is not current", nil))
				continue
			}
			answer, err := domain.ParseAnswer(q.Type, payload.Answer)
			if err != nil {
				view.fail(err)
				continue
			}
			res := nav.SubmitCurrent(answer)
			if !res.OK {
				view.fail(res.Err)
				continue
			}
			view.push(outboundMessage[any]{Type: "answerResult", Payload: answerResult{SubmissionResult: res, Score: nav.Collector().CurrentScore()}})
		case "next":
			view.OnStateChange(nav.Next())
		case "previous":
			view.OnStateChange(nav.Previous())
		case "goto":
			var payload gotoPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				view.fail(domain.E(domain.KindValidation, "goto", "invalid goto payload", err))
				continue
			}
			view.OnStateChange(nav.GoTo(payload.Position))
		case "save":
			view.push(outboundMessage[any]{Type: "saved", Payload: savedPayload{OK: nav.SaveProgress(ctx)}})
		case "pause":
			view.OnStateChange(nav.Pause())
		case "resume":
			view.OnStateChange(nav.Resume())
		case "complete":
			var payload completePayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					view.fail(domain.E(domain.KindValidation, "complete", "invalid complete payload", err))
					continue
				}
			}
			if _, err := nav.Complete(ctx, payload.Force); err != nil {
				view.fail(err)
			}
		case "abort":
			view.OnStateChange(nav.Abort())
		case "explain":
			var payload explainPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				view.fail(domain.E(domain.KindValidation, "explain", "invalid explain payload", err))
				continue
			}
			q, answer, correct, err := explainable(nav, payload.QuestionID)
			if err != nil {
				view.fail(err)
				continue
			}
			explaining.Add(1)
			go func() {
				defer explaining.Done()
				text := h.explain(ctx, q, answer, correct)
				if ctx.Err() != nil {
					return
				}
				view.push(outboundMessage[any]{Type: "explanation", Payload: explanationPayload{QuestionID: q.ID, Text: text}})
			}()
		default:
			view.fail(domain.E(domain.KindValidation, inbound.Type, "unsupported message type", nil))
		}
	}
	log.Info().Str("phase", string(nav.State().Phase)).Msg("attempt session closed")
}

func (h *WSHandler) explain(ctx context.Context, q domain.Question, answer *domain.Answer, correct bool) string {
	if h.explainer == nil {
		if q.Explanation != "" {
			return q.Explanation
		}
		return "The correct answer is " + q.CorrectAnswerText() + "."
	}
	return h.explainer.Explain(ctx, q, answer, correct)
}

// explainable resolves the answer to explain: from the result once the attempt
// is complete, or from the live attempt when the quiz shows explanations.
func explainable(nav *app.Navigator, questionID string) (domain.Question, *domain.Answer, bool, error) {
	quiz := nav.Quiz()
	q, ok := quiz.Question(questionID)
	if !ok {
		return q, nil, false, domain.ErrQuestionNotFound
	}
	if result, done := nav.Result(); done {
		for _, rec := range result.Answers {
			if rec.QuestionID == questionID {
				return q, rec.UserAnswer, rec.Correct, nil
			}
		}
		return q, nil, false, nil
	}
	if !quiz.Settings.ShowExplanations {
		return q, nil, false, domain.E(domain.KindValidation, "explain", "explanations are shown after completion", nil)
	}
	answer, ok := nav.Collector().Answer(questionID)
	if !ok {
		return q, nil, false, domain.E(domain.KindValidation, "explain", "question not answered yet", nil)
	}
	verdict, _ := nav.Collector().Verdict(questionID)
	return q, &answer, verdict.IsCorrect(), nil
}
