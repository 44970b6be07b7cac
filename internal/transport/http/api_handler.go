// Package http exposes the quiz use cases over REST and WebSocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/generator"
)

const maxBodyBytes = 4 << 20

// QuestionGenerator drafts questions from source text.
type QuestionGenerator interface {
	Generate(ctx context.Context, text string, opts domain.GenerationOptions, view app.ViewHost) (generator.Generation, error)
}

// Connectivity reports whether the LLM service is believed reachable.
type Connectivity interface {
	Online() bool
}

// QuotaReader exposes the latest quota snapshot of a service.
type QuotaReader interface {
	Record(ctx context.Context, service string) (domain.QuotaRecord, bool)
}

type APIHandler struct {
	service    *app.QuizService
	generator  QuestionGenerator
	net        Connectivity
	quota      QuotaReader
	llmService string
	log        zerolog.Logger
}

// APIOption wires optional collaborators.
type APIOption func(*APIHandler)

func WithGenerator(g QuestionGenerator) APIOption { return func(h *APIHandler) { h.generator = g } }

func WithConnectivity(c Connectivity) APIOption { return func(h *APIHandler) { h.net = c } }

func WithQuota(q QuotaReader, service string) APIOption {
	return func(h *APIHandler) {
		h.quota = q
		h.llmService = service
	}
}

func NewAPIHandler(service *app.QuizService, log zerolog.Logger, opts ...APIOption) *APIHandler {
	h := &APIHandler{service: service, log: log.With().Str("component", "api").Logger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the REST endpoints and the attempt socket.
func NewRouter(api *APIHandler, ws *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.health)
	mux.HandleFunc("GET /api/status", api.status)
	mux.HandleFunc("GET /api/quizzes", api.listQuizzes)
	mux.HandleFunc("POST /api/quizzes", api.createQuiz)
	mux.HandleFunc("POST /api/quizzes/import", api.importQuizzes)
	mux.HandleFunc("GET /api/quizzes/{id}", api.getQuiz)
	mux.HandleFunc("PUT /api/quizzes/{id}", api.updateQuiz)
	mux.HandleFunc("DELETE /api/quizzes/{id}", api.deleteQuiz)
	mux.HandleFunc("GET /api/quizzes/{id}/export", api.exportQuiz)
	mux.HandleFunc("GET /api/results", api.results)
	mux.HandleFunc("POST /api/generate", api.generate)
	mux.HandleFunc("GET /api/preferences", api.preferences)
	mux.HandleFunc("PUT /api/preferences", api.savePreferences)
	if ws != nil {
		mux.HandleFunc("/ws", ws.ServeWS)
	}
	return mux
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

type statusResponse struct {
	Online bool                `json:"online"`
	Quota  *domain.QuotaRecord `json:"quota,omitempty"`
}

func (h *APIHandler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Online: true}
	if h.net != nil {
		resp.Online = h.net.Online()
	}
	if h.quota != nil {
		if rec, ok := h.quota.Record(r.Context(), h.llmService); ok {
			resp.Quota = &rec
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.service.ListQuizzes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quizzes)
}

func (h *APIHandler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if !h.decode(w, r, &quiz) {
		return
	}
	created, err := h.service.CreateQuiz(r.Context(), quiz)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if !h.decode(w, r, &quiz) {
		return
	}
	quiz.ID = r.PathValue("id")
	updated, err := h.service.UpdateQuiz(r.Context(), quiz)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *APIHandler) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuiz(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) exportQuiz(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+r.PathValue("id")+`.json"`)
	w.Write(data)
}

func (h *APIHandler) importQuizzes(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, domain.E(domain.KindValidation, "import", "unreadable body", err))
		return
	}
	imported, err := h.service.ImportQuizzes(r.Context(), data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, imported)
}

func (h *APIHandler) results(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := app.ResultFilter{QuizID: q.Get("quizId")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, domain.E(domain.KindValidation, "results", "limit must be a non-negative integer", nil))
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, domain.E(domain.KindValidation, "results", "since must be an RFC 3339 time", nil))
			return
		}
		filter.Since = since
	}
	results, err := h.service.Results(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

type generateRequest struct {
	Text    string                    `json:"text"`
	Options *domain.GenerationOptions `json:"options,omitempty"`
	// Title, when set, saves the generated questions as a new quiz.
	Title string `json:"title,omitempty"`
}

type generateResponse struct {
	generator.Generation
	Quiz *domain.Quiz `json:"quiz,omitempty"`
}

func (h *APIHandler) generate(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		h.writeError(w, domain.E(domain.KindNetwork, "generate", "question generation is not configured", nil))
		return
	}
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	opts := req.Options
	if opts == nil {
		prefs, err := h.service.Preferences(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		opts = &prefs.DefaultGeneration
	}
	gen, err := h.generator.Generate(r.Context(), req.Text, *opts, app.NopView{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := generateResponse{Generation: gen}
	if req.Title != "" {
		quiz, err := h.service.CreateQuiz(r.Context(), domain.Quiz{Title: req.Title, Questions: gen.Questions})
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.Quiz = &quiz
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) preferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.Preferences(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

func (h *APIHandler) savePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs domain.Preferences
	if !h.decode(w, r, &prefs) {
		return
	}
	if err := h.service.SavePreferences(r.Context(), prefs); err != nil {
		h.writeError(w, err)
		return
	}
	h.preferences(w, r)
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, domain.E(domain.KindValidation, "decode", "invalid JSON body", err))
		return false
	}
	return true
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("write response")
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) && qe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(qe.RetryAfter.Seconds())))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, newErrorPayload(err))
}

func statusFor(err error) int {
	var qe *domain.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAttemptActive):
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNetwork, domain.KindMalformedResponse:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
