package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/generator"
)

type stubGenerator struct {
	gen generator.Generation
	err error
	got domain.GenerationOptions
}

func (s *stubGenerator) Generate(_ context.Context, _ string, opts domain.GenerationOptions, _ app.ViewHost) (generator.Generation, error) {
	s.got = opts
	return s.gen, s.err
}

type stubStatus struct{ online bool }

func (s stubStatus) Online() bool { return s.online }

func (s stubStatus) Record(context.Context, string) (domain.QuotaRecord, bool) {
	return domain.QuotaRecord{Service: "deepseek", UsageFraction: 0.5}, true
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuizEndpoints(t *testing.T) {
	svc, existing := newTestService(t)
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop()), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/quizzes", sampleQuiz())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created domain.Quiz
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" || created.ID == existing.ID {
		t.Fatalf("expected a fresh id, got %q", created.ID)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/quizzes", nil)
	var list []domain.Quiz
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Fatalf("expected two quizzes, got %d (%v)", len(list), err)
	}

	created.Title = "Renamed"
	rec = doJSON(t, router, http.MethodPut, "/api/quizzes/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/quizzes/"+created.ID, nil)
	var loaded domain.Quiz
	_ = json.Unmarshal(rec.Body.Bytes(), &loaded)
	if loaded.Title != "Renamed" {
		t.Fatalf("expected renamed quiz, got %q", loaded.Title)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/quizzes/"+created.ID+"/export", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Disposition") == "" {
		t.Fatalf("export: got %d %v", rec.Code, rec.Header())
	}
	rec = doJSON(t, router, http.MethodPost, "/api/quizzes/import", json.RawMessage(rec.Body.Bytes()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/quizzes/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/quizzes/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateQuizValidationError(t *testing.T) {
	svc, _ := newTestService(t)
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop()), nil)

	bad := sampleQuiz()
	bad.Title = "  "
	rec := doJSON(t, router, http.MethodPost, "/api/quizzes", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Kind != domain.KindValidation || payload.Title != "Invalid input" || len(payload.Suggestions) == 0 {
		t.Fatalf("unexpected error payload %+v", payload)
	}
}

func TestResultsEndpoint(t *testing.T) {
	svc, quiz := newTestService(t)
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop()), nil)

	nav, err := svc.StartAttempt(context.Background(), quiz.ID, app.NopView{}, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := nav.Complete(context.Background(), true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/results?quizId="+quiz.ID+"&limit=5", nil)
	var results []domain.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil || len(results) != 1 {
		t.Fatalf("expected one result, got %d (%v)", len(results), err)
	}
	if results[0].Metadata.AnsweredCount != 0 {
		t.Fatalf("expected forced empty result, got %+v", results[0].Metadata)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/results?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/results?since="+time.Now().Add(time.Hour).UTC().Format(time.RFC3339), nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &results)
	if len(results) != 0 {
		t.Fatalf("expected no results in the future, got %d", len(results))
	}
}

func TestGenerateEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	q := sampleQuiz().Questions[0]
	q.ID = "g1"
	gen := &stubGenerator{gen: generator.Generation{Questions: []domain.Question{q}, Requested: 5, Partial: true}}
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop(), WithGenerator(gen)), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/generate", map[string]any{"text": "source", "title": "Drafted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Partial bool         `json:"partial"`
		Quiz    *domain.Quiz `json:"quiz"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Partial || resp.Quiz == nil || resp.Quiz.Title != "Drafted" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gen.got.Count != domain.DefaultGenerationOptions().Count {
		t.Fatalf("expected preference defaults, got %+v", gen.got)
	}
}

func TestGenerateQuotaExceededSetsRetryAfter(t *testing.T) {
	svc, _ := newTestService(t)
	gen := &stubGenerator{err: &domain.QuotaExceededError{Service: "deepseek", RetryAfter: time.Minute}}
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop(), WithGenerator(gen)), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/generate", map[string]any{"text": "source"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	status := stubStatus{online: false}
	router := NewRouter(NewAPIHandler(svc, zerolog.Nop(), WithConnectivity(status), WithQuota(status, "deepseek")), nil)

	rec := doJSON(t, router, http.MethodGet, "/api/status", nil)
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Online || resp.Quota == nil || resp.Quota.UsageFraction != 0.5 {
		t.Fatalf("unexpected status %+v", resp)
	}

	rec = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected health body %q", rec.Body.String())
	}
}
