package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/infra/memory"
)

func newTestService() (*app.QuizService, *memory.Store, *fakeClock) {
	store := memory.NewStore()
	clock := newFakeClock()
	svc := app.NewQuizService(
		store,
		memory.NewQuizCache(app.StoreQuizLoader{Store: store}, time.Minute),
		memory.NewAttemptStore(),
		zerolog.Nop(),
		app.WithServiceClock(clock),
	)
	return svc, store, clock
}

func TestCreateQuizAssignsIDs(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	quiz := sampleQuiz()
	quiz.ID = ""
	quiz.Questions[2].ID = ""
	quiz.Questions[1].CorrectIndices = []int{1, 0}

	created, err := svc.CreateQuiz(ctx, quiz)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" || created.Questions[2].ID == "" {
		t.Fatalf("expected generated ids, got %+v", created)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected timestamps, got %v %v", created.CreatedAt, created.UpdatedAt)
	}
	if got := created.Questions[1].CorrectIndices; got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected sorted correct indices, got %v", got)
	}

	loaded, err := svc.GetQuiz(ctx, created.ID)
	if err != nil || loaded.Title != quiz.Title {
		t.Fatalf("get failed: %v %+v", err, loaded)
	}
}

func TestCreateQuizRejectsInvalid(t *testing.T) {
	svc, _, _ := newTestService()
	quiz := sampleQuiz()
	quiz.Title = "   "

	if _, err := svc.CreateQuiz(context.Background(), quiz); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateQuizInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()
	created, _ := svc.CreateQuiz(ctx, sampleQuiz())
	_, _ = svc.GetQuiz(ctx, created.ID)

	clock.Advance(time.Hour)
	created.Title = "Renamed"
	updated, err := svc.UpdateQuiz(ctx, created)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected updatedAt to move forward")
	}
	got, _ := svc.GetQuiz(ctx, created.ID)
	if got.Title != "Renamed" {
		t.Fatalf("expected fresh quiz, got %q", got.Title)
	}

	missing := sampleQuiz()
	missing.ID = "nope"
	if _, err := svc.UpdateQuiz(ctx, missing); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteQuizRemovesProgress(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()
	created, _ := svc.CreateQuiz(ctx, sampleQuiz())
	_ = store.PutBlob(ctx, config.ProgressKey(created.ID), []byte(`{}`))

	if err := svc.DeleteQuiz(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.GetQuiz(ctx, created.ID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz gone, got %v", err)
	}
	if _, ok, _ := store.GetBlob(ctx, config.ProgressKey(created.ID)); ok {
		t.Fatalf("expected progress removed")
	}
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	created, _ := svc.CreateQuiz(ctx, sampleQuiz())

	data, err := svc.ExportQuiz(ctx, created.ID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(string(data), `"type": "mcq-multiple"`) {
		t.Fatalf("unexpected export %s", data)
	}

	imported, err := svc.ImportQuizzes(ctx, data)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(imported) != 1 || imported[0].ID == created.ID {
		t.Fatalf("import of a taken id must get a fresh one, got %+v", imported)
	}

	batch := "[" + string(data) + "," + string(data) + "]"
	imported, err = svc.ImportQuizzes(ctx, []byte(batch))
	if err != nil || len(imported) != 2 {
		t.Fatalf("batch import: %v %d", err, len(imported))
	}
	all, _ := svc.ListQuizzes(ctx)
	if len(all) != 4 {
		t.Fatalf("expected 4 quizzes, got %d", len(all))
	}

	if _, err := svc.ImportQuizzes(ctx, []byte("not json")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartAttemptIsExclusive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	created, _ := svc.CreateQuiz(ctx, sampleQuiz())

	nav, err := svc.StartAttempt(ctx, created.ID, app.NopView{}, true)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.StartAttempt(ctx, created.ID, app.NopView{}, true); !errors.Is(err, domain.ErrAttemptActive) {
		t.Fatalf("expected attempt active, got %v", err)
	}
	if live, ok := svc.Attempt(created.ID); !ok || live != nav {
		t.Fatalf("expected live attempt registered")
	}

	for id, a := range correctAnswers() {
		for pos, qid := range nav.Order() {
			if qid == id {
				nav.GoTo(pos)
			}
		}
		nav.SubmitCurrent(a)
	}
	result, err := nav.Complete(ctx, false)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	userID, _ := svc.UserID(ctx)
	if result.UserID != userID {
		t.Fatalf("result user %q, want %q", result.UserID, userID)
	}

	results, _ := svc.Results(ctx, app.ResultFilter{QuizID: created.ID})
	if len(results) != 1 {
		t.Fatalf("expected 1 stored result, got %d", len(results))
	}

	again, err := svc.StartAttempt(ctx, created.ID, app.NopView{}, true)
	if err != nil || again == nav {
		t.Fatalf("expected a new attempt after completion, err=%v", err)
	}

	if _, err := svc.StartAttempt(ctx, "missing", app.NopView{}, true); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestUserIDIsStable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	first, err := svc.UserID(ctx)
	if err != nil || first == "" {
		t.Fatalf("user id: %v", err)
	}
	second, _ := svc.UserID(ctx)
	if first != second {
		t.Fatalf("user id changed: %s vs %s", first, second)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	prefs, err := svc.Preferences(ctx)
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.DefaultGeneration.Count == 0 {
		t.Fatalf("expected default generation options")
	}
	prefs.Theme = "dark"
	prefs.DefaultGeneration.Count = 8
	if err := svc.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := svc.Preferences(ctx)
	if got.Theme != "dark" || got.DefaultGeneration.Count != 8 {
		t.Fatalf("unexpected preferences %+v", got)
	}

	prefs.DefaultGeneration.Count = 0
	if err := svc.SavePreferences(ctx, prefs); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
