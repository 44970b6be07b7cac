package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	if _, ok, err := store.GetBlob(ctx, "quiz-progress-quiz-1"); ok || err != nil {
		t.Fatalf("expected missing blob, ok=%v err=%v", ok, err)
	}
	if err := store.PutBlob(ctx, "quiz-progress-quiz-1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	if !mr.Exists("quiz-studio:blob:quiz-progress-quiz-1") {
		t.Fatalf("expected namespaced blob key")
	}
	data, ok, _ := store.GetBlob(ctx, "quiz-progress-quiz-1")
	if !ok || string(data) != `{"x":1}` {
		t.Fatalf("unexpected blob %q", data)
	}
	_ = store.DeleteBlob(ctx, "quiz-progress-quiz-1")
	if _, ok, _ := store.GetBlob(ctx, "quiz-progress-quiz-1"); ok {
		t.Fatalf("expected blob deleted")
	}

	if err := store.PutQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("put quiz: %v", err)
	}
	quiz, err := store.GetQuiz(ctx, "quiz-1")
	if err != nil || quiz.Title != "Arithmetic" {
		t.Fatalf("get quiz: %v %+v", err, quiz)
	}
	all, _ := store.AllQuizzes(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 quiz, got %d", len(all))
	}
	_ = store.DeleteQuiz(ctx, "quiz-1")
	if _, err := store.GetQuiz(ctx, "quiz-1"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreResultsNewestFirst(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, quizID := range []string{"a", "b", "a"} {
		r := domain.Result{ID: string(rune('1' + i)), QuizID: quizID, CompletedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.PutResult(ctx, r); err != nil {
			t.Fatalf("put result: %v", err)
		}
	}

	results, err := store.Results(ctx, app.ResultFilter{QuizID: "a"})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 2 || results[0].ID != "3" || results[1].ID != "1" {
		t.Fatalf("unexpected results %+v", results)
	}

	recent, _ := store.Results(ctx, app.ResultFilter{Since: base.Add(time.Minute), Limit: 1})
	if len(recent) != 1 || recent[0].ID != "3" {
		t.Fatalf("unexpected recent results %+v", recent)
	}
}
