package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

func TestStoreBlobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if _, ok, err := store.GetBlob(ctx, "k"); err != nil || ok {
		t.Fatalf("expected missing blob, ok=%v err=%v", ok, err)
	}
	value := []byte(`{"a":1}`)
	if err := store.PutBlob(ctx, "k", value); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	value[0] = 'x'
	got, ok, err := store.GetBlob(ctx, "k")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("unexpected blob %q ok=%v err=%v", got, ok, err)
	}
	if err := store.DeleteBlob(ctx, "k"); err != nil {
		t.Fatalf("delete blob: %v", err)
	}
	if _, ok, _ := store.GetBlob(ctx, "k"); ok {
		t.Fatalf("expected blob deleted")
	}
}

func TestStoreQuizzes(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.PutQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("put quiz: %v", err)
	}
	quiz, err := store.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.Questions[0].CorrectIndex != 1 {
		t.Fatalf("unexpected quiz %+v", quiz)
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

func TestStoreResultsFilter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, quizID := range []string{"a", "b", "a", "a"} {
		r := domain.Result{ID: string(rune('1' + i)), QuizID: quizID, CompletedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.PutResult(ctx, r); err != nil {
			t.Fatalf("put result: %v", err)
		}
	}

	results, err := store.Results(ctx, app.ResultFilter{QuizID: "a", Limit: 2})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 2 || results[0].ID != "4" || results[1].ID != "3" {
		t.Fatalf("unexpected results %+v", results)
	}

	since, _ := store.Results(ctx, app.ResultFilter{Since: base.Add(2 * time.Minute)})
	if len(since) != 2 {
		t.Fatalf("expected 2 results since cutoff, got %d", len(since))
	}
}
