package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Capitals",
		Questions: []domain.Question{
			{ID: "q1", Type: domain.TextInput, Prompt: "Capital of Italy?", CorrectAnswer: "Rome"},
		},
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.GetBlob(ctx, "llm-quota")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutBlob(ctx, "llm-quota", []byte(`{"a":1}`)))
	require.NoError(t, store.PutBlob(ctx, "llm-quota", []byte(`{"a":2}`)))
	value, ok, err := store.GetBlob(ctx, "llm-quota")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":2}`, string(value))

	require.NoError(t, store.DeleteBlob(ctx, "llm-quota"))
	_, ok, _ = store.GetBlob(ctx, "llm-quota")
	assert.False(t, ok)
}

func TestQuizzes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.PutQuiz(ctx, sampleQuiz()))
	quiz, err := store.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "Rome", quiz.Questions[0].CorrectAnswer)
	assert.True(t, quiz.UpdatedAt.Equal(sampleQuiz().UpdatedAt))

	all, err := store.AllQuizzes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteQuiz(ctx, "quiz-1"))
	_, err = store.GetQuiz(ctx, "quiz-1")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, quizID := range []string{"a", "b", "a", "a"} {
		require.NoError(t, store.PutResult(ctx, domain.Result{
			ID:          string(rune('1' + i)),
			QuizID:      quizID,
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	assert.Error(t, store.PutResult(ctx, domain.Result{ID: "1", QuizID: "a"}), "results are append-only")

	results, err := store.Results(ctx, app.ResultFilter{QuizID: "a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "4", results[0].ID)
	assert.Equal(t, "3", results[1].ID)

	since, err := store.Results(ctx, app.ResultFilter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quiz.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.PutQuiz(ctx, sampleQuiz()))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.GetQuiz(ctx, "quiz-1")
	assert.NoError(t, err)
}
