package memory

import (
	"testing"

	"quiz-studio/internal/app"
)

func TestAttemptStoreLifecycle(t *testing.T) {
	store := NewAttemptStore()
	nav := app.NewNavigator(NewStore())

	got, created := store.GetOrCreate("quiz-1", func() *app.Navigator { return nav })
	if !created || got != nav {
		t.Fatalf("expected navigator registered")
	}
	if _, created := store.GetOrCreate("quiz-1", func() *app.Navigator { return app.NewNavigator(NewStore()) }); created {
		t.Fatalf("expected existing navigator reused")
	}

	store.DeleteIfFinished("quiz-1")
	if _, ok := store.Get("quiz-1"); !ok {
		t.Fatalf("expected idle navigator kept")
	}

	nav.Abort()
	store.DeleteIfFinished("quiz-1")
	if _, ok := store.Get("quiz-1"); ok {
		t.Fatalf("expected navigator removed once finished")
	}
}
