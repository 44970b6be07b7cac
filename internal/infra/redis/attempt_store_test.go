package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-studio/internal/app"
	"quiz-studio/internal/infra/memory"
)

func TestAttemptStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewAttemptStore(newClient(mr), time.Minute)
	nav, created := store.GetOrCreate("quiz-1", func() *app.Navigator { return app.NewNavigator(memory.NewStore()) })
	if !created {
		t.Fatalf("expected navigator created")
	}
	if !mr.Exists("quiz:attempt:quiz-1") {
		t.Fatalf("expected redis key to be set")
	}

	store.DeleteIfFinished("quiz-1")
	if !mr.Exists("quiz:attempt:quiz-1") {
		t.Fatalf("live attempt must keep its marker")
	}

	nav.Abort()
	store.DeleteIfFinished("quiz-1")
	if mr.Exists("quiz:attempt:quiz-1") {
		t.Fatalf("expected redis key to be removed")
	}
}
