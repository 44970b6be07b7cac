package generator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-studio/internal/cache"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/infra/memory"
)

func capitalQuestion(explanation string) domain.Question {
	return domain.Question{ID: "q3", Type: domain.TextInput, Prompt: "Capital of France?", CorrectAnswer: "Paris", Explanation: explanation}
}

func TestExplainCachesLLMText(t *testing.T) {
	ctx := context.Background()
	llmFake := &fakeCompleter{text: "  Paris has been the capital since 987.  "}
	c := cache.NewExplanationCache(memory.NewStore(), cache.WithFlushDelay(0))
	e := NewExplainer(llmFake, c, zerolog.Nop())
	answer := domain.TextAnswer("paris")

	first := e.Explain(ctx, capitalQuestion(""), &answer, true)
	second := e.Explain(ctx, capitalQuestion(""), &answer, true)
	assert.Equal(t, "Paris has been the capital since 987.", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, llmFake.calls.Load())

	// a different correctness flag is a different key
	e.Explain(ctx, capitalQuestion(""), &answer, false)
	assert.EqualValues(t, 2, llmFake.calls.Load())
}

func TestExplainFallbacks(t *testing.T) {
	ctx := context.Background()
	failing := &fakeCompleter{err: errors.New("boom")}
	e := NewExplainer(failing, nil, zerolog.Nop())

	assert.Equal(t, "Paris is the capital.", e.Explain(ctx, capitalQuestion("Paris is the capital."), nil, false))
	assert.Equal(t, "The correct answer is Paris.", e.Explain(ctx, capitalQuestion(""), nil, false))

	mcq := domain.Question{ID: "m", Type: domain.MCQMultiple, Prompt: "Even numbers?", Options: []string{"2", "3", "4"}, CorrectIndices: []int{0, 2}}
	assert.Equal(t, "The correct answer is 2, 4.", NewExplainer(nil, nil, zerolog.Nop()).Explain(ctx, mcq, nil, false))
}

func TestExplainOfflineSkipsLLM(t *testing.T) {
	llmFake := &fakeCompleter{text: "from the model"}
	e := NewExplainer(llmFake, nil, zerolog.Nop(), WithExplainerConnectivity(offline{}))

	assert.Equal(t, "The correct answer is Paris.", e.Explain(context.Background(), capitalQuestion(""), nil, false))
	assert.Zero(t, llmFake.calls.Load())
}

func TestExplainCoalescesConcurrentRequests(t *testing.T) {
	llmFake := &fakeCompleter{text: "shared", gate: make(chan struct{})}
	e := NewExplainer(llmFake, nil, zerolog.Nop())
	answer := domain.TextAnswer("Lyon")

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Explain(context.Background(), capitalQuestion(""), &answer, false)
		}(i)
	}
	require.Eventually(t, func() bool { return llmFake.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(llmFake.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
	assert.EqualValues(t, 1, llmFake.calls.Load())
}
