package generator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"quiz-studio/internal/cache"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/llm"
)

// Explainer produces per-answer explanations. It never fails: when the LLM is
// unavailable it falls back to the question's own explanation.
type Explainer struct {
	llm   Completer
	cache *cache.ExplanationCache
	net   Connectivity
	group singleflight.Group
	log   zerolog.Logger
}

type ExplainerOption func(*Explainer)

func WithExplainerConnectivity(c Connectivity) ExplainerOption {
	return func(e *Explainer) { e.net = c }
}

// NewExplainer accepts a nil client, in which case only fallbacks are served.
func NewExplainer(client Completer, c *cache.ExplanationCache, log zerolog.Logger, opts ...ExplainerOption) *Explainer {
	e := &Explainer{
		llm:   client,
		cache: c,
		log:   log.With().Str("component", "explainer").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Explain returns an explanation for the given answer, which may be nil for an
// unanswered question.
func (e *Explainer) Explain(ctx context.Context, q domain.Question, answer *domain.Answer, correct bool) string {
	answerText := ""
	if answer != nil {
		answerText = answer.String()
	}
	key := cache.Key(q.Prompt, q.Type, answerText, correct)
	if e.cache != nil {
		if text, ok := e.cache.Get(ctx, key); ok {
			return text
		}
	}
	if e.llm == nil || (e.net != nil && !e.net.Online()) {
		return Fallback(q)
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		reply, err := e.llm.Request(ctx, buildExplanationPrompt(q, answerText, correct), llm.Control{MaxTokens: 300, Temperature: 0.3})
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(reply.Text)
		if text == "" {
			return "", domain.E(domain.KindMalformedResponse, "explain", "empty explanation", nil)
		}
		if e.cache != nil {
			e.cache.Put(ctx, key, text)
		}
		return text, nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("question_id", q.ID).Msg("explanation unavailable, using fallback")
		return Fallback(q)
	}
	return v.(string)
}

// Fallback is the explanation used without the LLM.
func Fallback(q domain.Question) string {
	if text := strings.TrimSpace(q.Explanation); text != "" {
		return text
	}
	return "The correct answer is " + q.CorrectAnswerText() + "."
}
