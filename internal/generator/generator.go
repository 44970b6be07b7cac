// Package generator turns source text into quiz questions and explains answers
// through the LLM client.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/llm"
)

// MinSourceLength is the shortest source text, in characters after trimming,
// worth generating from.
const MinSourceLength = 50

// Completer is the slice of the LLM client the generator needs.
type Completer interface {
	Request(ctx context.Context, prompt string, ctl llm.Control) (llm.Reply, error)
}

// Connectivity reports whether the LLM service is believed reachable.
type Connectivity interface {
	Online() bool
}

// Rejection records why a candidate question was dropped.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Generation is the outcome of one generation request.
type Generation struct {
	Questions []domain.Question `json:"questions"`
	Requested int               `json:"requested"`
	Partial   bool              `json:"partial"`
	Rejected  []Rejection       `json:"rejected,omitempty"`
}

type Generator struct {
	llm     Completer
	net     Connectivity
	log     zerolog.Logger
	newID   func() string
	control llm.Control
}

type Option func(*Generator)

// WithConnectivity makes the generator fail fast while offline.
func WithConnectivity(c Connectivity) Option {
	return func(g *Generator) { g.net = c }
}

func WithIDs(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

func NewGenerator(client Completer, log zerolog.Logger, opts ...Option) *Generator {
	g := &Generator{
		llm:     client,
		log:     log.With().Str("component", "question_generator").Logger(),
		newID:   uuid.NewString,
		control: llm.Control{MaxTokens: 4000, Temperature: 0.7, SchemaHint: questionsSchema},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the LLM for opts.Count questions about text and keeps the
// admissible ones. Failures are also reported to view unless cancelled.
func (g *Generator) Generate(ctx context.Context, text string, opts domain.GenerationOptions, view app.ViewHost) (Generation, error) {
	if view == nil {
		view = app.NopView{}
	}
	gen, err := g.generate(ctx, text, opts, view)
	if err != nil && !errors.Is(err, domain.ErrCancelled) {
		view.OnError(domain.UserError(err))
	}
	return gen, err
}

func (g *Generator) generate(ctx context.Context, text string, opts domain.GenerationOptions, view app.ViewHost) (Generation, error) {
	view.OnProgress(app.StageAnalyzing, 0)
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < MinSourceLength {
		return Generation{}, domain.E(domain.KindValidation, "generate",
			fmt.Sprintf("source text must be at least %d characters, got %d", MinSourceLength, n), nil)
	}
	if err := opts.Validate(); err != nil {
		return Generation{}, err
	}
	if g.net != nil && !g.net.Online() {
		return Generation{}, domain.E(domain.KindNetwork, "generate", "offline", nil)
	}

	view.OnProgress(app.StageGenerating, 20)
	reply, err := g.llm.Request(ctx, buildQuestionsPrompt(text, opts), g.control)
	if err != nil {
		return Generation{}, err
	}

	view.OnProgress(app.StageValidating, 70)
	candidates, err := parseEnvelope(reply.Text)
	if err != nil {
		g.log.Warn().Err(err).Int("length", len(reply.Text)).Msg("unreadable generation response")
		return Generation{}, err
	}

	gen := Generation{Requested: opts.Count}
	for i, raw := range candidates {
		q, reason := g.admit(raw, opts)
		if reason != "" {
			g.log.Info().Int("candidate", i).Str("reason", reason).Msg("dropping generated question")
			gen.Rejected = append(gen.Rejected, Rejection{Index: i, Reason: reason})
			continue
		}
		if len(gen.Questions) == opts.Count {
			gen.Rejected = append(gen.Rejected, Rejection{Index: i, Reason: "more questions than requested"})
			continue
		}
		gen.Questions = append(gen.Questions, q)
	}
	if len(gen.Questions) == 0 {
		return gen, domain.ErrNoQuestionsGenerated
	}
	gen.Partial = len(gen.Questions) < opts.Count

	g.log.Info().
		Int("requested", opts.Count).
		Int("admitted", len(gen.Questions)).
		Int("rejected", len(gen.Rejected)).
		Msg("questions generated")
	view.OnProgress(app.StageComplete, 100)
	return gen, nil
}

// admit decodes one candidate and checks it. A non-empty reason means drop.
func (g *Generator) admit(raw json.RawMessage, opts domain.GenerationOptions) (domain.Question, string) {
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, "undecodable: " + err.Error()
	}
	if !q.Type.Valid() {
		return q, fmt.Sprintf("unknown type %q", q.Type)
	}
	if !opts.Allows(q.Type) {
		return q, fmt.Sprintf("type %s not allowed", q.Type)
	}
	q.ID = g.newID()
	q.Prompt = strings.TrimSpace(q.Prompt)
	q.Explanation = strings.TrimSpace(q.Explanation)
	q = q.Canonical()
	if err := q.Validate(); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return q, de.Msg
		}
		return q, err.Error()
	}
	return q, ""
}

var fenced = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// parseEnvelope reads {"questions": [...]}. A reply that does not parse gets
// one repair pass: the first {...} block inside a fenced section, or in the
// whole reply when there is no fence.
func parseEnvelope(text string) ([]json.RawMessage, error) {
	candidates, err := decodeEnvelope(text)
	if err == nil {
		return candidates, nil
	}
	repaired, ok := extractObject(text)
	if !ok {
		return nil, domain.E(domain.KindMalformedResponse, "generate", "no JSON object in response", err)
	}
	candidates, err = decodeEnvelope(repaired)
	if err != nil {
		return nil, domain.E(domain.KindMalformedResponse, "generate", "response is not a question list", err)
	}
	return candidates, nil
}

func decodeEnvelope(text string) ([]json.RawMessage, error) {
	var env struct {
		Questions *[]json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &env); err != nil {
		return nil, err
	}
	if env.Questions == nil {
		return nil, errors.New(`missing "questions" array`)
	}
	return *env.Questions, nil
}

func extractObject(text string) (string, bool) {
	if m := fenced.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
