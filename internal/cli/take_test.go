package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

func TestParseTerminalAnswer(t *testing.T) {
	single := domain.Question{Type: domain.MCQSingle, Options: []string{"a", "b", "c"}}
	multi := domain.Question{Type: domain.MCQMultiple, Options: []string{"a", "b", "c"}}
	text := domain.Question{Type: domain.TextInput}

	got, err := parseTerminalAnswer(single, " 2 ")
	if err != nil || !got.Equal(domain.SingleAnswer(1)) {
		t.Fatalf("single: got %v, %v", got, err)
	}
	got, err = parseTerminalAnswer(multi, "3, 1")
	if err != nil || !got.Equal(domain.MultipleAnswer(0, 2)) {
		t.Fatalf("multiple: got %v, %v", got, err)
	}
	got, err = parseTerminalAnswer(text, "  Paris ")
	if err != nil || got.Text != "Paris" {
		t.Fatalf("text: got %v, %v", got, err)
	}
	if _, err := parseTerminalAnswer(single, "b"); err == nil {
		t.Fatalf("expected error for non-numeric choice")
	}
	if _, err := parseTerminalAnswer(multi, " , "); err == nil {
		t.Fatalf("expected error for empty selection")
	}
}

func TestTerminalSourceRetriesAndQuits(t *testing.T) {
	in := strings.NewReader("x\n2\n:q\n")
	var out bytes.Buffer
	src := newTerminalSource(in, &out)
	q := domain.Question{Type: domain.MCQSingle, Prompt: "Pick", Options: []string{"a", "b"}}
	st := app.NavigatorState{Total: 1}

	answer, err := src.RequestAnswer(context.Background(), q, st)
	if err != nil || !answer.Equal(domain.SingleAnswer(1)) {
		t.Fatalf("expected option 2, got %v, %v", answer, err)
	}
	if !strings.Contains(out.String(), "try again") {
		t.Fatalf("expected a retry prompt, got %q", out.String())
	}

	if _, err := src.RequestAnswer(context.Background(), q, st); !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPrintResultUsesRecordedExplanation(t *testing.T) {
	quiz := domain.Quiz{
		Settings: domain.Settings{ShowExplanations: true},
		Questions: []domain.Question{
			{ID: "q1", Type: domain.TextInput, Prompt: "Capital of France?", CorrectAnswer: "Paris"},
		},
	}
	answer := domain.TextAnswer("Lyon")
	result := domain.Result{
		ScorePercent:   0,
		TotalQuestions: 1,
		Answers: []domain.QuestionRecord{
			{QuestionID: "q1", UserAnswer: &answer, ExplanationText: "Paris is the capital."},
		},
	}
	var out bytes.Buffer
	printResult(context.Background(), &out, quiz, result, nil)
	if strings.Contains(out.String(), "Paris is the capital.") {
		t.Fatalf("explanations need an explainer, got %q", out.String())
	}

	out.Reset()
	printResult(context.Background(), &out, quiz, result, staticExplainer("unused"))
	if !strings.Contains(out.String(), "[wrong] Lyon") || !strings.Contains(out.String(), "Paris is the capital.") {
		t.Fatalf("unexpected summary %q", out.String())
	}
}

type staticExplainer string

func (s staticExplainer) Explain(context.Context, domain.Question, *domain.Answer, bool) string {
	return string(s)
}
