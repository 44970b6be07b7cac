package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestQuestionValidate(t *testing.T) {
	cases := []struct {
		name string
		q    Question
		ok   bool
	}{
		{"single ok", Question{ID: "q", Type: MCQSingle, Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: 1}, true},
		{"single out of range", Question{ID: "q", Type: MCQSingle, Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: 2}, false},
		{"duplicate trimmed options", Question{ID: "q", Type: MCQSingle, Prompt: "p", Options: []string{"a", " a "}, CorrectIndex: 0}, false},
		{"too few options", Question{ID: "q", Type: MCQSingle, Prompt: "p", Options: []string{"a"}, CorrectIndex: 0}, false},
		{"too many options", Question{ID: "q", Type: MCQSingle, Prompt: "p", Options: []string{"a", "b", "c", "d", "e", "f", "g"}, CorrectIndex: 0}, false},
		{"multiple ok", Question{ID: "q", Type: MCQMultiple, Prompt: "p", Options: []string{"a", "b", "c"}, CorrectIndices: []int{0, 2}}, true},
		{"multiple empty", Question{ID: "q", Type: MCQMultiple, Prompt: "p", Options: []string{"a", "b"}}, false},
		{"multiple duplicate", Question{ID: "q", Type: MCQMultiple, Prompt: "p", Options: []string{"a", "b"}, CorrectIndices: []int{1, 1}}, false},
		{"text ok", Question{ID: "q", Type: TextInput, Prompt: "p", CorrectAnswer: "x"}, true},
		{"text blank", Question{ID: "q", Type: TextInput, Prompt: "p", CorrectAnswer: "  "}, false},
		{"blank prompt", Question{ID: "q", Type: TextInput, Prompt: " ", CorrectAnswer: "x"}, false},
		{"unknown type", Question{ID: "q", Type: "essay", Prompt: "p"}, false},
		{"bad media", Question{ID: "q", Type: TextInput, Prompt: "p", CorrectAnswer: "x", Media: &Media{Kind: "gif", URL: "nope"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation kind, got %v", err)
				}
			}
		})
	}
}

func TestQuestionJSONUsesTypeTag(t *testing.T) {
	raw := []byte(`{"id":"q1","type":"mcq-single","prompt":"2+2?","options":["3","4"],"correctIndex":1}`)
	var q Question
	if err := json.Unmarshal(raw, &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if q.Type != MCQSingle || q.CorrectIndex != 1 {
		t.Fatalf("unexpected question %+v", q)
	}

	out, err := json.Marshal(Question{ID: "t", Type: TextInput, Prompt: "p", CorrectAnswer: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	_ = json.Unmarshal(out, &fields)
	if _, ok := fields["correctIndex"]; ok {
		t.Fatalf("text-input must not carry correctIndex: %s", out)
	}
	if fields["caseSensitive"] != false {
		t.Fatalf("expected explicit caseSensitive=false: %s", out)
	}
}

func TestMissingCorrectIndexFailsValidation(t *testing.T) {
	var q Question
	if err := json.Unmarshal([]byte(`{"id":"q1","type":"mcq-single","prompt":"p","options":["a","b"]}`), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := q.Validate(); err == nil {
		t.Fatalf("expected missing correctIndex to be rejected")
	}
}

func TestQuizValidateRejectsDuplicateIDs(t *testing.T) {
	quiz := Quiz{
		ID:    "quiz-1",
		Title: "Dupes",
		Questions: []Question{
			{ID: "q1", Type: TextInput, Prompt: "a", CorrectAnswer: "a"},
			{ID: "q1", Type: TextInput, Prompt: "b", CorrectAnswer: "b"},
		},
	}
	if err := quiz.Validate(); err == nil {
		t.Fatalf("expected duplicate id error")
	}

	zero := 0
	quiz.Questions[1].ID = "q2"
	quiz.Settings.TimeLimitMinutes = &zero
	if err := quiz.Validate(); err == nil {
		t.Fatalf("expected time limit error")
	}
	quiz.Settings.TimeLimitMinutes = nil
	if err := quiz.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnswerJSONRoundTrip(t *testing.T) {
	for _, a := range []Answer{SingleAnswer(2), MultipleAnswer(3, 1), TextAnswer("paris")} {
		data, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Answer
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if !back.Equal(a) {
			t.Fatalf("round trip mismatch: %+v vs %+v", back, a)
		}
	}
}

func TestParseAnswerRejectsWrongShape(t *testing.T) {
	if _, err := ParseAnswer(MCQSingle, json.RawMessage(`1.5`)); err == nil {
		t.Fatalf("expected non-integer rejection")
	}
	if _, err := ParseAnswer(MCQMultiple, json.RawMessage(`[1,"b"]`)); err == nil {
		t.Fatalf("expected mixed list rejection")
	}
	if _, err := ParseAnswer(TextInput, json.RawMessage(`3`)); err == nil {
		t.Fatalf("expected non-string rejection")
	}
	a, err := ParseAnswer(MCQMultiple, json.RawMessage(`[3,1]`))
	if err != nil || a.String() != "1,3" {
		t.Fatalf("unexpected parse %+v %v", a, err)
	}
}

func TestErrorIsMatchesKindAndMessage(t *testing.T) {
	err := E(KindValidation, "navigator.complete", "not-all-answered", nil)
	if !errors.Is(err, ErrNotAllAnswered) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected kind and message match")
	}
	if errors.Is(err, ErrNotRunning) {
		t.Fatalf("different message must not match")
	}
	quota := &QuotaExceededError{Service: "llm"}
	if !errors.Is(quota, ErrQuotaExceeded) {
		t.Fatalf("quota error must match quota kind")
	}
}
