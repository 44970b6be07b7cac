package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// QuestionType is the discriminator of the question variant.
type QuestionType string

const (
	MCQSingle   QuestionType = "mcq-single"
	MCQMultiple QuestionType = "mcq-multiple"
	TextInput   QuestionType = "text-input"
)

const (
	MinOptions = 2
	MaxOptions = 6
)

// QuestionTypes lists every supported variant in declaration order.
var QuestionTypes = []QuestionType{MCQSingle, MCQMultiple, TextInput}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case MCQSingle, MCQMultiple, TextInput:
		return true
	}
	return false
}

// Media is an optional illustration attached to a question.
type Media struct {
	Kind string `json:"kind" validate:"required,oneof=image audio video"`
	URL  string `json:"url" validate:"required,url"`
}

// Question is immutable once saved. Kind-specific fields are ignored for other kinds.
type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt" validate:"notblank,max=2000"`
	Explanation string       `json:"explanation,omitempty"`
	Media       *Media       `json:"media,omitempty"`

	// mcq-single and mcq-multiple
	Options []string `json:"options,omitempty"`
	// mcq-single
	CorrectIndex int `json:"correctIndex"`
	// mcq-multiple, kept sorted
	CorrectIndices []int `json:"correctIndices,omitempty"`
	// text-input
	CorrectAnswer string `json:"correctAnswer,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

type questionWire struct {
	ID             string       `json:"id"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"prompt"`
	Explanation    string       `json:"explanation,omitempty"`
	Media          *Media       `json:"media,omitempty"`
	Options        []string     `json:"options,omitempty"`
	CorrectIndex   *int         `json:"correctIndex,omitempty"`
	CorrectIndices []int        `json:"correctIndices,omitempty"`
	CorrectAnswer  string       `json:"correctAnswer,omitempty"`
	CaseSensitive  *bool        `json:"caseSensitive,omitempty"`
}

// MarshalJSON emits only the fields that belong to the question's kind.
func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{
		ID:          q.ID,
		Type:        q.Type,
		Prompt:      q.Prompt,
		Explanation: q.Explanation,
		Media:       q.Media,
	}
	switch q.Type {
	case MCQSingle:
		idx := q.CorrectIndex
		w.Options = q.Options
		w.CorrectIndex = &idx
	case MCQMultiple:
		w.Options = q.Options
		w.CorrectIndices = q.CorrectIndices
	case TextInput:
		cs := q.CaseSensitive
		w.CorrectAnswer = q.CorrectAnswer
		w.CaseSensitive = &cs
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the wire format; a missing correctIndex decodes as -1.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = Question{
		ID:             w.ID,
		Type:           w.Type,
		Prompt:         w.Prompt,
		Explanation:    w.Explanation,
		Media:          w.Media,
		Options:        w.Options,
		CorrectIndex:   -1,
		CorrectIndices: w.CorrectIndices,
		CorrectAnswer:  w.CorrectAnswer,
	}
	if w.CorrectIndex != nil {
		q.CorrectIndex = *w.CorrectIndex
	}
	if w.CaseSensitive != nil {
		q.CaseSensitive = *w.CaseSensitive
	}
	return nil
}

// Validate checks the question's invariants. The error is of kind validation.
func (q Question) Validate() error {
	if err := validateStruct(q); err != nil {
		return E(KindValidation, "question "+q.ID, err.Error(), nil)
	}
	if reason := q.invariantViolation(); reason != "" {
		return E(KindValidation, "question "+q.ID, reason, nil)
	}
	return nil
}

func (q Question) invariantViolation() string {
	switch q.Type {
	case MCQSingle:
		if reason := optionsViolation(q.Options); reason != "" {
			return reason
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Sprintf("correctIndex %d out of range", q.CorrectIndex)
		}
	case MCQMultiple:
		if reason := optionsViolation(q.Options); reason != "" {
			return reason
		}
		if len(q.CorrectIndices) == 0 {
			return "correctIndices must not be empty"
		}
		seen := make(map[int]struct{}, len(q.CorrectIndices))
		for _, idx := range q.CorrectIndices {
			if idx < 0 || idx >= len(q.Options) {
				return fmt.Sprintf("correctIndices contains %d out of range", idx)
			}
			if _, dup := seen[idx]; dup {
				return fmt.Sprintf("correctIndices contains duplicate %d", idx)
			}
			seen[idx] = struct{}{}
		}
	case TextInput:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return "correctAnswer must not be blank"
		}
	default:
		return fmt.Sprintf("unsupported question type %q", q.Type)
	}
	return ""
}

func optionsViolation(options []string) string {
	if len(options) < MinOptions || len(options) > MaxOptions {
		return fmt.Sprintf("options must have between %d and %d entries, got %d", MinOptions, MaxOptions, len(options))
	}
	seen := make(map[string]struct{}, len(options))
	for i, opt := range options {
		trimmed := strings.TrimSpace(opt)
		if trimmed == "" {
			return fmt.Sprintf("option %d is blank", i)
		}
		if _, dup := seen[trimmed]; dup {
			return fmt.Sprintf("duplicate option %q", trimmed)
		}
		seen[trimmed] = struct{}{}
	}
	return ""
}

// Canonical returns a copy with correctIndices sorted, the stored form of mcq-multiple.
func (q Question) Canonical() Question {
	if q.Type == MCQMultiple {
		indices := append([]int(nil), q.CorrectIndices...)
		sort.Ints(indices)
		q.CorrectIndices = indices
	}
	return q
}

// CorrectAnswerText renders the expected answer for humans.
func (q Question) CorrectAnswerText() string {
	switch q.Type {
	case MCQSingle:
		if q.CorrectIndex >= 0 && q.CorrectIndex < len(q.Options) {
			return q.Options[q.CorrectIndex]
		}
	case MCQMultiple:
		parts := make([]string, 0, len(q.CorrectIndices))
		for _, idx := range q.CorrectIndices {
			if idx >= 0 && idx < len(q.Options) {
				parts = append(parts, q.Options[idx])
			}
		}
		return strings.Join(parts, ", ")
	case TextInput:
		return strings.TrimSpace(q.CorrectAnswer)
	}
	return ""
}
