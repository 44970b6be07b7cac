// Package rules decides answer admissibility and correctness, one rule per question type.
// Rules are pure so a verdict recomputed at finalization matches the one recorded at submission.
package rules

import (
	"fmt"
	"strings"

	"quiz-studio/internal/domain"
)

// Admission is the outcome of an admissibility check.
type Admission struct {
	OK     bool
	Reason string
}

func admit() Admission { return Admission{OK: true} }

func reject(format string, args ...any) Admission {
	return Admission{Reason: fmt.Sprintf(format, args...)}
}

// Rule decides answers for one question type.
type Rule interface {
	Admissible(a domain.Answer, q domain.Question) Admission
	// Correct is only meaningful when Admissible reports OK.
	Correct(a domain.Answer, q domain.Question) bool
}

var registry = map[domain.QuestionType]Rule{
	domain.MCQSingle:   singleChoice{},
	domain.MCQMultiple: multipleChoice{},
	domain.TextInput:   textInput{},
}

// For returns the rule for a question type.
func For(t domain.QuestionType) (Rule, bool) {
	r, ok := registry[t]
	return r, ok
}

// Admissible dispatches on the question type.
func Admissible(a domain.Answer, q domain.Question) Admission {
	r, ok := For(q.Type)
	if !ok {
		return reject("unsupported question type %q", q.Type)
	}
	if a.Type != q.Type {
		return reject("unsupported answer type %q for %s question", a.Type, q.Type)
	}
	return r.Admissible(a, q)
}

// Correct reports false for inadmissible answers.
func Correct(a domain.Answer, q domain.Question) bool {
	if !Admissible(a, q).OK {
		return false
	}
	r, _ := For(q.Type)
	return r.Correct(a, q)
}

// Judge produces the verdict for an answer.
func Judge(a domain.Answer, q domain.Question) domain.Verdict {
	adm := Admissible(a, q)
	if !adm.OK {
		return domain.Verdict{Admissible: false, Reason: adm.Reason}
	}
	r, _ := For(q.Type)
	correct := r.Correct(a, q)
	return domain.Verdict{Admissible: true, Correct: &correct}
}

type singleChoice struct{}

func (singleChoice) Admissible(a domain.Answer, q domain.Question) Admission {
	if a.Index < 0 || a.Index >= len(q.Options) {
		return reject("answer index %d out of range [0,%d)", a.Index, len(q.Options))
	}
	return admit()
}

func (singleChoice) Correct(a domain.Answer, q domain.Question) bool {
	return a.Index == q.CorrectIndex
}

type multipleChoice struct{}

func (multipleChoice) Admissible(a domain.Answer, q domain.Question) Admission {
	if len(a.Indices) == 0 {
		return reject("select at least one option")
	}
	seen := make(map[int]struct{}, len(a.Indices))
	for _, idx := range a.Indices {
		if idx < 0 || idx >= len(q.Options) {
			return reject("answer index %d out of range [0,%d)", idx, len(q.Options))
		}
		if _, dup := seen[idx]; dup {
			return reject("answer index %d selected twice", idx)
		}
		seen[idx] = struct{}{}
	}
	return admit()
}

// Correct compares as sets; admissible answers carry no duplicates.
func (multipleChoice) Correct(a domain.Answer, q domain.Question) bool {
	if len(a.Indices) != len(q.CorrectIndices) {
		return false
	}
	want := make(map[int]struct{}, len(q.CorrectIndices))
	for _, idx := range q.CorrectIndices {
		want[idx] = struct{}{}
	}
	for _, idx := range a.Indices {
		if _, ok := want[idx]; !ok {
			return false
		}
	}
	return true
}

type textInput struct{}

func (textInput) Admissible(a domain.Answer, _ domain.Question) Admission {
	if strings.TrimSpace(a.Text) == "" {
		return reject("answer must not be blank")
	}
	return admit()
}

func (textInput) Correct(a domain.Answer, q domain.Question) bool {
	got := strings.TrimSpace(a.Text)
	want := strings.TrimSpace(q.CorrectAnswer)
	if q.CaseSensitive {
		return got == want
	}
	return strings.EqualFold(got, want)
}
