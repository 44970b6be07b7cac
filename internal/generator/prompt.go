package generator

import (
	"fmt"
	"strings"

	"quiz-studio/internal/domain"
)

const questionsSchema = `{"questions": [
  {"type": "mcq-single", "prompt": "...", "options": ["...", "..."], "correctIndex": 0, "explanation": "..."},
  {"type": "mcq-multiple", "prompt": "...", "options": ["...", "..."], "correctIndices": [0, 2], "explanation": "..."},
  {"type": "text-input", "prompt": "...", "correctAnswer": "...", "caseSensitive": false, "explanation": "..."}
]}`

func buildQuestionsPrompt(text string, opts domain.GenerationOptions) string {
	kinds := make([]string, len(opts.AllowedKinds))
	for i, k := range opts.AllowedKinds {
		kinds[i] = string(k)
	}
	difficulty := string(opts.Difficulty)
	if opts.Difficulty == domain.DifficultyMixed {
		difficulty = "a mix of easy, medium and hard"
	}

	return fmt.Sprintf(`Write %d quiz questions about the source text below.

Difficulty: %s.
Allowed question types: %s. Do not use any other type.

Rules:
- mcq-single: 2 to 6 distinct options, correctIndex is the zero-based index of the one correct option.
- mcq-multiple: 2 to 6 distinct options, correctIndices lists every correct option, at least one.
- text-input: correctAnswer is a short answer, caseSensitive says whether letter case matters.
- Every question has a one or two sentence explanation.
- Questions must be answerable from the source text alone.

Reply with JSON only, in exactly this shape:
%s

Source text:
"""
%s
"""`, opts.Count, difficulty, strings.Join(kinds, ", "), questionsSchema, text)
}

func buildExplanationPrompt(q domain.Question, answer string, correct bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", q.Prompt)
	if len(q.Options) > 0 {
		b.WriteString("Options:\n")
		for i, opt := range q.Options {
			fmt.Fprintf(&b, "%d. %s\n", i, opt)
		}
	}
	fmt.Fprintf(&b, "Correct answer: %s\n", q.CorrectAnswerText())
	if answer == "" {
		b.WriteString("The learner did not answer.\n")
	} else {
		fmt.Fprintf(&b, "Learner's answer: %s\n", displayAnswer(q, answer))
	}
	if correct {
		b.WriteString("\nThe answer is correct. In 1 to 3 sentences, explain why it is right.")
	} else {
		b.WriteString("\nThe answer is wrong. In 1 to 3 sentences, explain the correct answer and why the learner's choice does not fit.")
	}
	b.WriteString(" Answer in plain text.")
	return b.String()
}

// displayAnswer maps index answers back to option text.
func displayAnswer(q domain.Question, answer string) string {
	if q.Type == domain.TextInput {
		return answer
	}
	parts := strings.Split(answer, ",")
	for i, p := range parts {
		var idx int
		if _, err := fmt.Sscanf(p, "%d", &idx); err == nil && idx >= 0 && idx < len(q.Options) {
			parts[i] = q.Options[idx]
		}
	}
	return strings.Join(parts, ", ")
}
