package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Answer is the user's response, tagged with the kind of question it answers.
type Answer struct {
	Type    QuestionType
	Index   int
	Indices []int
	Text    string
}

func SingleAnswer(index int) Answer { return Answer{Type: MCQSingle, Index: index} }

func MultipleAnswer(indices ...int) Answer {
	return Answer{Type: MCQMultiple, Indices: append([]int{}, indices...)}
}

func TextAnswer(text string) Answer { return Answer{Type: TextInput, Text: text} }

// String is the canonical answer form: index, sorted comma-joined indices, or trimmed text.
func (a Answer) String() string {
	switch a.Type {
	case MCQSingle:
		return strconv.Itoa(a.Index)
	case MCQMultiple:
		sorted := append([]int(nil), a.Indices...)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for i, idx := range sorted {
			parts[i] = strconv.Itoa(idx)
		}
		return strings.Join(parts, ",")
	case TextInput:
		return strings.TrimSpace(a.Text)
	}
	return ""
}

// Equal compares two answers by kind and exact value.
func (a Answer) Equal(b Answer) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case MCQSingle:
		return a.Index == b.Index
	case MCQMultiple:
		if len(a.Indices) != len(b.Indices) {
			return false
		}
		for i := range a.Indices {
			if a.Indices[i] != b.Indices[i] {
				return false
			}
		}
		return true
	case TextInput:
		return a.Text == b.Text
	}
	return true
}

func (a Answer) clone() Answer {
	if a.Indices != nil {
		a.Indices = append([]int{}, a.Indices...)
	}
	return a
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer { return a.clone() }

type answerWire struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON emits {"type": ..., "value": ...}; the value is the bare answer.
func (a Answer) MarshalJSON() ([]byte, error) {
	var (
		value []byte
		err   error
	)
	switch a.Type {
	case MCQSingle:
		value, err = json.Marshal(a.Index)
	case MCQMultiple:
		indices := a.Indices
		if indices == nil {
			indices = []int{}
		}
		value, err = json.Marshal(indices)
	case TextInput:
		value, err = json.Marshal(a.Text)
	default:
		return nil, fmt.Errorf("marshal answer: unsupported type %q", a.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerWire{Type: a.Type, Value: value})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var w answerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := ParseAnswer(w.Type, w.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAnswer decodes a bare JSON answer value for the given question type.
// Shape errors are validation errors carrying the admissibility reason.
func ParseAnswer(t QuestionType, raw json.RawMessage) (Answer, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Answer{}, E(KindValidation, "parse answer", "answer is not valid JSON", err)
	}
	switch t {
	case MCQSingle:
		idx, ok := asInt(v)
		if !ok {
			return Answer{}, E(KindValidation, "parse answer", "answer must be an integer", nil)
		}
		return SingleAnswer(idx), nil
	case MCQMultiple:
		list, ok := v.([]any)
		if !ok {
			return Answer{}, E(KindValidation, "parse answer", "answer must be a list of integers", nil)
		}
		indices := make([]int, 0, len(list))
		for _, item := range list {
			idx, ok := asInt(item)
			if !ok {
				return Answer{}, E(KindValidation, "parse answer", "answer must be a list of integers", nil)
			}
			indices = append(indices, idx)
		}
		return MultipleAnswer(indices...), nil
	case TextInput:
		s, ok := v.(string)
		if !ok {
			return Answer{}, E(KindValidation, "parse answer", "answer must be a string", nil)
		}
		return TextAnswer(s), nil
	}
	return Answer{}, E(KindValidation, "parse answer", fmt.Sprintf("unsupported question type %q", t), nil)
}

func asInt(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}
