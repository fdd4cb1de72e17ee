package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Answer is a submitted value: a single string, or an ordered list with one
// entry per blank. The zero value is an unanswered question.
type Answer struct {
	Text   string
	List   []string
	IsList bool
}

// TextAnswer returns a scalar answer.
func TextAnswer(s string) Answer { return Answer{Text: s} }

// ListAnswer returns an ordered multi-blank answer.
func ListAnswer(items ...string) Answer { return Answer{List: items, IsList: true} }

// Answered reports whether anything non-blank was submitted.
func (a Answer) Answered() bool {
	if !a.IsList {
		return strings.TrimSpace(a.Text) != ""
	}
	for _, s := range a.List {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// Joined returns the answer as one text, list entries on separate lines.
func (a Answer) Joined() string {
	if a.IsList {
		return strings.Join(a.List, "\n")
	}
	return a.Text
}

// MarshalJSON encodes a list answer as an array and a scalar as a string.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsList {
		if a.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.List)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts any JSON value. Numbers and booleans become their
// string form; values that are neither scalars nor arrays decode as unanswered.
func (a *Answer) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = AnswerFromAny(raw)
	return nil
}

// AnswerFromAny converts a loosely typed decoded value into an Answer.
func AnswerFromAny(v any) Answer {
	switch t := v.(type) {
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, _ := scalarString(e)
			out[i] = s
		}
		return Answer{List: out, IsList: true}
	case []string:
		return Answer{List: append([]string(nil), t...), IsList: true}
	default:
		s, _ := scalarString(t)
		return Answer{Text: s}
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Accepted holds a question's accepted answers. In JSON and YAML it may be
// written as a single value or as a list.
type Accepted []string

// UnmarshalJSON accepts a string, number, boolean or array.
func (ac *Accepted) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*ac = nil
	case []any:
		out := make(Accepted, 0, len(t))
		for _, e := range t {
			s, ok := scalarString(e)
			if !ok {
				return fmt.Errorf("accepted answer: unsupported element %T", e)
			}
			out = append(out, s)
		}
		*ac = out
	default:
		s, ok := scalarString(t)
		if !ok {
			return fmt.Errorf("accepted answer: unsupported value %T", t)
		}
		*ac = Accepted{s}
	}
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (ac *Accepted) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*ac = Accepted{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(Accepted, 0, len(node.Content))
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("accepted answer: line %d: expected scalar", n.Line)
			}
			out = append(out, n.Value)
		}
		*ac = out
		return nil
	default:
		return fmt.Errorf("accepted answer: line %d: expected scalar or list", node.Line)
	}
}

// Answers maps question ID to the submitted value.
type Answers map[string]Answer

// Clone returns a shallow copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SectionScores maps section type to its band.
type SectionScores map[SectionType]float64

// Clone returns a copy.
func (s SectionScores) Clone() SectionScores {
	out := make(SectionScores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// WritingFeedback maps writing question ID to its active assessment.
type WritingFeedback map[string]WritingAssessment

// Clone returns a copy.
func (w WritingFeedback) Clone() WritingFeedback {
	out := make(WritingFeedback, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
