// Package scoring turns submitted answers into band scores. Everything in it
// is pure and safe for concurrent use.
package scoring

import (
	"fmt"
	"strings"

	"github.com/pavelanni/bandexam/internal/model"
)

// BlankMarker marks one blank in a fill-in-the-blank prompt.
const BlankMarker = "_____"

// CreditPolicy decides how multi-blank questions earn credit.
type CreditPolicy string

const (
	// CreditAllOrNothing gives full credit only when every blank matches.
	CreditAllOrNothing CreditPolicy = "all-or-nothing"
	// CreditPerBlank gives credit in proportion to the matching blanks.
	CreditPerBlank CreditPolicy = "per-blank"
)

// ParseCreditPolicy validates a policy name. Empty means all-or-nothing.
func ParseCreditPolicy(s string) (CreditPolicy, error) {
	switch CreditPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CreditAllOrNothing:
		return CreditAllOrNothing, nil
	case CreditPerBlank:
		return CreditPerBlank, nil
	default:
		return "", fmt.Errorf("unknown multi-blank credit policy %q", s)
	}
}

// Grader grades objective questions under a credit policy.
type Grader struct {
	Policy CreditPolicy
}

// NewGrader returns a grader using the given policy.
func NewGrader(p CreditPolicy) Grader {
	if p == "" {
		p = CreditAllOrNothing
	}
	return Grader{Policy: p}
}

// IsCorrect reports whether the submitted answer fully matches the accepted
// answer. Essays and unknown types are never correct.
func IsCorrect(q model.Question, a model.Answer) bool {
	return NewGrader(CreditAllOrNothing).Credit(q, a) == 1
}

// Answered reports whether anything was submitted. It is the only judgement
// made for essays.
func Answered(a model.Answer) bool {
	return a.Answered()
}

// BlankCount returns the number of blank markers in a prompt.
func BlankCount(prompt string) int {
	return strings.Count(prompt, BlankMarker)
}

// IsMultiBlank reports whether a fill-in-the-blank question has several blanks.
func IsMultiBlank(q model.Question) bool {
	return q.Type == model.QuestionFillBlank && BlankCount(q.Prompt) > 1
}

// Credit returns the share of the question earned, between 0 and 1.
func (g Grader) Credit(q model.Question, a model.Answer) float64 {
	switch q.Type {
	case model.QuestionMCQ, model.QuestionTrueFalse:
		if a.IsList || len(q.Accepted) == 0 {
			return 0
		}
		if a.Text == q.Accepted[0] {
			return 1
		}
		return 0
	case model.QuestionFillBlank:
		if IsMultiBlank(q) {
			return g.multiBlankCredit(q.Accepted, a)
		}
		return singleBlankCredit(q.Accepted, a)
	default:
		return 0
	}
}

func singleBlankCredit(accepted model.Accepted, a model.Answer) float64 {
	text := a.Text
	if a.IsList {
		if len(a.List) != 1 {
			return 0
		}
		text = a.List[0]
	}
	if strings.TrimSpace(text) == "" {
		return 0
	}
	for _, acc := range accepted {
		if textEqual(acc, text) {
			return 1
		}
	}
	return 0
}

func (g Grader) multiBlankCredit(accepted model.Accepted, a model.Answer) float64 {
	if !a.IsList || len(accepted) == 0 || len(a.List) != len(accepted) {
		return 0
	}
	matched := 0
	for i, acc := range accepted {
		if strings.TrimSpace(a.List[i]) != "" && textEqual(acc, a.List[i]) {
			matched++
		}
	}
	if matched == len(accepted) {
		return 1
	}
	if g.Policy == CreditPerBlank {
		return float64(matched) / float64(len(accepted))
	}
	return 0
}

func textEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
