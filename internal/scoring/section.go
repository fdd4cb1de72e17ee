package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/bandexam/internal/model"
)

var (
	// ErrNotObjective is returned when a writing section is scored from answer keys.
	ErrNotObjective = errors.New("section is not objectively scored")
	// ErrEmptySection is returned for a section without questions.
	ErrEmptySection = errors.New("section has no questions")
)

// SectionResult is the outcome of scoring one objective section.
type SectionResult struct {
	Section    model.SectionType `json:"section"`
	Correct    float64           `json:"correct"`
	Total      int               `json:"total"`
	Percentage int               `json:"percentage"`
	Band       float64           `json:"band"`
}

// ScoreSection grades every question of a reading or listening section and
// converts the result to a band.
func (g Grader) ScoreSection(section model.ExamSection, answers model.Answers) (SectionResult, error) {
	if !section.Type.IsObjective() {
		return SectionResult{}, fmt.Errorf("score %s section %q: %w", section.Type, section.ID, ErrNotObjective)
	}
	if len(section.Questions) == 0 {
		return SectionResult{}, fmt.Errorf("score section %q: %w", section.ID, ErrEmptySection)
	}

	var correct float64
	for _, q := range section.Questions {
		correct += g.Credit(q, answers[q.ID])
	}
	total := len(section.Questions)
	pct := int(math.Round(correct / float64(total) * 100))

	return SectionResult{
		Section:    section.Type,
		Correct:    correct,
		Total:      total,
		Percentage: pct,
		Band:       PercentageToBand(pct),
	}, nil
}

// ScoreSection scores a section with the all-or-nothing policy.
func ScoreSection(section model.ExamSection, answers model.Answers) (float64, error) {
	res, err := NewGrader(CreditAllOrNothing).ScoreSection(section, answers)
	if err != nil {
		return 0, err
	}
	return res.Band, nil
}

// ScoreObjectiveSections scores every reading and listening section of an
// exam. Empty sections are skipped; writing sections are left to the
// writing assessment.
func (g Grader) ScoreObjectiveSections(exam model.Exam, answers model.Answers) (model.SectionScores, []SectionResult) {
	scores := model.SectionScores{}
	var results []SectionResult
	for _, s := range exam.Sections {
		if !s.Type.IsObjective() {
			continue
		}
		res, err := g.ScoreSection(s, answers)
		if err != nil {
			continue
		}
		scores[s.Type] = res.Band
		results = append(results, res)
	}
	return scores, results
}
