package grading

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
)

// CreateExam validates and stores a new exam.
func (s *Service) CreateExam(ctx context.Context, e model.Exam) (model.Exam, error) {
	if err := s.ValidateExam(e); err != nil {
		return model.Exam{}, err
	}
	return s.repo.CreateExam(ctx, e)
}

// GetExam returns an exam with answer keys.
func (s *Service) GetExam(ctx context.Context, id string) (model.Exam, error) {
	return s.repo.GetExam(ctx, id)
}

// ListExams returns exams; activeOnly hides deactivated ones.
func (s *Service) ListExams(ctx context.Context, activeOnly bool) ([]model.Exam, error) {
	return s.repo.ListExams(ctx, activeOnly)
}

// SetExamActive shows or hides an exam from students.
func (s *Service) SetExamActive(ctx context.Context, id string, active bool) error {
	return s.repo.SetExamActive(ctx, id, active)
}

// ValidateExam checks struct constraints and cross-field rules. Each section
// type appears at most once and question IDs are unique. Question types must
// match their section. Choice questions have exactly one accepted answer and
// multi-blank questions have one per blank.
func (s *Service) ValidateExam(e model.Exam) error {
	if err := s.validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExam, err)
	}

	var errs []error
	seen := make(map[string]bool)
	sections := make(map[model.SectionType]bool)
	for _, sec := range e.Sections {
		if sections[sec.Type] {
			errs = append(errs, fmt.Errorf("at most one %s section is allowed", sec.Type))
		}
		sections[sec.Type] = true
		for _, q := range sec.Questions {
			if seen[q.ID] {
				errs = append(errs, fmt.Errorf("duplicate question id %q", q.ID))
			}
			seen[q.ID] = true

			switch {
			case sec.Type == model.SectionWriting && q.Type != model.QuestionEssay:
				errs = append(errs, fmt.Errorf("question %q: writing sections hold essays only", q.ID))
			case sec.Type != model.SectionWriting && !q.Type.IsObjective():
				errs = append(errs, fmt.Errorf("question %q: %s sections hold objective questions only", q.ID, sec.Type))
			case q.Type.IsObjective() && len(q.Accepted) == 0:
				errs = append(errs, fmt.Errorf("question %q: no accepted answer", q.ID))
			case (q.Type == model.QuestionMCQ || q.Type == model.QuestionTrueFalse) && len(q.Accepted) > 1:
				errs = append(errs, fmt.Errorf("question %q: %s takes one accepted answer, got %d",
					q.ID, q.Type, len(q.Accepted)))
			case scoring.IsMultiBlank(q) && len(q.Accepted) != scoring.BlankCount(q.Prompt):
				errs = append(errs, fmt.Errorf("question %q: %d blanks but %d accepted answers",
					q.ID, scoring.BlankCount(q.Prompt), len(q.Accepted)))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExam, err)
	}
	return nil
}
