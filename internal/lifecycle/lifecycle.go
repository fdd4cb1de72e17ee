// Package lifecycle defines the attempt state machine: which transitions are
// legal and which attempt fields each state may write.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/pavelanni/bandexam/internal/model"
)

// ErrInvalidTransition is returned when an action is not allowed from the
// attempt's current state. The attempt is left unchanged.
var ErrInvalidTransition = errors.New("invalid attempt transition")

// Action is something a caller asks to do to an attempt.
type Action string

const (
	ActionSaveAnswers Action = "save-answers"
	ActionSubmit      Action = "submit"
	ActionReassess    Action = "reassess"
	ActionGrade       Action = "grade"
)

// Field is a writable part of an attempt.
type Field string

const (
	FieldAnswers         Field = "answers"
	FieldSectionScores   Field = "section_scores"
	FieldWritingFeedback Field = "writing_feedback"
	FieldOverallBand     Field = "overall_band"
	FieldCompletedAt     Field = "completed_at"
	FieldGradedAt        Field = "graded_at"
)

var transitions = map[Action]map[model.AttemptStatus]model.AttemptStatus{
	ActionSaveAnswers: {
		model.StatusCreated:    model.StatusInProgress,
		model.StatusInProgress: model.StatusInProgress,
	},
	ActionSubmit: {
		model.StatusCreated:    model.StatusCompleted,
		model.StatusInProgress: model.StatusCompleted,
	},
	ActionReassess: {
		model.StatusCompleted: model.StatusCompleted,
	},
	ActionGrade: {
		model.StatusCompleted: model.StatusGraded,
		model.StatusGraded:    model.StatusGraded,
	},
}

var writable = map[model.AttemptStatus]map[Field]bool{
	model.StatusCreated:    {FieldAnswers: true},
	model.StatusInProgress: {FieldAnswers: true},
	model.StatusCompleted: {
		FieldSectionScores:   true,
		FieldWritingFeedback: true,
		FieldOverallBand:     true,
		FieldCompletedAt:     true,
	},
	model.StatusGraded: {
		FieldSectionScores:   true,
		FieldWritingFeedback: true,
		FieldOverallBand:     true,
		FieldGradedAt:        true,
	},
}

// Next returns the state reached by applying action a in state from.
func Next(from model.AttemptStatus, a Action) (model.AttemptStatus, error) {
	to, ok := transitions[a][from]
	if !ok {
		return from, fmt.Errorf("%s from %s: %w", a, from, ErrInvalidTransition)
	}
	return to, nil
}

// Allowed reports whether action a may be applied in state from.
func Allowed(from model.AttemptStatus, a Action) bool {
	_, ok := transitions[a][from]
	return ok
}

// Writable reports whether an attempt in status may have field written.
func Writable(status model.AttemptStatus, f Field) bool {
	return writable[status][f]
}

// Apply checks that action a is legal from state from and that update only
// writes fields the transition permits. Answers are checked against the
// state being left, everything else against the state being entered, and
// completedAt may be set only by the submit that completes the attempt.
// On success the returned update carries the new status.
func Apply(from model.AttemptStatus, a Action, u model.AttemptUpdate) (model.AttemptUpdate, error) {
	to, err := Next(from, a)
	if err != nil {
		return u, err
	}

	check := func(set bool, status model.AttemptStatus, f Field) error {
		if set && !Writable(status, f) {
			return fmt.Errorf("%s from %s writes %s: %w", a, from, f, ErrInvalidTransition)
		}
		return nil
	}
	if err := errors.Join(
		check(u.Answers != nil, from, FieldAnswers),
		check(u.SectionScores != nil, to, FieldSectionScores),
		check(u.WritingFeedback != nil, to, FieldWritingFeedback),
		check(u.OverallBand != nil, to, FieldOverallBand),
		check(u.GradedAt != nil, to, FieldGradedAt),
	); err != nil {
		return u, err
	}
	if u.CompletedAt != nil && a != ActionSubmit {
		return u, fmt.Errorf("%s from %s writes %s: %w", a, from, FieldCompletedAt, ErrInvalidTransition)
	}

	u.Status = &to
	return u, nil
}
