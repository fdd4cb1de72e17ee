package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/bandexam/internal/model"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    model.AttemptStatus
		action  Action
		want    model.AttemptStatus
		wantErr bool
	}{
		{model.StatusCreated, ActionSaveAnswers, model.StatusInProgress, false},
		{model.StatusInProgress, ActionSaveAnswers, model.StatusInProgress, false},
		{model.StatusCreated, ActionSubmit, model.StatusCompleted, false},
		{model.StatusInProgress, ActionSubmit, model.StatusCompleted, false},
		{model.StatusCompleted, ActionReassess, model.StatusCompleted, false},
		{model.StatusCompleted, ActionGrade, model.StatusGraded, false},
		{model.StatusGraded, ActionGrade, model.StatusGraded, false},

		{model.StatusCompleted, ActionSaveAnswers, model.StatusCompleted, true},
		{model.StatusGraded, ActionSaveAnswers, model.StatusGraded, true},
		{model.StatusCompleted, ActionSubmit, model.StatusCompleted, true},
		{model.StatusGraded, ActionSubmit, model.StatusGraded, true},
		{model.StatusInProgress, ActionReassess, model.StatusInProgress, true},
		{model.StatusGraded, ActionReassess, model.StatusGraded, true},
		{model.StatusCreated, ActionGrade, model.StatusCreated, true},
		{model.StatusInProgress, ActionGrade, model.StatusInProgress, true},
		{model.StatusCreated, Action("delete"), model.StatusCreated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+" from "+string(tt.from), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
			if Allowed(tt.from, tt.action) == tt.wantErr {
				t.Errorf("Allowed() disagrees with Next()")
			}
		})
	}
}

func TestWritable(t *testing.T) {
	if !Writable(model.StatusInProgress, FieldAnswers) {
		t.Error("answers should be writable while in progress")
	}
	if Writable(model.StatusCompleted, FieldAnswers) {
		t.Error("answers must be frozen once completed")
	}
	if Writable(model.StatusInProgress, FieldOverallBand) {
		t.Error("overall band is not written before completion")
	}
	if !Writable(model.StatusGraded, FieldWritingFeedback) {
		t.Error("graded attempts accept teacher feedback")
	}
}

func TestApply(t *testing.T) {
	now := time.Now()
	band := 6.5

	t.Run("submit writes scores", func(t *testing.T) {
		u, err := Apply(model.StatusInProgress, ActionSubmit, model.AttemptUpdate{
			Answers:       model.Answers{"q1": model.TextAnswer("A")},
			SectionScores: model.SectionScores{model.SectionReading: band},
			OverallBand:   &band,
			CompletedAt:   &now,
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if u.Status == nil || *u.Status != model.StatusCompleted {
			t.Fatalf("status = %v, want completed", u.Status)
		}
	})

	t.Run("save answers cannot score", func(t *testing.T) {
		_, err := Apply(model.StatusInProgress, ActionSaveAnswers, model.AttemptUpdate{OverallBand: &band})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("grade cannot rewrite answers", func(t *testing.T) {
		_, err := Apply(model.StatusGraded, ActionGrade, model.AttemptUpdate{
			Answers: model.Answers{"q1": model.TextAnswer("B")},
		})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("completedAt only on submit", func(t *testing.T) {
		_, err := Apply(model.StatusCompleted, ActionGrade, model.AttemptUpdate{CompletedAt: &now})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("reassess after grading rejected", func(t *testing.T) {
		_, err := Apply(model.StatusGraded, ActionReassess, model.AttemptUpdate{
			WritingFeedback: model.WritingFeedback{},
		})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}
