package grading

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/lifecycle"
	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
)

// Grade is a teacher's assessment of one writing task. It replaces the whole
// active record of the task.
type Grade struct {
	BandScore    float64               `json:"band_score" validate:"gte=1,lte=9"`
	Criteria     *model.CriteriaScores `json:"criteria,omitempty"`
	Feedback     string                `json:"feedback" validate:"max=10000"`
	Strengths    []string              `json:"strengths"`
	Improvements []string              `json:"improvements"`
}

// Override stores teacher grades for writing tasks. Tasks not named keep
// their current record, so a partial override is allowed. The attempt is
// marked graded only once no writing task is pending; until then it stays
// completed and Reassess can still fill in the rest. Overriding an already
// graded attempt recomputes the writing and overall bands from the new
// records.
func (s *Service) Override(ctx context.Context, id string, version int64, grades map[string]Grade) (model.Attempt, error) {
	if len(grades) == 0 {
		return model.Attempt{}, ErrNoGrades
	}
	a, exam, err := s.load(ctx, id)
	if err != nil {
		return model.Attempt{}, err
	}
	if _, err := lifecycle.Next(a.Status, lifecycle.ActionGrade); err != nil {
		return model.Attempt{}, err
	}

	teacher := model.TeacherFromContext(ctx)
	now := s.now()
	records := make(model.WritingFeedback, len(grades))
	for _, qid := range sortedKeys(grades) {
		g := grades[qid]
		if !isWritingQuestion(exam, qid) {
			return model.Attempt{}, fmt.Errorf("writing task %s: %w", qid, ErrUnknownQuestion)
		}
		if err := s.checkGrade(g); err != nil {
			return model.Attempt{}, fmt.Errorf("grade for %s: %w", qid, err)
		}
		records[qid] = model.WritingAssessment{
			BandScore:    g.BandScore,
			Criteria:     g.Criteria,
			Feedback:     g.Feedback,
			Strengths:    nonNil(g.Strengths),
			Improvements: nonNil(g.Improvements),
			WordCount:    assess.WordCount(a.Answers[qid].Joined()),
			AssessedBy:   model.AssessedByTeacher,
			AssessedAt:   now,
			GradedBy:     teacher,
		}
	}

	fb := a.WritingFeedback.Clone()
	for qid, w := range records {
		fb[qid] = w
	}
	scores := scoring.WithWriting(a.SectionScores, fb)
	overall := scoring.OverallBand(scores)

	action := lifecycle.ActionGrade
	update := model.AttemptUpdate{
		SectionScores:   scores,
		WritingFeedback: records,
		OverallBand:     &overall,
		GradedAt:        &now,
	}
	pending := pendingTasks(exam, fb)
	if len(pending) > 0 {
		action = lifecycle.ActionReassess
		update.GradedAt = nil
	}
	u, err := lifecycle.Apply(a.Status, action, update)
	if err != nil {
		return model.Attempt{}, err
	}
	out, err := s.repo.UpdateAttempt(ctx, id, pick(version, a.Version), u)
	if err != nil {
		return model.Attempt{}, err
	}
	if len(pending) > 0 {
		slog.Info("teacher grades stored, tasks still pending", "attempt_id", id, "tasks", len(records),
			"pending", pending, "teacher", teacher)
		return out, nil
	}
	slog.Info("attempt graded", "attempt_id", id, "tasks", len(records), "overall_band", overall, "teacher", teacher)
	return out, nil
}

// pendingTasks lists writing tasks of exam with no final record in fb.
func pendingTasks(exam model.Exam, fb model.WritingFeedback) []string {
	ws, ok := exam.WritingSection()
	if !ok {
		return nil
	}
	var out []string
	for _, q := range ws.Questions {
		if w, ok := fb[q.ID]; !ok || w.IsPending() {
			out = append(out, q.ID)
		}
	}
	return out
}

func (s *Service) checkGrade(g Grade) error {
	if err := s.validate.Struct(g); err != nil || !scoring.ValidBand(g.BandScore) {
		return fmt.Errorf("band %v: %w", g.BandScore, ErrInvalidBand)
	}
	if c := g.Criteria; c != nil {
		for _, v := range []float64{c.TaskAchievement, c.CoherenceCohesion, c.LexicalResource, c.GrammaticalRange} {
			if !scoring.ValidBand(v) {
				return fmt.Errorf("criterion band %v: %w", v, ErrInvalidBand)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]Grade) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
