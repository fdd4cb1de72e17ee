package grading

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/lifecycle"
	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
	"github.com/pavelanni/bandexam/internal/store"
)

// scriptedAssessor replies by task prompt and can run a hook before replying.
type scriptedAssessor struct {
	replies map[string]string
	fail    map[string]error
	hook    func(req assess.Request)
	calls   int
}

func (f *scriptedAssessor) Assess(_ context.Context, req assess.Request) (string, error) {
	f.calls++
	if f.hook != nil {
		f.hook(req)
	}
	if err, ok := f.fail[req.Prompt]; ok {
		return "", err
	}
	return f.replies[req.Prompt], nil
}

// flakyRepo reports a stale version on the next update, once.
type flakyRepo struct {
	Repository
	staleOnce bool
}

func (r *flakyRepo) UpdateAttempt(ctx context.Context, id string, version int64, u model.AttemptUpdate) (model.Attempt, error) {
	if r.staleOnce {
		r.staleOnce = false
		return model.Attempt{}, store.ErrStaleVersion
	}
	return r.Repository.UpdateAttempt(ctx, id, version, u)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T, repo Repository, a assess.Assessor) *Service {
	t.Helper()
	var coord *assess.Coordinator
	if a != nil {
		coord = assess.NewCoordinator(a, assess.Options{})
	}
	return NewService(repo, scoring.NewGrader(scoring.CreditAllOrNothing), coord)
}

func testExam() model.Exam {
	return model.Exam{
		Title:  "Academic Practice",
		Active: true,
		Sections: []model.ExamSection{
			{ID: "reading", Name: "Reading", Type: model.SectionReading, Questions: []model.Question{
				{ID: "r1", Type: model.QuestionMCQ, Prompt: "Pick one", Options: []string{"A", "B"}, Accepted: model.Accepted{"A"}},
				{ID: "r2", Type: model.QuestionFillBlank, Prompt: "The _____ swam.", Accepted: model.Accepted{"seal", "seals"}},
			}},
			{ID: "writing", Name: "Writing", Type: model.SectionWriting, Questions: []model.Question{
				{ID: "w1", Type: model.QuestionEssay, Prompt: "Describe the chart."},
				{ID: "w2", Type: model.QuestionEssay, Prompt: "Discuss both views."},
			}},
		},
	}
}

func fullAnswers() model.Answers {
	return model.Answers{
		"r1": model.TextAnswer("A"),
		"r2": model.TextAnswer("Seals "),
		"w1": model.TextAnswer("The chart shows a steady rise in sales."),
		"w2": model.TextAnswer("Some people argue that cities are crowded."),
	}
}

func setup(t *testing.T, repo Repository, a assess.Assessor) (*Service, model.Attempt) {
	t.Helper()
	svc := newTestService(t, repo, a)
	ctx := context.Background()
	exam, err := svc.CreateExam(ctx, testExam())
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	att, err := svc.Start(ctx, exam.ID, "student-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc, att
}

func TestStart(t *testing.T) {
	svc := newTestService(t, newTestStore(t), nil)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "missing", "student-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	exam, err := svc.CreateExam(ctx, testExam())
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	if err := svc.SetExamActive(ctx, exam.ID, false); err != nil {
		t.Fatalf("SetExamActive: %v", err)
	}
	if _, err := svc.Start(ctx, exam.ID, "student-1"); !errors.Is(err, ErrExamInactive) {
		t.Errorf("expected ErrExamInactive, got %v", err)
	}
	if _, err := svc.Start(ctx, exam.ID, ""); err == nil {
		t.Error("expected error for empty student id")
	}
}

func TestSaveAnswers(t *testing.T) {
	svc, att := setup(t, newTestStore(t), nil)
	ctx := context.Background()

	got, err := svc.SaveAnswers(ctx, att.ID, att.Version, model.Answers{"r2": model.ListAnswer("seal")})
	if err != nil {
		t.Fatalf("SaveAnswers: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if ans := got.Answers["r2"]; ans.IsList || ans.Text != "seal" {
		t.Errorf("single-element list should be unwrapped, got %+v", ans)
	}

	got, err = svc.SaveAnswers(ctx, att.ID, 0, model.Answers{"r1": model.TextAnswer("B")})
	if err != nil {
		t.Fatalf("SaveAnswers merge: %v", err)
	}
	if len(got.Answers) != 2 {
		t.Errorf("answers should merge, got %v", got.Answers)
	}

	if _, err := svc.SaveAnswers(ctx, att.ID, 0, model.Answers{"zz": model.TextAnswer("x")}); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := svc.SaveAnswers(ctx, att.ID, 1, model.Answers{"r1": model.TextAnswer("A")}); !errors.Is(err, store.ErrStaleVersion) {
		t.Errorf("expected ErrStaleVersion, got %v", err)
	}
}

func TestSubmitOneAssessmentFails(t *testing.T) {
	ai := &scriptedAssessor{
		replies: map[string]string{"Describe the chart.": `{"bandScore": 6.5, "feedback": "Clear."}`},
		fail:    map[string]error{"Discuss both views.": errors.New("timeout")},
	}
	svc, att := setup(t, newTestStore(t), ai)
	ctx := context.Background()

	got, err := svc.Submit(ctx, att.ID, 0, fullAnswers())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if got.SectionScores[model.SectionReading] != 9.0 {
		t.Errorf("reading = %v, want 9.0", got.SectionScores[model.SectionReading])
	}
	if w1 := got.WritingFeedback["w1"]; w1.AssessedBy != model.AssessedByAI || w1.BandScore != 6.5 {
		t.Errorf("w1 = %+v", w1)
	}
	w2 := got.WritingFeedback["w2"]
	if !w2.IsPending() || !strings.Contains(w2.Feedback, "timeout") {
		t.Errorf("w2 = %+v", w2)
	}
	if got.SectionScores[model.SectionWriting] != 6.5 {
		t.Errorf("writing = %v, want 6.5", got.SectionScores[model.SectionWriting])
	}
	if got.OverallBand != 8.0 {
		t.Errorf("overall = %v, want 8.0", got.OverallBand)
	}
	if p := got.PendingReview(); len(p) != 1 || p[0] != "w2" {
		t.Errorf("pending review = %v", p)
	}

	if _, err := svc.Submit(ctx, att.ID, 0, nil); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("second submit: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.SaveAnswers(ctx, att.ID, 0, model.Answers{"r1": model.TextAnswer("B")}); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("save after submit: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSubmitWithoutAssessor(t *testing.T) {
	svc, att := setup(t, newTestStore(t), nil)

	got, err := svc.Submit(context.Background(), att.ID, 0, model.Answers{"r1": model.TextAnswer("A")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := got.SectionScores[model.SectionWriting]; ok {
		t.Error("writing should stay unscored while every task is pending")
	}
	if got.OverallBand != got.SectionScores[model.SectionReading] {
		t.Errorf("overall %v should equal the only section band %v", got.OverallBand, got.SectionScores[model.SectionReading])
	}
	if len(got.PendingReview()) != 2 {
		t.Errorf("pending review = %v", got.PendingReview())
	}
}

func TestOverride(t *testing.T) {
	ai := &scriptedAssessor{
		replies: map[string]string{"Describe the chart.": `{"bandScore": 6.5}`},
		fail:    map[string]error{"Discuss both views.": errors.New("timeout")},
	}
	svc, att := setup(t, newTestStore(t), ai)
	ctx := model.ContextWithTeacher(context.Background(), "teacher-1")

	if _, err := svc.Override(ctx, att.ID, 0, map[string]Grade{"w1": {BandScore: 7}}); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("override before submit: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Submit(ctx, att.ID, 0, fullAnswers()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tests := []struct {
		name   string
		grades map[string]Grade
		want   error
	}{
		{"empty", map[string]Grade{}, ErrNoGrades},
		{"off step", map[string]Grade{"w2": {BandScore: 6.3}}, ErrInvalidBand},
		{"too high", map[string]Grade{"w2": {BandScore: 9.5}}, ErrInvalidBand},
		{"bad criterion", map[string]Grade{"w2": {BandScore: 7, Criteria: &model.CriteriaScores{TaskAchievement: 0}}}, ErrInvalidBand},
		{"objective question", map[string]Grade{"r1": {BandScore: 7}}, ErrUnknownQuestion},
		{"unknown question", map[string]Grade{"zz": {BandScore: 7}}, ErrUnknownQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Override(ctx, att.ID, 0, tt.grades); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	got, err := svc.Override(ctx, att.ID, 0, map[string]Grade{"w2": {BandScore: 7.0, Feedback: "Well argued."}})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got.Status != model.StatusGraded || got.GradedAt == nil {
		t.Errorf("status = %s", got.Status)
	}
	w2 := got.WritingFeedback["w2"]
	if w2.AssessedBy != model.AssessedByTeacher || w2.GradedBy != "teacher-1" || w2.Strengths == nil {
		t.Errorf("w2 = %+v", w2)
	}
	if got.SectionScores[model.SectionWriting] != 7.0 || got.OverallBand != 8.0 {
		t.Errorf("writing %v overall %v, want 7.0 and 8.0", got.SectionScores[model.SectionWriting], got.OverallBand)
	}

	// Re-grading a graded attempt recomputes deterministically.
	got, err = svc.Override(ctx, att.ID, got.Version, map[string]Grade{"w1": {BandScore: 5.0}})
	if err != nil {
		t.Fatalf("second Override: %v", err)
	}
	if got.Status != model.StatusGraded {
		t.Errorf("status = %s, want graded", got.Status)
	}
	if got.SectionScores[model.SectionWriting] != 6.0 || got.OverallBand != 7.5 {
		t.Errorf("writing %v overall %v, want 6.0 and 7.5", got.SectionScores[model.SectionWriting], got.OverallBand)
	}

	hist, err := svc.History(ctx, att.ID, "w2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[2].Source != model.AssessedByTeacher || hist[0].Source != model.AssessedByPending {
		t.Errorf("history = %+v", hist)
	}
	if _, err := svc.History(ctx, att.ID, "r1"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}

	if _, err := svc.Reassess(ctx, att.ID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("reassess after grading: expected ErrInvalidTransition, got %v", err)
	}
}

func TestReassess(t *testing.T) {
	ai := &scriptedAssessor{
		replies: map[string]string{
			"Describe the chart.": `{"bandScore": 6.0}`,
			"Discuss both views.": `{"bandScore": 7.0}`,
		},
		fail: map[string]error{"Discuss both views.": errors.New("timeout")},
	}
	svc, att := setup(t, newTestStore(t), ai)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, att.ID, 0, fullAnswers()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	delete(ai.fail, "Discuss both views.")
	calls := ai.calls

	got, err := svc.Reassess(ctx, att.ID)
	if err != nil {
		t.Fatalf("Reassess: %v", err)
	}
	if ai.calls != calls+1 {
		t.Errorf("only the pending task should be reassessed, got %d calls", ai.calls-calls)
	}
	if w2 := got.WritingFeedback["w2"]; w2.AssessedBy != model.AssessedByAI || w2.BandScore != 7.0 {
		t.Errorf("w2 = %+v", w2)
	}
	if got.SectionScores[model.SectionWriting] != 6.5 || got.Status != model.StatusCompleted {
		t.Errorf("writing %v status %s", got.SectionScores[model.SectionWriting], got.Status)
	}
}

func TestAssessmentDroppedAfterGrading(t *testing.T) {
	ai := &scriptedAssessor{replies: map[string]string{
		"Describe the chart.": `{"bandScore": 6.0}`,
		"Discuss both views.": `{"bandScore": 4.0}`,
	}}
	svc, att := setup(t, newTestStore(t), ai)
	ctx := context.Background()

	// A teacher grades both tasks while the second is still with the assessor.
	ai.hook = func(req assess.Request) {
		if req.Kind != assess.Task2 {
			return
		}
		grades := map[string]Grade{"w1": {BandScore: 8.0}, "w2": {BandScore: 6.0}}
		if _, err := svc.Override(ctx, att.ID, 0, grades); err != nil {
			t.Errorf("Override during assessment: %v", err)
		}
	}

	got, err := svc.Submit(ctx, att.ID, 0, fullAnswers())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusGraded {
		t.Fatalf("status = %s, want graded", got.Status)
	}
	if w2 := got.WritingFeedback["w2"]; w2.AssessedBy != model.AssessedByTeacher || w2.BandScore != 6.0 {
		t.Errorf("late automatic result must be dropped, got %+v", w2)
	}
	if got.SectionScores[model.SectionWriting] != 7.0 {
		t.Errorf("writing = %v, want 7.0", got.SectionScores[model.SectionWriting])
	}
}

func TestPartialOverrideKeepsAttemptOpen(t *testing.T) {
	ai := &scriptedAssessor{
		replies: map[string]string{
			"Describe the chart.": `{"bandScore": 6.5}`,
			"Discuss both views.": `{"bandScore": 6.0}`,
		},
		fail: map[string]error{"Discuss both views.": errors.New("timeout")},
	}
	svc, att := setup(t, newTestStore(t), ai)
	ctx := model.ContextWithTeacher(context.Background(), "teacher-1")

	if _, err := svc.Submit(ctx, att.ID, 0, fullAnswers()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := svc.Override(ctx, att.ID, 0, map[string]Grade{"w1": {BandScore: 7.0}})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got.Status != model.StatusCompleted || got.GradedAt != nil {
		t.Fatalf("status = %s, graded at %v; want completed while w2 is pending", got.Status, got.GradedAt)
	}
	if w1 := got.WritingFeedback["w1"]; w1.AssessedBy != model.AssessedByTeacher || w1.BandScore != 7.0 {
		t.Errorf("w1 = %+v", w1)
	}
	if p := got.PendingReview(); len(p) != 1 || p[0] != "w2" {
		t.Errorf("pending review = %v", p)
	}
	if got.SectionScores[model.SectionWriting] != 7.0 || got.OverallBand != 8.0 {
		t.Errorf("writing %v overall %v, want 7.0 and 8.0", got.SectionScores[model.SectionWriting], got.OverallBand)
	}

	// Automatic assessment can still fill in the remaining task.
	delete(ai.fail, "Discuss both views.")
	got, err = svc.Reassess(ctx, att.ID)
	if err != nil {
		t.Fatalf("Reassess after partial grade: %v", err)
	}
	if w2 := got.WritingFeedback["w2"]; w2.AssessedBy != model.AssessedByAI || w2.BandScore != 6.0 {
		t.Errorf("w2 = %+v", w2)
	}
	if w1 := got.WritingFeedback["w1"]; w1.AssessedBy != model.AssessedByTeacher {
		t.Errorf("teacher grade for w1 must survive reassessment, got %+v", w1)
	}
	if got.Status != model.StatusCompleted || got.SectionScores[model.SectionWriting] != 6.5 {
		t.Errorf("status %s writing %v", got.Status, got.SectionScores[model.SectionWriting])
	}

	got, err = svc.Override(ctx, att.ID, got.Version, map[string]Grade{"w2": {BandScore: 6.0}})
	if err != nil {
		t.Fatalf("final Override: %v", err)
	}
	if got.Status != model.StatusGraded || got.GradedAt == nil {
		t.Errorf("status = %s, want graded once no task is pending", got.Status)
	}
}

func TestWordCountOfListAnswer(t *testing.T) {
	svc, att := setup(t, newTestStore(t), nil)
	ctx := context.Background()

	answers := fullAnswers()
	answers["w1"] = model.ListAnswer("The chart shows", "a steady rise.")
	got, err := svc.Submit(ctx, att.ID, 0, answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := got.WritingFeedback["w1"].WordCount; n != 6 {
		t.Errorf("placeholder word count = %d, want 6", n)
	}

	got, err = svc.Override(ctx, att.ID, 0, map[string]Grade{"w1": {BandScore: 5.0}})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if n := got.WritingFeedback["w1"].WordCount; n != 6 {
		t.Errorf("teacher record word count = %d, want 6", n)
	}
}

func TestAssessmentRetriesOnStaleVersion(t *testing.T) {
	repo := &flakyRepo{Repository: newTestStore(t)}
	ai := &scriptedAssessor{replies: map[string]string{
		"Describe the chart.": `{"bandScore": 6.0}`,
		"Discuss both views.": `{"bandScore": 7.0}`,
	}}
	svc, att := setup(t, repo, ai)

	ai.hook = func(req assess.Request) {
		if req.Kind == assess.Task1 {
			repo.staleOnce = true
		}
	}

	got, err := svc.Submit(context.Background(), att.ID, 0, fullAnswers())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w1 := got.WritingFeedback["w1"]; w1.AssessedBy != model.AssessedByAI {
		t.Errorf("w1 should be stored after one retry, got %+v", w1)
	}
	if got.SectionScores[model.SectionWriting] != 6.5 {
		t.Errorf("writing = %v, want 6.5", got.SectionScores[model.SectionWriting])
	}
}

func TestValidateExam(t *testing.T) {
	svc := newTestService(t, newTestStore(t), nil)

	valid := testExam()
	if err := svc.ValidateExam(valid); err != nil {
		t.Fatalf("valid exam rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(e *model.Exam)
	}{
		{"no title", func(e *model.Exam) { e.Title = "" }},
		{"no sections", func(e *model.Exam) { e.Sections = nil }},
		{"duplicate id", func(e *model.Exam) { e.Sections[0].Questions[1].ID = "r1" }},
		{"missing key", func(e *model.Exam) { e.Sections[0].Questions[0].Accepted = nil }},
		{"bad type", func(e *model.Exam) { e.Sections[0].Questions[0].Type = "matching" }},
		{"essay in reading", func(e *model.Exam) { e.Sections[0].Questions[0].Type = model.QuestionEssay }},
		{"blank count mismatch", func(e *model.Exam) {
			e.Sections[0].Questions[1].Prompt = "_____ and _____ and _____"
		}},
		{"mcq with two keys", func(e *model.Exam) { e.Sections[0].Questions[0].Accepted = model.Accepted{"A", "B"} }},
		{"true-false with two keys", func(e *model.Exam) {
			e.Sections[0].Questions[0].Type = model.QuestionTrueFalse
			e.Sections[0].Questions[0].Accepted = model.Accepted{"true", "false"}
		}},
		{"two reading sections", func(e *model.Exam) {
			e.Sections = append(e.Sections, model.ExamSection{ID: "reading-2", Type: model.SectionReading,
				Questions: []model.Question{{ID: "r9", Type: model.QuestionMCQ, Prompt: "?", Accepted: model.Accepted{"A"}}}})
		}},
		{"two writing sections", func(e *model.Exam) {
			e.Sections = append(e.Sections, model.ExamSection{ID: "writing-2", Type: model.SectionWriting,
				Questions: []model.Question{{ID: "w9", Type: model.QuestionEssay, Prompt: "Discuss."}}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testExam()
			tt.mutate(&e)
			if err := svc.ValidateExam(e); !errors.Is(err, ErrInvalidExam) {
				t.Errorf("expected ErrInvalidExam, got %v", err)
			}
		})
	}
}
