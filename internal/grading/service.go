// Package grading runs the attempt pipeline: starting attempts, saving
// answers, submission scoring, automatic writing assessment and teacher
// overrides. It is the only writer of attempt state.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/lifecycle"
	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
	"github.com/pavelanni/bandexam/internal/store"
)

var (
	// ErrUnknownQuestion is returned for question IDs outside the exam, or
	// outside its writing section where a writing task is required.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrInvalidBand is returned for a band that is not 1.0-9.0 in 0.5 steps.
	ErrInvalidBand = errors.New("invalid band score")
	// ErrInvalidExam is returned when an exam definition fails validation.
	ErrInvalidExam = errors.New("invalid exam")
	// ErrExamInactive is returned when starting an attempt at a hidden exam.
	ErrExamInactive = errors.New("exam is not active")
	// ErrNoGrades is returned by an override that carries no grades.
	ErrNoGrades = errors.New("no grades submitted")
)

// pendingFeedback marks writing tasks queued for automatic assessment.
const pendingFeedback = "Awaiting automatic assessment."

// Repository is the persistence the pipeline needs. *store.Store implements it.
type Repository interface {
	CreateExam(ctx context.Context, e model.Exam) (model.Exam, error)
	GetExam(ctx context.Context, id string) (model.Exam, error)
	ListExams(ctx context.Context, activeOnly bool) ([]model.Exam, error)
	SetExamActive(ctx context.Context, id string, active bool) error

	CreateAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error)
	GetAttempt(ctx context.Context, id string) (model.Attempt, error)
	UpdateAttempt(ctx context.Context, id string, version int64, u model.AttemptUpdate) (model.Attempt, error)
	ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error)
	History(ctx context.Context, attemptID, questionID string) ([]model.AssessmentRecord, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// Service implements the attempt pipeline.
type Service struct {
	repo     Repository
	grader   scoring.Grader
	coord    *assess.Coordinator
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a service. coord may be nil, in which case writing
// tasks stay pending until a teacher grades them.
func NewService(repo Repository, grader scoring.Grader, coord *assess.Coordinator) *Service {
	if coord == nil {
		coord = assess.NewCoordinator(nil, assess.Options{})
	}
	return &Service{
		repo:     repo,
		grader:   grader,
		coord:    coord,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start creates an attempt for a student at an active exam.
func (s *Service) Start(ctx context.Context, examID, studentID string) (model.Attempt, error) {
	if studentID == "" {
		return model.Attempt{}, errors.New("student id is required")
	}
	exam, err := s.repo.GetExam(ctx, examID)
	if err != nil {
		return model.Attempt{}, err
	}
	if !exam.Active {
		return model.Attempt{}, fmt.Errorf("exam %s: %w", examID, ErrExamInactive)
	}
	a, err := s.repo.CreateAttempt(ctx, model.Attempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.StatusCreated,
		StartedAt: s.now(),
	})
	if err != nil {
		return model.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	slog.Info("attempt started", "attempt_id", a.ID, "exam_id", examID, "student_id", studentID)
	return a, nil
}

// Get returns an attempt.
func (s *Service) Get(ctx context.Context, id string) (model.Attempt, error) {
	return s.repo.GetAttempt(ctx, id)
}

// List returns attempts matching f.
func (s *Service) List(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error) {
	return s.repo.ListAttempts(ctx, f)
}

// Stats returns platform-wide counts.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	return s.repo.Stats(ctx)
}

// SaveAnswers merges answers into the attempt. version is the attempt version
// the caller last saw; 0 skips the check.
func (s *Service) SaveAnswers(ctx context.Context, id string, version int64, answers model.Answers) (model.Attempt, error) {
	a, exam, err := s.load(ctx, id)
	if err != nil {
		return model.Attempt{}, err
	}
	merged, err := mergeAnswers(exam, a.Answers, answers)
	if err != nil {
		return model.Attempt{}, err
	}
	u, err := lifecycle.Apply(a.Status, lifecycle.ActionSaveAnswers, model.AttemptUpdate{Answers: merged})
	if err != nil {
		return model.Attempt{}, err
	}
	return s.repo.UpdateAttempt(ctx, id, pick(version, a.Version), u)
}

// Submit completes the attempt: final answers are merged, objective
// sections are scored, and writing tasks are assessed one by one. Each
// writing result is stored as soon as it arrives, so a cancelled ctx leaves
// the remaining tasks pending rather than failing the submission.
func (s *Service) Submit(ctx context.Context, id string, version int64, answers model.Answers) (model.Attempt, error) {
	a, exam, err := s.load(ctx, id)
	if err != nil {
		return model.Attempt{}, err
	}
	merged, err := mergeAnswers(exam, a.Answers, answers)
	if err != nil {
		return model.Attempt{}, err
	}

	scores, results := s.grader.ScoreObjectiveSections(exam, merged)
	for _, r := range results {
		slog.Debug("section scored", "attempt_id", id, "section", r.Section,
			"correct", r.Correct, "total", r.Total, "band", r.Band)
	}

	var tasks []assess.Task
	feedback := model.WritingFeedback{}
	if ws, ok := exam.WritingSection(); ok {
		tasks = assess.TasksFromSection(ws)
		for _, t := range tasks {
			feedback[t.QuestionID] = assess.Pending(pendingFeedback, assess.WordCount(merged[t.QuestionID].Joined()), s.now())
		}
	}
	scores = scoring.WithWriting(scores, feedback)
	overall := scoring.OverallBand(scores)
	now := s.now()

	u, err := lifecycle.Apply(a.Status, lifecycle.ActionSubmit, model.AttemptUpdate{
		Answers:         merged,
		SectionScores:   scores,
		WritingFeedback: feedback,
		OverallBand:     &overall,
		CompletedAt:     &now,
	})
	if err != nil {
		return model.Attempt{}, err
	}
	a, err = s.repo.UpdateAttempt(ctx, id, pick(version, a.Version), u)
	if err != nil {
		return model.Attempt{}, err
	}
	slog.Info("attempt submitted", "attempt_id", id, "overall_band", overall, "writing_tasks", len(tasks))

	if len(tasks) == 0 {
		return a, nil
	}
	return s.assessWriting(ctx, id, tasks, merged)
}

// Reassess reruns automatic assessment for writing tasks still pending on a
// completed attempt.
func (s *Service) Reassess(ctx context.Context, id string) (model.Attempt, error) {
	a, exam, err := s.load(ctx, id)
	if err != nil {
		return model.Attempt{}, err
	}
	if _, err := lifecycle.Next(a.Status, lifecycle.ActionReassess); err != nil {
		return model.Attempt{}, err
	}
	ws, ok := exam.WritingSection()
	if !ok {
		return a, nil
	}
	var tasks []assess.Task
	for _, t := range assess.TasksFromSection(ws) {
		if w, ok := a.WritingFeedback[t.QuestionID]; !ok || w.IsPending() {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return a, nil
	}
	slog.Info("reassessing writing", "attempt_id", id, "tasks", len(tasks))
	return s.assessWriting(ctx, id, tasks, a.Answers)
}

func (s *Service) assessWriting(ctx context.Context, id string, tasks []assess.Task, answers model.Answers) (model.Attempt, error) {
	err := s.coord.AssessEach(ctx, tasks, answers, func(qid string, w model.WritingAssessment) error {
		return s.recordAssessment(ctx, id, qid, w)
	})
	if err != nil {
		slog.Warn("writing assessment stopped early", "attempt_id", id, "error", err)
	}
	// The caller's ctx may be done; the attempt itself is already stored.
	return s.repo.GetAttempt(context.WithoutCancel(ctx), id)
}

// recordAssessment stores one automatic result. A concurrent write causes one
// reload and retry; once a teacher has graded the attempt the result is dropped.
func (s *Service) recordAssessment(ctx context.Context, id, qid string, w model.WritingAssessment) error {
	for try := 0; ; try++ {
		a, err := s.repo.GetAttempt(ctx, id)
		if err != nil {
			return err
		}
		if !lifecycle.Allowed(a.Status, lifecycle.ActionReassess) {
			slog.Info("dropping automatic assessment", "attempt_id", id, "question_id", qid, "status", a.Status)
			return nil
		}

		fb := a.WritingFeedback.Clone()
		fb[qid] = w
		scores := scoring.WithWriting(a.SectionScores, fb)
		overall := scoring.OverallBand(scores)
		u, err := lifecycle.Apply(a.Status, lifecycle.ActionReassess, model.AttemptUpdate{
			SectionScores:   scores,
			WritingFeedback: model.WritingFeedback{qid: w},
			OverallBand:     &overall,
		})
		if err != nil {
			return err
		}
		_, err = s.repo.UpdateAttempt(ctx, id, a.Version, u)
		if errors.Is(err, store.ErrStaleVersion) && try == 0 {
			continue
		}
		return err
	}
}

// History returns the assessment history of one writing task.
func (s *Service) History(ctx context.Context, id, questionID string) ([]model.AssessmentRecord, error) {
	_, exam, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isWritingQuestion(exam, questionID) {
		return nil, fmt.Errorf("writing task %s: %w", questionID, ErrUnknownQuestion)
	}
	return s.repo.History(ctx, id, questionID)
}

func (s *Service) load(ctx context.Context, id string) (model.Attempt, model.Exam, error) {
	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return model.Attempt{}, model.Exam{}, err
	}
	exam, err := s.repo.GetExam(ctx, a.ExamID)
	if err != nil {
		return model.Attempt{}, model.Exam{}, fmt.Errorf("exam of attempt %s: %w", id, err)
	}
	return a, exam, nil
}

func mergeAnswers(exam model.Exam, current, incoming model.Answers) (model.Answers, error) {
	merged := current.Clone()
	for qid, ans := range incoming {
		q, _, ok := exam.Question(qid)
		if !ok {
			return nil, fmt.Errorf("answer for %s: %w", qid, ErrUnknownQuestion)
		}
		if !scoring.IsMultiBlank(q) && ans.IsList && len(ans.List) == 1 {
			ans = model.TextAnswer(ans.List[0])
		}
		merged[qid] = ans
	}
	return merged, nil
}

func isWritingQuestion(exam model.Exam, qid string) bool {
	_, section, ok := exam.Question(qid)
	return ok && section.Type == model.SectionWriting
}

func pick(version, current int64) int64 {
	if version > 0 {
		return version
	}
	return current
}
