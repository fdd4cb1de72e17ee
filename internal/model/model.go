package model

import (
	"context"
	"sort"
	"time"
)

// QuestionType is the kind of a question and selects how it is graded.
type QuestionType string

const (
	QuestionMCQ       QuestionType = "mcq"
	QuestionFillBlank QuestionType = "fill-blank"
	QuestionTrueFalse QuestionType = "true-false"
	QuestionEssay     QuestionType = "essay"
)

// IsObjective reports whether the question has a machine-checkable answer.
func (t QuestionType) IsObjective() bool {
	return t == QuestionMCQ || t == QuestionFillBlank || t == QuestionTrueFalse
}

// SectionType is the kind of an exam section.
type SectionType string

const (
	SectionReading   SectionType = "reading"
	SectionListening SectionType = "listening"
	SectionWriting   SectionType = "writing"
)

// IsObjective reports whether the section is scored from answer keys.
func (t SectionType) IsObjective() bool {
	return t == SectionReading || t == SectionListening
}

// AttemptStatus represents the lifecycle state of an exam attempt.
type AttemptStatus string

const (
	StatusCreated    AttemptStatus = "created"
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusGraded     AttemptStatus = "graded"
)

// AssessedBy records which source produced a writing assessment.
type AssessedBy string

const (
	AssessedByAI      AssessedBy = "ai"
	AssessedByTeacher AssessedBy = "teacher"
	AssessedByPending AssessedBy = "pending"
)

// Question is an immutable question definition.
type Question struct {
	ID       string       `json:"id" yaml:"id" validate:"required"`
	Type     QuestionType `json:"type" yaml:"type" validate:"required,oneof=mcq fill-blank true-false essay"`
	Prompt   string       `json:"question" yaml:"question" validate:"required"`
	Options  []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Accepted Accepted     `json:"correct_answer,omitempty" yaml:"correct_answer,omitempty"`
	Points   int          `json:"points" yaml:"points" validate:"gte=0"`
	Passage  string       `json:"passage,omitempty" yaml:"passage,omitempty"`
	AudioURL string       `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	ImageURL string       `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// ExamSection is an ordered group of questions of one kind.
type ExamSection struct {
	ID           string      `json:"id" yaml:"id" validate:"required"`
	Name         string      `json:"name" yaml:"name"`
	Type         SectionType `json:"type" yaml:"type" validate:"required,oneof=reading listening writing"`
	Questions    []Question  `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
	TimeLimit    int         `json:"time_limit" yaml:"time_limit" validate:"gte=0"`
	Instructions string      `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Exam is an ordered set of sections. It is never edited in place once an
// attempt references it; a changed exam is stored under a new ID.
type Exam struct {
	ID        string        `json:"id" yaml:"id"`
	Title     string        `json:"title" yaml:"title" validate:"required"`
	Sections  []ExamSection `json:"sections" yaml:"sections" validate:"required,min=1,dive"`
	Active    bool          `json:"active" yaml:"active"`
	CreatedAt time.Time     `json:"created_at" yaml:"-"`
}

// Question returns the question with the given ID and the section holding it.
func (e Exam) Question(id string) (Question, ExamSection, bool) {
	for _, s := range e.Sections {
		for _, q := range s.Questions {
			if q.ID == id {
				return q, s, true
			}
		}
	}
	return Question{}, ExamSection{}, false
}

// WritingSection returns the first writing section, if any.
func (e Exam) WritingSection() (ExamSection, bool) {
	for _, s := range e.Sections {
		if s.Type == SectionWriting {
			return s, true
		}
	}
	return ExamSection{}, false
}

// StudentView returns a copy of the exam with accepted answers removed.
func (e Exam) StudentView() Exam {
	out := e
	out.Sections = make([]ExamSection, len(e.Sections))
	for i, s := range e.Sections {
		qs := make([]Question, len(s.Questions))
		for j, q := range s.Questions {
			q.Accepted = nil
			qs[j] = q
		}
		s.Questions = qs
		out.Sections[i] = s
	}
	return out
}

// CriteriaScores holds the four writing sub-criterion bands.
type CriteriaScores struct {
	TaskAchievement   float64 `json:"task_achievement"`
	CoherenceCohesion float64 `json:"coherence_cohesion"`
	LexicalResource   float64 `json:"lexical_resource"`
	GrammaticalRange  float64 `json:"grammatical_range"`
}

// WritingAssessment is the assessment of one writing task.
type WritingAssessment struct {
	BandScore    float64         `json:"band_score"`
	Criteria     *CriteriaScores `json:"criteria,omitempty"`
	Feedback     string          `json:"feedback"`
	Strengths    []string        `json:"strengths"`
	Improvements []string        `json:"improvements"`
	WordCount    int             `json:"word_count"`
	AssessedBy   AssessedBy      `json:"assessed_by"`
	AssessedAt   time.Time       `json:"assessed_at"`
	GradedBy     string          `json:"graded_by,omitempty"`
}

// IsPending reports whether the task still awaits a usable band.
func (w WritingAssessment) IsPending() bool {
	return w.AssessedBy == AssessedByPending
}

// AssessmentRecord is one entry of a question's append-only assessment history.
type AssessmentRecord struct {
	Seq        int64             `json:"seq"`
	AttemptID  string            `json:"attempt_id"`
	QuestionID string            `json:"question_id"`
	Source     AssessedBy        `json:"source"`
	Payload    WritingAssessment `json:"payload"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Attempt is a student's attempt at an exam.
type Attempt struct {
	ID              string          `json:"id"`
	ExamID          string          `json:"exam_id"`
	StudentID       string          `json:"student_id"`
	Answers         Answers         `json:"answers"`
	SectionScores   SectionScores   `json:"scores"`
	WritingFeedback WritingFeedback `json:"writing_feedback"`
	OverallBand     float64         `json:"overall_band"`
	Status          AttemptStatus   `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	GradedAt        *time.Time      `json:"graded_at,omitempty"`
	Version         int64           `json:"version"`
}

// Scoreable reports whether the overall band is a valid final score.
func (a Attempt) Scoreable() bool {
	return len(a.SectionScores) > 0 && a.OverallBand > 0
}

// PendingReview lists question IDs whose writing assessment awaits manual review.
func (a Attempt) PendingReview() []string {
	var out []string
	for id, w := range a.WritingFeedback {
		if w.IsPending() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AttemptUpdate names the subset of attempt fields to write. Nil fields are
// left untouched. Answers and SectionScores replace the stored maps;
// WritingFeedback entries replace the active record of their question only.
type AttemptUpdate struct {
	Answers         Answers
	SectionScores   SectionScores
	WritingFeedback WritingFeedback
	OverallBand     *float64
	Status          *AttemptStatus
	CompletedAt     *time.Time
	GradedAt        *time.Time
}

// Empty reports whether the update writes nothing.
func (u AttemptUpdate) Empty() bool {
	return u.Answers == nil && u.SectionScores == nil && u.WritingFeedback == nil &&
		u.OverallBand == nil && u.Status == nil && u.CompletedAt == nil && u.GradedAt == nil
}

// AttemptFilter narrows attempt listings. Empty fields do not filter.
type AttemptFilter struct {
	ExamID    string
	StudentID string
	Status    AttemptStatus
	Limit     int
}

// Stats is a platform-wide summary for dashboards.
type Stats struct {
	Students       int     `json:"total_students"`
	Exams          int     `json:"total_exams"`
	Attempts       int     `json:"total_attempts"`
	Completed      int     `json:"completed_attempts"`
	Graded         int     `json:"graded_attempts"`
	AverageOverall float64 `json:"average_overall_band"`
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	Task1MinWords    int    // minimum words for the first writing task
	Task2MinWords    int    // minimum words for later writing tasks
	MultiBlankCredit string // all-or-nothing or per-blank
	Lang             string // UI language (en, ru)
}

type teacherCtxKey struct{}

// ContextWithTeacher stores the authenticated teacher identifier in context.
func ContextWithTeacher(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, teacherCtxKey{}, id)
}

// TeacherFromContext returns the teacher identifier, or "" when absent.
func TeacherFromContext(ctx context.Context) string {
	id, _ := ctx.Value(teacherCtxKey{}).(string)
	return id
}
