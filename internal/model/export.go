package model

import "time"

// AttemptExport is the top-level JSON structure for attempt result export.
type AttemptExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	ExamID      string          `json:"exam_id,omitempty"`
	NumAttempts int             `json:"num_attempts"`
	Results     []AttemptResult `json:"results"`
}

// AttemptResult holds one attempt's scoring outcome for export.
type AttemptResult struct {
	AttemptID     string          `json:"attempt_id"`
	ExamID        string          `json:"exam_id"`
	ExamTitle     string          `json:"exam_title"`
	StudentID     string          `json:"student_id"`
	AttemptNumber int             `json:"attempt_number"`
	Status        AttemptStatus   `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	SectionScores SectionScores   `json:"scores"`
	OverallBand   float64         `json:"overall_band"`
	Scoreable     bool            `json:"scoreable"`
	PendingReview []string        `json:"pending_review,omitempty"`
	Writing       []WritingResult `json:"writing,omitempty"`
}

// WritingResult holds per-task writing data for export.
type WritingResult struct {
	QuestionID string            `json:"question_id"`
	Prompt     string            `json:"prompt"`
	Response   string            `json:"response"`
	Assessment WritingAssessment `json:"assessment"`
}
