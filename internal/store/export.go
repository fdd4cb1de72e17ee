package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/bandexam/internal/model"
)

// ExportAttempts builds export-ready results for every attempt, optionally
// limited to one exam. Attempts are numbered per student in start order.
func (s *Store) ExportAttempts(ctx context.Context, examID string) (model.AttemptExport, error) {
	attempts, err := s.ListAttempts(ctx, model.AttemptFilter{ExamID: examID})
	if err != nil {
		return model.AttemptExport{}, fmt.Errorf("list attempts: %w", err)
	}

	exams := make(map[string]model.Exam)
	attemptCount := make(map[string]int)
	results := make([]model.AttemptResult, 0, len(attempts))

	// ListAttempts is newest first.
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		attemptCount[a.StudentID]++

		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = s.GetExam(ctx, a.ExamID)
			if err != nil {
				return model.AttemptExport{}, fmt.Errorf("get exam %s: %w", a.ExamID, err)
			}
			exams[a.ExamID] = exam
		}

		var writing []model.WritingResult
		if ws, ok := exam.WritingSection(); ok {
			for _, q := range ws.Questions {
				w, assessed := a.WritingFeedback[q.ID]
				if !assessed {
					continue
				}
				writing = append(writing, model.WritingResult{
					QuestionID: q.ID,
					Prompt:     q.Prompt,
					Response:   a.Answers[q.ID].Text,
					Assessment: w,
				})
			}
		}

		results = append(results, model.AttemptResult{
			AttemptID:     a.ID,
			ExamID:        a.ExamID,
			ExamTitle:     exam.Title,
			StudentID:     a.StudentID,
			AttemptNumber: attemptCount[a.StudentID],
			Status:        a.Status,
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
			SectionScores: a.SectionScores,
			OverallBand:   a.OverallBand,
			Scoreable:     a.Scoreable(),
			PendingReview: a.PendingReview(),
			Writing:       writing,
		})
	}

	return model.AttemptExport{
		GeneratedAt: time.Now().UTC(),
		ExamID:      examID,
		NumAttempts: len(results),
		Results:     results,
	}, nil
}
