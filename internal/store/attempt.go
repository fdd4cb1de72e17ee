package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/bandexam/internal/model"
)

const selectAttempt = `SELECT id, exam_id, student_id, status, answers_json, scores_json, feedback_json,
	overall_band, started_at, completed_at, graded_at, version FROM attempts`

// CreateAttempt stores a new attempt at version 1. An empty ID is replaced
// by a fresh UUID.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.StatusCreated
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	a.Version = 1
	cols, err := encodeAttempt(a)
	if err != nil {
		return model.Attempt{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, status, answers_json, scores_json, feedback_json,
			overall_band, started_at, completed_at, graded_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.ExamID, a.StudentID, string(a.Status), cols.answers, cols.scores, cols.feedback,
		a.OverallBand, toMillis(a.StartedAt), nullMillis(a.CompletedAt), nullMillis(a.GradedAt), a.Version,
	)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, selectAttempt+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

// UpdateAttempt writes the fields set in u if the stored attempt is still at
// version. Every writing record in u becomes the active record of its
// question and is appended to the assessment history in the same
// transaction. It returns the attempt at its new version.
func (s *Store) UpdateAttempt(ctx context.Context, id string, version int64, u model.AttemptUpdate) (model.Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanAttempt(tx.QueryRowContext(ctx, selectAttempt+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Attempt{}, err
	}
	if cur.Version != version {
		return model.Attempt{}, fmt.Errorf("attempt %s at version %d, not %d: %w", id, cur.Version, version, ErrStaleVersion)
	}

	next := applyUpdate(cur, u)
	cols, err := encodeAttempt(next)
	if err != nil {
		return model.Attempt{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE attempts SET status = $1, answers_json = $2, scores_json = $3, feedback_json = $4,
			overall_band = $5, completed_at = $6, graded_at = $7, version = $8
		 WHERE id = $9 AND version = $10`,
		string(next.Status), cols.answers, cols.scores, cols.feedback, next.OverallBand,
		nullMillis(next.CompletedAt), nullMillis(next.GradedAt), next.Version, id, version,
	)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("update attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Attempt{}, err
	} else if n == 0 {
		return model.Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrStaleVersion)
	}

	ids := make([]string, 0, len(u.WritingFeedback))
	for qid := range u.WritingFeedback {
		ids = append(ids, qid)
	}
	sort.Strings(ids)
	now := time.Now().UTC()
	for _, qid := range ids {
		w := u.WritingFeedback[qid]
		payload, err := json.Marshal(w)
		if err != nil {
			return model.Attempt{}, fmt.Errorf("encode assessment: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assessment_history (attempt_id, question_id, source, payload_json, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, qid, string(w.AssessedBy), string(payload), toMillis(now),
		)
		if err != nil {
			return model.Attempt{}, fmt.Errorf("append history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Attempt{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func applyUpdate(a model.Attempt, u model.AttemptUpdate) model.Attempt {
	if u.Answers != nil {
		a.Answers = u.Answers.Clone()
	}
	if u.SectionScores != nil {
		a.SectionScores = u.SectionScores.Clone()
	}
	if u.WritingFeedback != nil {
		fb := a.WritingFeedback.Clone()
		for qid, w := range u.WritingFeedback {
			fb[qid] = w
		}
		a.WritingFeedback = fb
	}
	if u.OverallBand != nil {
		a.OverallBand = *u.OverallBand
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.CompletedAt != nil {
		t := u.CompletedAt.UTC()
		a.CompletedAt = &t
	}
	if u.GradedAt != nil {
		t := u.GradedAt.UTC()
		a.GradedAt = &t
	}
	a.Version++
	return a
}

// ListAttempts returns attempts matching f, newest first.
func (s *Store) ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error) {
	query := selectAttempt + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.ExamID != "" {
		query += ` AND exam_id = ` + arg(f.ExamID)
	}
	if f.StudentID != "" {
		query += ` AND student_id = ` + arg(f.StudentID)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	query += ` ORDER BY started_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// History returns every assessment ever recorded for a question of an
// attempt, oldest first. The last entry is the active record.
func (s *Store) History(ctx context.Context, attemptID, questionID string) ([]model.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, attempt_id, question_id, source, payload_json, recorded_at
		 FROM assessment_history WHERE attempt_id = $1 AND question_id = $2 ORDER BY seq`,
		attemptID, questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []model.AssessmentRecord
	for rows.Next() {
		var (
			r        model.AssessmentRecord
			payload  string
			recorded int64
		)
		if err := rows.Scan(&r.Seq, &r.AttemptID, &r.QuestionID, &r.Source, &payload, &recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("decode history %d: %w", r.Seq, err)
		}
		r.RecordedAt = fromMillis(recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns platform-wide counts. The average covers scoreable attempts only.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	var err error
	if st.Exams, err = s.ExamCount(ctx); err != nil {
		return st, fmt.Errorf("count exams: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT student_id), COUNT(*) FROM attempts`,
	).Scan(&st.Students, &st.Attempts)
	if err != nil {
		return st, fmt.Errorf("count attempts: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE status = $1`, string(model.StatusCompleted),
	).Scan(&st.Completed)
	if err != nil {
		return st, fmt.Errorf("count completed: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE status = $1`, string(model.StatusGraded),
	).Scan(&st.Graded)
	if err != nil {
		return st, fmt.Errorf("count graded: %w", err)
	}

	var sum float64
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(overall_band), 0), COUNT(*) FROM attempts WHERE overall_band > 0`,
	).Scan(&sum, &n)
	if err != nil {
		return st, fmt.Errorf("average band: %w", err)
	}
	if n > 0 {
		st.AverageOverall = float64(int(sum/float64(n)*10+0.5)) / 10
	}
	return st, nil
}

type attemptColumns struct {
	answers, scores, feedback string
}

func encodeAttempt(a model.Attempt) (attemptColumns, error) {
	var c attemptColumns
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	answers := a.Answers
	if answers == nil {
		answers = model.Answers{}
	}
	scores := a.SectionScores
	if scores == nil {
		scores = model.SectionScores{}
	}
	feedback := a.WritingFeedback
	if feedback == nil {
		feedback = model.WritingFeedback{}
	}
	var err error
	if c.answers, err = enc(answers); err != nil {
		return c, fmt.Errorf("encode answers: %w", err)
	}
	if c.scores, err = enc(scores); err != nil {
		return c, fmt.Errorf("encode scores: %w", err)
	}
	if c.feedback, err = enc(feedback); err != nil {
		return c, fmt.Errorf("encode feedback: %w", err)
	}
	return c, nil
}

func scanAttempt(sc scanner) (model.Attempt, error) {
	var (
		a                         model.Attempt
		answers, scores, feedback string
		started                   int64
		completed, graded         sql.NullInt64
	)
	err := sc.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &answers, &scores, &feedback,
		&a.OverallBand, &started, &completed, &graded, &a.Version)
	if err != nil {
		return model.Attempt{}, err
	}
	a.Answers = model.Answers{}
	a.SectionScores = model.SectionScores{}
	a.WritingFeedback = model.WritingFeedback{}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return model.Attempt{}, fmt.Errorf("decode attempt %s answers: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(scores), &a.SectionScores); err != nil {
		return model.Attempt{}, fmt.Errorf("decode attempt %s scores: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(feedback), &a.WritingFeedback); err != nil {
		return model.Attempt{}, fmt.Errorf("decode attempt %s feedback: %w", a.ID, err)
	}
	a.StartedAt = fromMillis(started)
	a.CompletedAt = timePtr(completed)
	a.GradedAt = timePtr(graded)
	return a, nil
}
