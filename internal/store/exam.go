package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/bandexam/internal/model"
)

// CreateExam stores a new exam. An empty ID is replaced by a fresh UUID.
// Exams are never updated in place; a changed exam is created again.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (model.Exam, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	sections, err := json.Marshal(e.Sections)
	if err != nil {
		return model.Exam{}, fmt.Errorf("encode sections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (id, title, sections_json, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Title, string(sections), e.Active, toMillis(e.CreatedAt),
	)
	if err != nil {
		return model.Exam{}, fmt.Errorf("insert exam: %w", err)
	}
	return e, nil
}

// GetExam returns an exam with its answer keys.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, sections_json, active, created_at FROM exams WHERE id = $1`, id)
	e, err := scanExam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListExams returns exams, newest first. activeOnly hides deactivated exams.
func (s *Store) ListExams(ctx context.Context, activeOnly bool) ([]model.Exam, error) {
	query := `SELECT id, title, sections_json, active, created_at FROM exams`
	var args []any
	if activeOnly {
		query += ` WHERE active = $1`
		args = append(args, true)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// SetExamActive shows or hides an exam from students.
func (s *Store) SetExamActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExamCount returns the number of stored exams.
func (s *Store) ExamCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&n)
	return n, err
}

func scanExam(sc scanner) (model.Exam, error) {
	var (
		e        model.Exam
		sections string
		created  int64
	)
	if err := sc.Scan(&e.ID, &e.Title, &sections, &e.Active, &created); err != nil {
		return model.Exam{}, err
	}
	if err := json.Unmarshal([]byte(sections), &e.Sections); err != nil {
		return model.Exam{}, fmt.Errorf("decode exam %s sections: %w", e.ID, err)
	}
	e.CreatedAt = fromMillis(created)
	return e, nil
}
