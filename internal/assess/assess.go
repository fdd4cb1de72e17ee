// Package assess coordinates automatic assessment of writing tasks. Tasks are
// sent one at a time to an Assessor with a delay between calls, and every
// task ends with a record: a parsed assessment or a pending placeholder.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelanni/bandexam/internal/model"
)

// ErrNotConfigured is returned by assessors that have no provider behind them.
var ErrNotConfigured = errors.New("automatic assessment is not configured")

// TaskKind distinguishes the short report task from the essay task.
type TaskKind string

const (
	Task1 TaskKind = "task1"
	Task2 TaskKind = "task2"
)

// Default minimum word counts by task kind.
const (
	DefaultTask1MinWords = 150
	DefaultTask2MinWords = 250
)

// Request is what an Assessor receives for one task.
type Request struct {
	Kind      TaskKind
	Prompt    string
	Text      string
	ImageURL  string
	WordCount int
	MinWords  int
}

// Assessor produces a raw assessment for one writing task. The returned text
// should contain a JSON object; anything around it is ignored.
type Assessor interface {
	Assess(ctx context.Context, req Request) (string, error)
}

// Task is one writing question to assess. An empty Kind is derived from the
// task's position in the batch.
type Task struct {
	QuestionID string
	Kind       TaskKind
	Prompt     string
	ImageURL   string
}

// TasksFromSection lists the tasks of a writing section in order. The first
// question is Task 1, the rest are Task 2.
func TasksFromSection(s model.ExamSection) []Task {
	tasks := make([]Task, 0, len(s.Questions))
	for i, q := range s.Questions {
		tasks = append(tasks, Task{QuestionID: q.ID, Kind: kindAt(i), Prompt: q.Prompt, ImageURL: q.ImageURL})
	}
	return tasks
}

func kindAt(index int) TaskKind {
	if index == 0 {
		return Task1
	}
	return Task2
}

// Options configures a Coordinator.
type Options struct {
	Delay         time.Duration // pause between provider calls
	Task1MinWords int
	Task2MinWords int
	Now           func() time.Time
}

// Coordinator runs a batch of writing tasks through an Assessor.
type Coordinator struct {
	assessor Assessor
	limiter  *rate.Limiter
	opts     Options
}

// NewCoordinator creates a coordinator. A nil assessor makes every task pending.
func NewCoordinator(a Assessor, opts Options) *Coordinator {
	if opts.Task1MinWords <= 0 {
		opts.Task1MinWords = DefaultTask1MinWords
	}
	if opts.Task2MinWords <= 0 {
		opts.Task2MinWords = DefaultTask2MinWords
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Coordinator{
		assessor: a,
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
	}
}

// Assess assesses every task and returns one record per question ID. It
// never fails: tasks that could not be assessed are pending.
func (c *Coordinator) Assess(ctx context.Context, tasks []Task, answers model.Answers) model.WritingFeedback {
	out := make(model.WritingFeedback, len(tasks))
	for _, t := range tasks {
		out[t.QuestionID] = c.pending(answers[t.QuestionID].Joined(), "Assessment was not run.")
	}
	_ = c.AssessEach(ctx, tasks, answers, func(id string, w model.WritingAssessment) error {
		out[id] = w
		return nil
	})
	return out
}

// AssessEach assesses tasks in order and hands each record to fn as soon as
// it is ready. It stops early when ctx is cancelled or fn returns an error;
// records already handed over are not revisited.
func (c *Coordinator) AssessEach(ctx context.Context, tasks []Task, answers model.Answers, fn func(questionID string, w model.WritingAssessment) error) error {
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("assess %s: %w", t.QuestionID, err)
		}
		w := c.assessOne(ctx, i, t, answers[t.QuestionID])
		if err := fn(t.QuestionID, w); err != nil {
			return fmt.Errorf("store assessment %s: %w", t.QuestionID, err)
		}
	}
	return nil
}

func (c *Coordinator) assessOne(ctx context.Context, index int, t Task, answer model.Answer) model.WritingAssessment {
	text := answer.Joined()
	req := Request{
		Kind:      t.Kind,
		Prompt:    t.Prompt,
		Text:      text,
		ImageURL:  t.ImageURL,
		WordCount: WordCount(text),
		MinWords:  c.opts.Task1MinWords,
	}
	if req.Kind == "" {
		req.Kind = kindAt(index)
	}
	if req.Kind == Task2 {
		req.MinWords = c.opts.Task2MinWords
	}

	if c.assessor == nil {
		return c.pending(text, "Assessment failed: "+ErrNotConfigured.Error()+". Please review manually.")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return c.pending(text, "Assessment failed: "+err.Error()+". Please review manually.")
	}

	raw, err := c.assessor.Assess(ctx, req)
	if err != nil {
		slog.Warn("writing assessment failed", "question_id", t.QuestionID, "error", err)
		return c.pending(text, "Assessment failed: "+err.Error()+". Please review manually.")
	}

	w, err := Parse(raw, req.WordCount, c.opts.Now())
	if err != nil {
		slog.Warn("unusable writing assessment", "question_id", t.QuestionID, "error", err)
		return c.pending(text, "Assessment failed: "+err.Error()+". Please review manually.")
	}
	slog.Debug("writing task assessed", "question_id", t.QuestionID, "band", w.BandScore)
	return w
}

func (c *Coordinator) pending(text, reason string) model.WritingAssessment {
	return Pending(reason, WordCount(text), c.opts.Now())
}

// Pending builds the placeholder record for a task awaiting manual review.
func Pending(reason string, wordCount int, now time.Time) model.WritingAssessment {
	return model.WritingAssessment{
		Feedback:     reason,
		Strengths:    []string{},
		Improvements: []string{},
		WordCount:    wordCount,
		AssessedBy:   model.AssessedByPending,
		AssessedAt:   now,
	}
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
