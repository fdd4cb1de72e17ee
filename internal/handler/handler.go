package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/bandexam/internal/catalog"
	"github.com/pavelanni/bandexam/internal/grading"
	"github.com/pavelanni/bandexam/internal/handler/views"
	"github.com/pavelanni/bandexam/internal/lifecycle"
	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc       *grading.Service
	store     *store.Store
	tokenHash []byte
}

// New creates a new Handler. teacherTokenHash is a bcrypt hash of the token
// teacher routes require; empty disables those routes.
func New(svc *grading.Service, s *store.Store, teacherTokenHash string) *Handler {
	return &Handler{svc: svc, store: s, tokenHash: []byte(teacherTokenHash)}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/exams", h.handleListExams)
		r.Get("/exams/{examID}", h.handleGetExam)
		r.Post("/exams/{examID}/attempts", h.handleStartAttempt)
		r.Get("/attempts/{attemptID}", h.handleGetAttempt)
		r.Put("/attempts/{attemptID}/answers", h.handleSaveAnswers)
		r.Post("/attempts/{attemptID}/submit", h.handleSubmit)

		r.Group(func(r chi.Router) {
			r.Use(h.requireTeacher)
			r.Post("/exams", h.handleCreateExam)
			r.Post("/exams/upload", h.handleUploadCatalog)
			r.Post("/exams/{examID}/active", h.handleSetExamActive)
			r.Get("/exams/{examID}/export", h.handleExport)
			r.Get("/attempts", h.handleListAttempts)
			r.Post("/attempts/{attemptID}/grades", h.handleOverride)
			r.Post("/attempts/{attemptID}/reassess", h.handleReassess)
			r.Get("/attempts/{attemptID}/history/{questionID}", h.handleHistory)
			r.Get("/stats", h.handleStats)
		})
	})
	r.Get("/attempts/{attemptID}/report", h.handleReport)
}

// attemptView is the attempt as callers see it.
type attemptView struct {
	model.Attempt
	PendingReview []string `json:"pending_review"`
	Scoreable     bool     `json:"scoreable"`
}

func newAttemptView(a model.Attempt) attemptView {
	pending := a.PendingReview()
	if pending == nil {
		pending = []string{}
	}
	return attemptView{Attempt: a, PendingReview: pending, Scoreable: a.Scoreable()}
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.svc.ListExams(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]model.Exam, len(exams))
	for i, e := range exams {
		out[i] = e.StudentView()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.svc.GetExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam.StudentView())
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"student_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID == "" {
		http.Error(w, "student_id is required", http.StatusBadRequest)
		return
	}
	a, err := h.svc.Start(r.Context(), chi.URLParam(r, "examID"), req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusCreated, a)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusOK, a)
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	version, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var req struct {
		Answers model.Answers `json:"answers"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.SaveAnswers(r.Context(), chi.URLParam(r, "attemptID"), version, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusOK, a)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	version, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var req struct {
		Answers model.Answers `json:"answers"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.Submit(r.Context(), chi.URLParam(r, "attemptID"), version, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusOK, a)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.AttemptFilter{
		ExamID:    q.Get("exam"),
		StudentID: q.Get("student"),
		Status:    model.AttemptStatus(q.Get("status")),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	attempts, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]attemptView, len(attempts))
	for i, a := range attempts {
		out[i] = newAttemptView(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	version, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var req struct {
		Grades map[string]grading.Grade `json:"grades"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.Override(r.Context(), chi.URLParam(r, "attemptID"), version, req.Grades)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusOK, a)
}

func (h *Handler) handleReassess(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Reassess(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttempt(w, http.StatusOK, a)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []model.AssessmentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	exam, err := h.svc.GetExam(r.Context(), a.ExamID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReportPage(a, exam).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func writeAttempt(w http.ResponseWriter, status int, a model.Attempt) {
	w.Header().Set("ETag", etag(a.Version))
	writeJSON(w, status, newAttemptView(a))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func etag(version int64) string {
	return fmt.Sprintf("%q", strconv.FormatInt(version, 10))
}

// ifMatch reads the expected attempt version from If-Match. A missing header
// or "*" yields 0, which skips the version check.
func ifMatch(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "" || v == "*" {
		return 0, true
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		http.Error(w, "invalid If-Match header", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrStaleVersion),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, catalog.ErrChanged):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, grading.ErrUnknownQuestion),
		errors.Is(err, grading.ErrInvalidBand),
		errors.Is(err, grading.ErrInvalidExam),
		errors.Is(err, grading.ErrNoGrades),
		errors.Is(err, grading.ErrExamInactive),
		errors.Is(err, catalog.ErrEmpty):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
