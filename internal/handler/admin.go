package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/bandexam/internal/catalog"
	"github.com/pavelanni/bandexam/internal/model"
)

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if !decodeJSON(w, r, &exam) {
		return
	}
	created, err := h.svc.CreateExam(r.Context(), exam)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("exam created", "exam_id", created.ID, "title", created.Title,
		"teacher", model.TeacherFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleSetExamActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		http.Error(w, "active is required", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "examID")
	if err := h.svc.SetExamActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, err)
		return
	}
	exam, err := h.svc.GetExam(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

// handleUploadCatalog imports a JSON or YAML catalog sent as the
// catalog_file form field. Re-uploading identical content is a no-op.
func (h *Handler) handleUploadCatalog(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("catalog_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	n, err := catalog.Import(r.Context(), h.svc, h.store, header.Filename, data)
	if errors.Is(err, catalog.ErrUnchanged) {
		writeJSON(w, http.StatusOK, map[string]any{"imported": 0, "duplicate": true})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("uploaded exam catalog", "filename", header.Filename, "count", n)
	writeJSON(w, http.StatusCreated, map[string]any{"imported": n, "duplicate": false})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "examID")
	if _, err := h.svc.GetExam(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	export, err := h.store.ExportAttempts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
