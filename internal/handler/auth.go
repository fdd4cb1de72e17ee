package handler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/bandexam/internal/model"
)

const (
	teacherHeader  = "X-Teacher-ID"
	defaultTeacher = "teacher"
)

// GenerateToken returns a random URL-safe token for teacher access.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the bcrypt hash to configure as the teacher token hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// requireTeacher checks the bearer token against the configured hash and
// stores the teacher identifier from X-Teacher-ID in the request context.
func (h *Handler) requireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.tokenHash) == 0 {
			http.Error(w, "teacher access is not configured", http.StatusForbidden)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)); err != nil {
			slog.Warn("teacher token rejected", "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		teacher := strings.TrimSpace(r.Header.Get(teacherHeader))
		if teacher == "" {
			teacher = defaultTeacher
		}
		ctx := model.ContextWithTeacher(r.Context(), teacher)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
