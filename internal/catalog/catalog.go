// Package catalog imports exam definitions from JSON or YAML files.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/bandexam/internal/model"
)

// ErrEmpty is returned for a file that defines no exams.
var ErrEmpty = errors.New("catalog defines no exams")

// Importer stores validated exams. *grading.Service implements it.
type Importer interface {
	ValidateExam(e model.Exam) error
	CreateExam(ctx context.Context, e model.Exam) (model.Exam, error)
}

// HashStore remembers which file contents were already imported.
// *store.Store implements it.
type HashStore interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// fileExam is an exam as written in a catalog file. Exams are active unless
// the file says otherwise.
type fileExam struct {
	Title    string              `json:"title" yaml:"title"`
	Active   *bool               `json:"active" yaml:"active"`
	Sections []model.ExamSection `json:"sections" yaml:"sections"`
}

type fileList struct {
	Exams []fileExam `json:"exams" yaml:"exams"`
}

// Parse decodes a catalog file. The format follows the extension: .yaml and
// .yml are YAML, anything else is JSON. A file holds either one exam or an
// "exams" list.
func Parse(name string, data []byte) ([]model.Exam, error) {
	var (
		list   fileList
		single fileExam
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(list.Exams) == 0 {
			if err := yaml.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
	default:
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(list.Exams) == 0 {
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
	}

	if len(list.Exams) == 0 && single.Title != "" {
		list.Exams = []fileExam{single}
	}
	if len(list.Exams) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}

	exams := make([]model.Exam, len(list.Exams))
	for i, fe := range list.Exams {
		exams[i] = model.Exam{
			Title:    fe.Title,
			Sections: fe.Sections,
			Active:   fe.Active == nil || *fe.Active,
		}
	}
	return exams, nil
}

var (
	// ErrUnchanged is returned by Import for content already imported under
	// the same name.
	ErrUnchanged = errors.New("catalog already imported")
	// ErrChanged is returned by Import when a catalog with the same name was
	// imported with different content. Exams referenced by attempts are never
	// edited in place, so the new content is refused.
	ErrChanged = errors.New("catalog changed since last import")
)

// Load imports each file once. Unchanged and changed files are skipped.
func Load(ctx context.Context, imp Importer, hashes HashStore, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := Import(ctx, imp, hashes, path, data)
		switch {
		case errors.Is(err, ErrUnchanged):
			slog.Info("exam catalog unchanged, skipping", "path", path)
		case errors.Is(err, ErrChanged):
			slog.Warn("exam catalog changed since last import, skipping to keep existing attempts stable",
				"path", path)
		case err != nil:
			return err
		default:
			slog.Info("imported exam catalog", "path", path, "count", n)
		}
	}
	return nil
}

// Import stores the exams of one catalog under name and returns how many were
// created. Every exam is validated before any of them is stored.
func Import(ctx context.Context, imp Importer, hashes HashStore, name string, data []byte) (int, error) {
	hash := sha256sum(data)
	storedHash, err := hashes.GetImportedFileHash(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		return 0, fmt.Errorf("%s: %w", name, ErrUnchanged)
	}
	if storedHash != "" {
		return 0, fmt.Errorf("%s: %w", name, ErrChanged)
	}

	exams, err := Parse(name, data)
	if err != nil {
		return 0, err
	}
	for i, e := range exams {
		if err := imp.ValidateExam(e); err != nil {
			return 0, fmt.Errorf("%s: exam %d (%q): %w", name, i+1, e.Title, err)
		}
	}
	for _, e := range exams {
		created, err := imp.CreateExam(ctx, e)
		if err != nil {
			return 0, fmt.Errorf("import exam %q from %s: %w", e.Title, name, err)
		}
		slog.Debug("exam imported", "exam_id", created.ID, "title", created.Title)
	}

	if err := hashes.SetImportedFileHash(ctx, name, hash); err != nil {
		return 0, fmt.Errorf("record import for %s: %w", name, err)
	}
	return len(exams), nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
