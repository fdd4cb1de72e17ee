package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/bandexam/internal/assess"
)

//go:embed templates/*.txt
var Templates embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant selects the exam module the prompts are written for.
type PromptVariant string

const (
	// PromptAcademic assesses Academic module tasks (report, essay).
	PromptAcademic PromptVariant = "academic"
	// PromptGeneral assesses General Training module tasks (letter, essay).
	PromptGeneral PromptVariant = "general"
)

var validVariants = map[PromptVariant]bool{
	PromptAcademic: true,
	PromptGeneral:  true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]map[assess.TaskKind]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// Data holds template data for an assessment prompt.
type Data struct {
	TaskPrompt string
	ImageURL   string
	Answer     string
	WordCount  int
	MinWords   int
	Shortfall  int
}

// Load parses the prompt templates from fsys, which must hold
// templates/<task>_<variant>.txt files. Templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]map[assess.TaskKind]*template.Template)
		for v := range validVariants {
			templates[v] = make(map[assess.TaskKind]*template.Template)
			for _, kind := range []assess.TaskKind{assess.Task1, assess.Task2} {
				file := "templates/" + string(kind) + "_" + string(v) + ".txt"
				content, err := fs.ReadFile(fsys, file)
				if err != nil {
					loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
					return
				}
				tmpl, err := template.New(file).Parse(string(content))
				if err != nil {
					loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
					return
				}
				templates[v][kind] = tmpl
			}
		}
	})
	return loadErr
}

// Build renders the assessment prompt for one writing task.
func Build(variant PromptVariant, req assess.Request) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[variant][req.Kind]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant or task: " + string(variant) + "/" + string(req.Kind))
	}

	data := Data{
		TaskPrompt: strings.TrimSpace(req.Prompt),
		ImageURL:   req.ImageURL,
		Answer:     sanitizeAnswer(req.Text),
		WordCount:  req.WordCount,
		MinWords:   req.MinWords,
		Shortfall:  max(0, req.MinWords-req.WordCount),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
