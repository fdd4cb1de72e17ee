package assess

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
)

// DefaultFeedback is used when the assessor omits feedback text.
const DefaultFeedback = "Assessment completed."

var errNoJSON = errors.New("no JSON object in response")

// Parse extracts an assessment from raw assessor output. Code fences and
// prose around the JSON object are ignored. Bands are clamped to [1, 9] and
// rounded to 0.5; missing or non-numeric bands become 5.0.
func Parse(raw string, wordCount int, now time.Time) (model.WritingAssessment, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return model.WritingAssessment{}, err
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return model.WritingAssessment{}, fmt.Errorf("parse assessment: %w", err)
	}

	feedback, _ := lookup(m, "feedback").(string)
	if strings.TrimSpace(feedback) == "" {
		feedback = DefaultFeedback
	}

	return model.WritingAssessment{
		BandScore: band(lookup(m, "bandScore", "band_score")),
		Criteria: &model.CriteriaScores{
			TaskAchievement:   band(lookup(m, "taskAchievement", "task_achievement", "taskResponse")),
			CoherenceCohesion: band(lookup(m, "coherenceCohesion", "coherence_cohesion")),
			LexicalResource:   band(lookup(m, "lexicalResource", "lexical_resource")),
			GrammaticalRange:  band(lookup(m, "grammaticalRange", "grammatical_range")),
		},
		Feedback:     feedback,
		Strengths:    stringList(lookup(m, "strengths")),
		Improvements: stringList(lookup(m, "improvements")),
		WordCount:    wordCount,
		AssessedBy:   model.AssessedByAI,
		AssessedAt:   now,
	}, nil
}

// StripCodeFences removes a surrounding markdown code fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractObject(raw string) (string, error) {
	s := StripCodeFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}

func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func band(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return scoring.DefaultBand
		}
		f = parsed
	default:
		return scoring.DefaultBand
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return scoring.DefaultBand
	}
	return scoring.ClampBand(f)
}

func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
