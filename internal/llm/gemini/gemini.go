// Package gemini assesses writing tasks with Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/llm/prompts"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

type Engine struct {
	APIKey  string
	Model   string
	Variant prompts.PromptVariant
}

func New(apiKey, model string, variant prompts.PromptVariant) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey:  strings.TrimSpace(apiKey),
		Model:   model,
		Variant: variant,
	}
}

// Assess sends one writing task to Gemini and returns the raw JSON reply.
func (e *Engine) Assess(ctx context.Context, req assess.Request) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("gemini: api key is empty: %w", assess.ErrNotConfigured)
	}
	prompt, err := prompts.Build(e.Variant, req)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.3),
		MaxOutputTokens:  ptrInt32(2048),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text("You are an IELTS writing examiner. Reply with JSON only.")},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return "", errors.New("gemini: empty response")
	}
	slog.Debug("gemini response", "kind", req.Kind, "raw", txt)
	return assess.StripCodeFences(txt), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

func ptrInt32(v int32) *int32 { return &v }
