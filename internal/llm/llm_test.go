package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/llm/prompts"
)

type fakeAPI struct {
	reply      string
	status     int
	lastPrompt string
	sawImage   bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, f.status)
			return
		}
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err == nil && len(req.Messages) > 1 {
			f.lastPrompt = req.Messages[1].Content
		}
		f.sawImage = strings.Contains(string(body), "image_url")
		if f.lastPrompt == "" {
			f.lastPrompt = string(body)
		}

		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.reply},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	if err := prompts.Load(prompts.Templates); err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1", "test-key", "test-model", prompts.PromptAcademic)
}

func TestAssess(t *testing.T) {
	f := &fakeAPI{reply: `{"bandScore": 6.5, "feedback": "Solid."}`}
	c := newTestClient(t, f)

	raw, err := c.Assess(context.Background(), assess.Request{
		Kind:      assess.Task2,
		Prompt:    "Some people believe cities are too crowded.",
		Text:      "I partly agree with this view.",
		WordCount: 6,
		MinWords:  250,
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if raw != f.reply {
		t.Errorf("raw = %q, want %q", raw, f.reply)
	}
	if !strings.Contains(f.lastPrompt, "I partly agree with this view.") {
		t.Errorf("prompt did not carry the answer: %q", f.lastPrompt)
	}
	if f.sawImage {
		t.Error("no image part expected")
	}
}

func TestAssessWithImage(t *testing.T) {
	f := &fakeAPI{reply: `{"bandScore": 7}`}
	c := newTestClient(t, f)

	_, err := c.Assess(context.Background(), assess.Request{
		Kind:     assess.Task1,
		Prompt:   "Describe the graph.",
		ImageURL: "https://example.com/graph.png",
		MinWords: 150,
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !f.sawImage {
		t.Error("image part should be sent")
	}
}

func TestAssessAPIError(t *testing.T) {
	f := &fakeAPI{status: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	if _, err := c.Assess(context.Background(), assess.Request{Kind: assess.Task1, Prompt: "Q"}); err == nil {
		t.Fatal("expected error from failing endpoint")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCoordinatorWithClient(t *testing.T) {
	f := &fakeAPI{reply: "```json\n{\"bandScore\": 8.2, \"strengths\": [\"range\"]}\n```"}
	c := newTestClient(t, f)

	coord := assess.NewCoordinator(c, assess.Options{})
	got := coord.Assess(context.Background(), []assess.Task{{QuestionID: "w1", Prompt: "Q"}}, nil)
	if got["w1"].BandScore != 8.0 || got["w1"].IsPending() {
		t.Errorf("w1 = %+v", got["w1"])
	}
}
