package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/bandexam/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "BandExam" {
		t.Errorf("T(AppTitle) = %q, want 'BandExam'", got)
	}
	if got := T(ctx, "OverallBand"); got != "Overall band" {
		t.Errorf("T(OverallBand) = %q, want 'Overall band'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "OverallBand"); got != "Общий балл" {
		t.Errorf("T(OverallBand) = %q, want 'Общий балл'", got)
	}
	if got := Status(ctx, model.StatusGraded); got != "Оценена" {
		t.Errorf("Status(graded) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "Words", 1); got != "1 word" {
		t.Errorf("Tp(Words, 1) = %q, want '1 word'", got)
	}
	if got := Tp(ctx, "TasksPendingReview", 2); got != "2 writing tasks await manual review." {
		t.Errorf("Tp(TasksPendingReview, 2) = %q", got)
	}

	ctx = initLang(t, "ru")
	if got := Tp(ctx, "Words", 5); got != "5 слов" {
		t.Errorf("Tp(Words, 5) = %q, want '5 слов'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "WritingTaskN", map[string]any{"N": 2})
	if got != "Writing task 2" {
		t.Errorf("Td(WritingTaskN, N=2) = %q, want 'Writing task 2'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	if err := Init("ru"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := T(context.Background(), "OverallBand"); got != "Общий балл" {
		t.Errorf("T(OverallBand) = %q, want the default language", got)
	}
}

func TestInitBadLanguage(t *testing.T) {
	if err := Init("not a tag!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}

func TestBandDescriptor(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		band   float64
		prefix string
	}{
		{9.0, "Expert user"},
		{7.5, "Good user"},
		{6.0, "Competent user"},
		{2.0, "Intermittent user"},
		{1.5, "Invalid band score"},
		{6.3, "Invalid band score"},
	}
	for _, tt := range tests {
		got := BandDescriptor(ctx, tt.band)
		if len(got) < len(tt.prefix) || got[:len(tt.prefix)] != tt.prefix {
			t.Errorf("BandDescriptor(%v) = %q, want prefix %q", tt.band, got, tt.prefix)
		}
	}
}

func TestPerformanceLevel(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		band float64
		want string
	}{
		{9.0, "Excellent"},
		{8.5, "Excellent"},
		{8.0, "Very good"},
		{7.0, "Good"},
		{6.0, "Competent"},
		{5.0, "Modest"},
		{4.0, "Limited"},
		{3.0, "Extremely limited"},
	}
	for _, tt := range tests {
		if got := PerformanceLevel(ctx, tt.band); got != tt.want {
			t.Errorf("PerformanceLevel(%v) = %q, want %q", tt.band, got, tt.want)
		}
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "SectionWriting")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Письмо" {
		t.Errorf("Accept-Language ru: got %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "Writing" {
		t.Errorf("default: got %q", got)
	}
}
