package i18n

import (
	"context"
	"fmt"

	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
)

// BandDescriptor describes what a band means for the candidate.
func BandDescriptor(ctx context.Context, band float64) string {
	if !scoring.ValidBand(band) || band < 2 {
		return T(ctx, "BandInvalid")
	}
	return T(ctx, fmt.Sprintf("Band%02d", int(band*10)))
}

// PerformanceLevel returns a short label for a band.
func PerformanceLevel(ctx context.Context, band float64) string {
	switch {
	case band >= 8.5:
		return T(ctx, "LevelExcellent")
	case band >= 7.5:
		return T(ctx, "LevelVeryGood")
	case band >= 6.5:
		return T(ctx, "LevelGood")
	case band >= 5.5:
		return T(ctx, "LevelCompetent")
	case band >= 4.5:
		return T(ctx, "LevelModest")
	case band >= 3.5:
		return T(ctx, "LevelLimited")
	default:
		return T(ctx, "LevelExtremelyLimited")
	}
}

// Status returns the display name of an attempt status.
func Status(ctx context.Context, s model.AttemptStatus) string {
	switch s {
	case model.StatusCreated:
		return T(ctx, "StatusCreated")
	case model.StatusInProgress:
		return T(ctx, "StatusInProgress")
	case model.StatusCompleted:
		return T(ctx, "StatusCompleted")
	case model.StatusGraded:
		return T(ctx, "StatusGraded")
	}
	return string(s)
}

// Section returns the display name of a section type.
func Section(ctx context.Context, t model.SectionType) string {
	switch t {
	case model.SectionReading:
		return T(ctx, "SectionReading")
	case model.SectionListening:
		return T(ctx, "SectionListening")
	case model.SectionWriting:
		return T(ctx, "SectionWriting")
	}
	return string(t)
}

// AssessedBy returns the display name of an assessment source.
func AssessedBy(ctx context.Context, a model.AssessedBy) string {
	switch a {
	case model.AssessedByAI:
		return T(ctx, "AssessedByAI")
	case model.AssessedByTeacher:
		return T(ctx, "AssessedByTeacher")
	case model.AssessedByPending:
		return T(ctx, "AssessedByPending")
	}
	return string(a)
}
