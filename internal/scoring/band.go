package scoring

import "math"

const (
	// MinBand and MaxBand bound every stored band.
	MinBand = 1.0
	MaxBand = 9.0
	// DefaultBand stands in for a band the assessor failed to provide.
	DefaultBand = 5.0
)

// bandThresholds maps the lowest percentage of each band, highest first.
var bandThresholds = []struct {
	min  int
	band float64
}{
	{97, 9.0},
	{94, 8.5},
	{89, 8.0},
	{83, 7.5},
	{75, 7.0},
	{67, 6.5},
	{58, 6.0},
	{50, 5.5},
	{42, 5.0},
	{33, 4.5},
	{25, 4.0},
	{17, 3.5},
	{8, 3.0},
	{3, 2.5},
}

// PercentageToBand converts a correctness percentage (0-100) to a band.
// A percentage on a threshold belongs to the higher band.
func PercentageToBand(percentage int) float64 {
	p := max(0, min(100, percentage))
	for _, t := range bandThresholds {
		if p >= t.min {
			return t.band
		}
	}
	return 2.0
}

// RoundHalf rounds to the nearest 0.5, halves away from zero.
func RoundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

// ClampBand forces v into [MinBand, MaxBand] and rounds it to 0.5.
func ClampBand(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultBand
	}
	return RoundHalf(math.Max(MinBand, math.Min(MaxBand, v)))
}

// ValidBand reports whether v is one of 1.0, 1.5, ..., 9.0.
func ValidBand(v float64) bool {
	return v >= MinBand && v <= MaxBand && RoundHalf(v) == v
}
