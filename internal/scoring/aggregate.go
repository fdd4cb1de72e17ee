package scoring

import "github.com/pavelanni/bandexam/internal/model"

// OverallBand returns the mean of the section bands rounded to the nearest
// 0.5, or 0 when nothing has been scored yet.
func OverallBand(scores model.SectionScores) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return RoundHalf(sum / float64(len(scores)))
}

// WritingBand averages the current band of every assessed writing task.
// Pending tasks have no band and are skipped; ok is false when no task has one.
func WritingBand(feedback model.WritingFeedback) (band float64, ok bool) {
	var sum float64
	n := 0
	for _, w := range feedback {
		if w.IsPending() {
			continue
		}
		sum += w.BandScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return RoundHalf(sum / float64(n)), true
}

// WithWriting returns a copy of scores carrying the band derived from
// feedback. The writing entry is removed when no task has a band.
func WithWriting(scores model.SectionScores, feedback model.WritingFeedback) model.SectionScores {
	out := scores.Clone()
	if band, ok := WritingBand(feedback); ok {
		out[model.SectionWriting] = band
	} else {
		delete(out, model.SectionWriting)
	}
	return out
}
