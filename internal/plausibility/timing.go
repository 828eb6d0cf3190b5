package plausibility

import (
	"math"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// RegularTiming reports whether the gaps between inputs are too uniform for a human.
// Simultaneous events are ignored; fewer than minEvents events never qualify.
func RegularTiming(inputs []domain.InputEvent, minEvents int, maxStddev time.Duration) bool {
	if minEvents < 2 || len(inputs) < minEvents {
		return false
	}

	gaps := make([]float64, 0, len(inputs)-1)
	for i := 1; i < len(inputs); i++ {
		if d := inputs[i].T - inputs[i-1].T; d > 0 {
			gaps = append(gaps, float64(d))
		}
	}
	if len(gaps) < minEvents-1 {
		return false
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))

	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	stddev := math.Sqrt(variance / float64(len(gaps)))

	return stddev < float64(maxStddev)/float64(time.Millisecond)
}
