package round

import (
	"math"
	"time"
)

// MultiplierAt returns the display multiplier after the given running
// time: e^(rate*t), floored to 2 decimals. The curve is deterministic in
// elapsed time, so every observer derives the same value.
func MultiplierAt(elapsed time.Duration, rate float64) float64 {
	if elapsed < 0 {
		return 1.0
	}
	m := math.Exp(rate * elapsed.Seconds())
	return math.Floor(m*100) / 100
}
