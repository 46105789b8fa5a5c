package round

import (
	"crypto/rand"
	"math"
	"math/big"
)

// CrashSource draws the crash point for a new round.
type CrashSource interface {
	Draw() float64
}

// Generator draws crash points from a fixed-house-edge inverse
// distribution: P(crashPoint >= m) = (1 - edge) / m for m >= 1. Draws
// that land below 1.00 clip to an instant crash at 1.00, which is where
// the house edge lives.
type Generator struct {
	edge     float64
	maxCrash float64
}

// NewGenerator returns a generator with the given house edge (e.g. 0.04)
// and an upper clip for the crash point.
func NewGenerator(edge, maxCrash float64) *Generator {
	return &Generator{edge: edge, maxCrash: maxCrash}
}

// draw resolution: 53 bits so the uniform fits a float64 mantissa.
const drawResolution = 1 << 53

// Draw returns a crash point in [1.00, maxCrash] using a CSPRNG draw.
func (g *Generator) Draw() float64 {
	v, err := rand.Int(rand.Reader, big.NewInt(drawResolution))
	if err != nil {
		// CSPRNG failure: fall back to an instant crash, never a guess.
		return 1.0
	}
	u := (float64(v.Int64()) + 1) / float64(drawResolution) // (0, 1]
	m := (1 - g.edge) / u
	if m < 1.0 {
		return 1.0
	}
	if m > g.maxCrash {
		m = g.maxCrash
	}
	return math.Floor(m*100) / 100
}
