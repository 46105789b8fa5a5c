package round

import "testing"

func TestDraw_Bounds(t *testing.T) {
	g := NewGenerator(0.04, 1000.0)
	for i := 0; i < 10_000; i++ {
		m := g.Draw()
		if m < 1.0 {
			t.Fatalf("crash point %v below 1.00", m)
		}
		if m > 1000.0 {
			t.Fatalf("crash point %v above clip", m)
		}
	}
}

func TestDraw_Distribution(t *testing.T) {
	// P(crashPoint >= m) = (1 - edge) / m. With edge 4%:
	// P(>= 2.00) = 0.48, P(>= 10.00) = 0.096.
	g := NewGenerator(0.04, 1000.0)
	const rounds = 100_000
	atLeast2, atLeast10 := 0, 0
	for i := 0; i < rounds; i++ {
		m := g.Draw()
		if m >= 2.0 {
			atLeast2++
		}
		if m >= 10.0 {
			atLeast10++
		}
	}
	if p := float64(atLeast2) / rounds; p < 0.46 || p > 0.50 {
		t.Errorf("P(>=2.00) = %.4f, want ~0.48", p)
	}
	if p := float64(atLeast10) / rounds; p < 0.08 || p > 0.11 {
		t.Errorf("P(>=10.00) = %.4f, want ~0.096", p)
	}
}

func TestDraw_TwoDecimals(t *testing.T) {
	g := NewGenerator(0.04, 1000.0)
	for i := 0; i < 1000; i++ {
		m := g.Draw()
		cents := m * 100
		if cents != float64(int64(cents)) {
			t.Fatalf("crash point %v not floored to 2 decimals", m)
		}
	}
}
