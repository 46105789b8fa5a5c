package round

// History is a bounded list of past crash points, most recent first.
// It is display-only state. Not safe for concurrent use; the Clock
// serializes access under its own lock.
type History struct {
	max    int
	values []float64
}

// NewHistory returns a history capped at max entries.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Push prepends a crash point, dropping the oldest entry past the cap.
func (h *History) Push(v float64) {
	h.values = append([]float64{v}, h.values...)
	if len(h.values) > h.max {
		h.values = h.values[:h.max]
	}
}

// Values returns a copy of the history, most recent first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}
