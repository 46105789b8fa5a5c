package round

import "testing"

func TestHistory_MostRecentFirst(t *testing.T) {
	h := NewHistory(20)
	h.Push(1.50)
	h.Push(2.30)
	h.Push(1.01)
	v := h.Values()
	if len(v) != 3 {
		t.Fatalf("got %d values, want 3", len(v))
	}
	if v[0] != 1.01 || v[1] != 2.30 || v[2] != 1.50 {
		t.Fatalf("wrong order: %v", v)
	}
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(20)
	for i := 0; i < 50; i++ {
		h.Push(float64(i))
	}
	v := h.Values()
	if len(v) != 20 {
		t.Fatalf("got %d values, want cap of 20", len(v))
	}
	if v[0] != 49 {
		t.Fatalf("most recent is %v, want 49", v[0])
	}
}

func TestHistory_ValuesIsCopy(t *testing.T) {
	h := NewHistory(20)
	h.Push(2.0)
	v := h.Values()
	v[0] = 99
	if h.Values()[0] != 2.0 {
		t.Fatal("Values returned a mutable reference to internal state")
	}
}
