package hysteresis

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"constant", []float32{0.5, 0.5}, 0.5},
		{"square wave", []float32{0.25, -0.25, 0.25, -0.25}, 0.25},
		{"full scale", []float32{1, -1}, 1},
		{"mixed", []float32{0.6, 0.8}, math.Sqrt(0.5)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RMS(tc.samples); math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSmoother(t *testing.T) {
	s := NewSmoother(0.2)
	for i, want := range []float64{0.2, 0.36, 0.488} {
		if got := s.Update(1); math.Abs(got-want) > 1e-9 {
			t.Errorf("update %d = %v, want %v", i, got, want)
		}
	}
	if got := s.Update(0); math.Abs(got-0.3904) > 1e-9 {
		t.Errorf("decay = %v, want 0.3904", got)
	}
	s.Reset()
	if s.Value() != 0 {
		t.Errorf("Value() after Reset = %v, want 0", s.Value())
	}

	for _, alpha := range []float64{0, -1, 2} {
		if got := NewSmoother(alpha).Update(0.7); got != 0.7 {
			t.Errorf("NewSmoother(%v).Update(0.7) = %v, want 0.7 (no smoothing)", alpha, got)
		}
	}
}
