package hysteresis

import "math"

// RMS returns the root mean square of samples, which are expected in
// [-1, 1]. An empty window has level 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Smoother is an exponential moving average over successive levels:
// ema = alpha*level + (1-alpha)*previous, starting from 0.
type Smoother struct {
	alpha float64
	value float64
}

// NewSmoother returns a smoother with the given weight for new levels.
// alpha is clamped into (0, 1].
func NewSmoother(alpha float64) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	return &Smoother{alpha: alpha}
}

// Update folds level into the average and returns the new value.
func (s *Smoother) Update(level float64) float64 {
	s.value = s.alpha*level + (1-s.alpha)*s.value
	return s.value
}

// Value returns the current average.
func (s *Smoother) Value() float64 { return s.value }

// Reset returns the average to 0.
func (s *Smoother) Reset() { s.value = 0 }
