package audio

import "sync"

// SampleRing keeps the most recent mono samples of a capture stream so the
// level meter can look at a fixed analysis window on every tick and the
// recorder can prepend a little pre-roll when speech starts.
//
// SampleRing is safe for concurrent use.
type SampleRing struct {
	mu    sync.Mutex
	buf   []float32
	next  int
	count int
}

// NewSampleRing returns a ring holding up to size samples. size must be
// positive.
func NewSampleRing(size int) *SampleRing {
	if size <= 0 {
		size = 1
	}
	return &SampleRing{buf: make([]float32, size)}
}

// Write appends samples, overwriting the oldest ones when full.
func (r *SampleRing) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.next = 0
		r.count = len(r.buf)
		return
	}
	for _, s := range samples {
		r.buf[r.next] = s
		r.next = (r.next + 1) % len(r.buf)
	}
	r.count = min(r.count+len(samples), len(r.buf))
}

// Recent returns a copy of the last n samples in capture order. Fewer are
// returned when the ring holds less than n.
func (r *SampleRing) Recent(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n = min(max(n, 0), r.count)
	out := make([]float32, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := range n {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered samples.
func (r *SampleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset discards all samples.
func (r *SampleRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.count = 0
}
