package sampler

import (
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
)

// ring is a fixed-capacity FIFO of samples. It is not safe for concurrent
// use; the Collector guards it with its buffer lock.
type ring struct {
	buf   []metrics.Sample
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ring{buf: make([]metrics.Sample, capacity)}
}

func (r *ring) capacity() int {
	return len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) push(samples ...metrics.Sample) {
	for _, sample := range samples {
		if r.size < len(r.buf) {
			r.buf[(r.start+r.size)%len(r.buf)] = sample
			r.size++
			continue
		}
		r.buf[r.start] = sample
		r.start = (r.start + 1) % len(r.buf)
	}
}

// resize changes the capacity, keeping the newest samples that still fit.
func (r *ring) resize(capacity int) {
	if capacity <= 0 || capacity == len(r.buf) {
		return
	}
	current := r.slice()
	if len(current) > capacity {
		current = current[len(current)-capacity:]
	}
	r.buf = make([]metrics.Sample, capacity)
	copy(r.buf, current)
	r.start = 0
	r.size = len(current)
}

// slice returns a copy of the contents, oldest first.
func (r *ring) slice() []metrics.Sample {
	out := make([]metrics.Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) between(start, end time.Time) []metrics.Sample {
	var out []metrics.Sample
	for i := 0; i < r.size; i++ {
		sample := r.buf[(r.start+i)%len(r.buf)]
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		out = append(out, sample)
	}
	return out
}
