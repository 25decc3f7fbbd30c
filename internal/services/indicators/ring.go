package indicators

import "math"

// Ring is a fixed-capacity window of float64 values. Pushing into a full ring
// overwrites the oldest value in place.
type Ring struct {
	buf   []float64
	start int
	n     int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *Ring) Len() int   { return r.n }
func (r *Ring) Cap() int   { return len(r.buf) }
func (r *Ring) Full() bool { return r.n == len(r.buf) }

// At returns the i-th value, 0 being the oldest. Negative i counts back from
// the newest, so At(-1) is the latest value.
func (r *Ring) At(i int) float64 {
	if i < 0 {
		i += r.n
	}
	if i < 0 || i >= r.n {
		return math.NaN()
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *Ring) Last() float64 { return r.At(-1) }

func (r *Ring) Sum() float64 {
	s := 0.0
	for i := 0; i < r.n; i++ {
		s += r.buf[(r.start+i)%len(r.buf)]
	}
	return s
}

func (r *Ring) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.Sum() / float64(r.n)
}

// StdDev is the population standard deviation of the window.
func (r *Ring) StdDev() float64 {
	if r.n == 0 {
		return 0
	}
	m := r.Mean()
	v := 0.0
	for i := 0; i < r.n; i++ {
		d := r.buf[(r.start+i)%len(r.buf)] - m
		v += d * d
	}
	return math.Sqrt(v / float64(r.n))
}

// MinIndex returns the position (oldest = 0) of the smallest value.
func (r *Ring) MinIndex() int {
	idx := -1
	best := math.Inf(1)
	for i := 0; i < r.n; i++ {
		if v := r.At(i); v < best {
			best, idx = v, i
		}
	}
	return idx
}

// MaxIndex returns the position (oldest = 0) of the largest value.
func (r *Ring) MaxIndex() int {
	idx := -1
	best := math.Inf(-1)
	for i := 0; i < r.n; i++ {
		if v := r.At(i); v > best {
			best, idx = v, i
		}
	}
	return idx
}
