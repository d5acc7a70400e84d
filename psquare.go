package reactor

import (
	"math"
	"slices"
)

// p2Quantile estimates a single quantile of a stream in constant space,
// using the P-Square algorithm of Jain and Chlamtac (CACM 28(10), 1985).
//
// NOT thread safe.
type p2Quantile struct {
	p      float64
	height [5]float64 // marker heights
	pos    [5]float64 // actual marker positions, 1-based
	want   [5]float64 // desired marker positions
	step   [5]float64 // desired position increments
	seen   int
}

func newP2Quantile(p float64) *p2Quantile {
	p = min(max(p, 0), 1)
	return &p2Quantile{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (e *p2Quantile) add(x float64) {
	if e.seen < len(e.height) {
		e.height[e.seen] = x
		e.seen++
		if e.seen == len(e.height) {
			slices.Sort(e.height[:])
			e.pos = [5]float64{1, 2, 3, 4, 5}
			e.want = [5]float64{1, 1 + 2*e.p, 1 + 4*e.p, 3 + 2*e.p, 5}
		}
		return
	}
	e.seen++

	var k int
	switch {
	case x < e.height[0]:
		e.height[0] = x
	case x >= e.height[4]:
		e.height[4] = x
		k = 3
	default:
		for k < 3 && x >= e.height[k+1] {
			k++
		}
	}

	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := range e.want {
		e.want[i] += e.step[i]
	}

	for i := 1; i <= 3; i++ {
		d := e.want[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			s := math.Copysign(1, d)
			h := e.parabolic(i, s)
			if e.height[i-1] >= h || h >= e.height[i+1] {
				h = e.linear(i, s)
			}
			e.height[i] = h
			e.pos[i] += s
		}
	}
}

func (e *p2Quantile) parabolic(i int, s float64) float64 {
	q, n := &e.height, &e.pos
	return q[i] + s/(n[i+1]-n[i-1])*
		((n[i]-n[i-1]+s)*(q[i+1]-q[i])/(n[i+1]-n[i])+
			(n[i+1]-n[i]-s)*(q[i]-q[i-1])/(n[i]-n[i-1]))
}

func (e *p2Quantile) linear(i int, s float64) float64 {
	j := i + int(s)
	return e.height[i] + s*(e.height[j]-e.height[i])/(e.pos[j]-e.pos[i])
}

// value returns the current estimate. Below five observations it is exact.
func (e *p2Quantile) value() float64 {
	switch {
	case e.seen == 0:
		return 0
	case e.seen < len(e.height):
		sorted := slices.Clone(e.height[:e.seen])
		slices.Sort(sorted)
		return sorted[int(float64(e.seen-1)*e.p)]
	default:
		return e.height[2]
	}
}

// latencySummary tracks count, sum, max and a fixed set of quantiles.
//
// NOT thread safe.
type latencySummary struct {
	quantiles []*p2Quantile
	count     uint64
	sum       float64
	max       float64
}

func newLatencySummary(ps ...float64) *latencySummary {
	s := &latencySummary{quantiles: make([]*p2Quantile, len(ps))}
	for i, p := range ps {
		s.quantiles[i] = newP2Quantile(p)
	}
	return s
}

func (s *latencySummary) add(x float64) {
	if s.count == 0 || x > s.max {
		s.max = x
	}
	s.count++
	s.sum += x
	for _, q := range s.quantiles {
		q.add(x)
	}
}

func (s *latencySummary) quantile(i int) float64 {
	if i < 0 || i >= len(s.quantiles) {
		return 0
	}
	return s.quantiles[i].value()
}

func (s *latencySummary) mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}
