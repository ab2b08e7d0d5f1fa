package settlement

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a price value that holds from Timestamp until the next point.
type PricePoint struct {
	Timestamp time.Time
	Value     decimal.Decimal
}

// PricePoints is an ordered step function. Timestamps are unique; a later write
// for the same timestamp replaces the earlier one.
type PricePoints struct {
	points []PricePoint
}

// NewPricePoints sorts and de-duplicates the given points.
func NewPricePoints(points ...PricePoint) PricePoints {
	var p PricePoints
	p.upsert(points)
	return p
}

// Len returns the number of points.
func (p PricePoints) Len() int { return len(p.points) }

// All returns a copy of the points in timestamp order.
func (p PricePoints) All() []PricePoint {
	out := make([]PricePoint, len(p.points))
	copy(out, p.points)
	return out
}

// At returns the value of the latest point with timestamp <= t.
// It reports false when t precedes the first point.
func (p PricePoints) At(t time.Time) (decimal.Decimal, bool) {
	idx := sort.Search(len(p.points), func(i int) bool {
		return p.points[i].Timestamp.After(t)
	})
	if idx == 0 {
		return decimal.Zero, false
	}
	return p.points[idx-1].Value, true
}

// Mean averages every point whose timestamp falls in [start, end).
func (p PricePoints) Mean(start, end time.Time) (decimal.Decimal, bool) {
	lo, hi := p.window(start, end)
	if lo >= hi {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, pt := range p.points[lo:hi] {
		sum = sum.Add(pt.Value)
	}
	return sum.Div(decimal.NewFromInt(int64(hi - lo))), true
}

// Timestamps returns the point timestamps in [start, end).
func (p PricePoints) Timestamps(start, end time.Time) []time.Time {
	lo, hi := p.window(start, end)
	out := make([]time.Time, 0, hi-lo)
	for _, pt := range p.points[lo:hi] {
		out = append(out, pt.Timestamp)
	}
	return out
}

// Replace drops every point in [start, end) and inserts points.
// Points outside the range are left untouched. It returns the number inserted.
func (p *PricePoints) Replace(start, end time.Time, points []PricePoint) (int, error) {
	if start.IsZero() || end.IsZero() {
		return 0, ErrZeroTimestamp
	}
	if !end.After(start) {
		return 0, ErrInvalidPeriod
	}
	for _, pt := range points {
		if pt.Timestamp.IsZero() {
			return 0, ErrZeroTimestamp
		}
	}

	lo, hi := p.window(start, end)
	kept := make([]PricePoint, 0, len(p.points)-(hi-lo)+len(points))
	kept = append(kept, p.points[:lo]...)
	kept = append(kept, p.points[hi:]...)
	p.points = kept
	return p.upsert(points), nil
}

func (p PricePoints) window(start, end time.Time) (int, int) {
	lo := sort.Search(len(p.points), func(i int) bool {
		return !p.points[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(p.points), func(i int) bool {
		return !p.points[i].Timestamp.Before(end)
	})
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// upsert merges points into the sequence and returns how many distinct timestamps were written.
func (p *PricePoints) upsert(points []PricePoint) int {
	if len(points) == 0 {
		return 0
	}
	incoming := make(map[int64]PricePoint, len(points))
	for _, pt := range points {
		pt.Timestamp = pt.Timestamp.UTC()
		incoming[pt.Timestamp.UnixNano()] = pt
	}

	merged := make([]PricePoint, 0, len(p.points)+len(incoming))
	for _, pt := range p.points {
		if _, replaced := incoming[pt.Timestamp.UnixNano()]; replaced {
			continue
		}
		merged = append(merged, pt)
	}
	for _, pt := range incoming {
		merged = append(merged, pt)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	p.points = merged
	return len(incoming)
}

// effectiveUnitPrice resolves the price for one observation window [start, end).
// When the price schedule is finer than the observation, the points inside the
// window are averaged; otherwise, or when the window holds no point, the step
// value at start applies.
func effectiveUnitPrice(points PricePoints, priceRes, obsRes Resolution, start, end time.Time) (decimal.Decimal, bool) {
	if priceRes.FinerThan(obsRes) {
		if mean, ok := points.Mean(start, end); ok {
			return mean, true
		}
	}
	return points.At(start)
}
