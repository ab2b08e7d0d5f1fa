package settlement

import "time"

// Period is a half-open interval [start, end). A zero end means open-ended.
type Period struct {
	start time.Time
	end   time.Time
}

// NewPeriod builds a closed period. end must be strictly after start.
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, ErrZeroTimestamp
	}
	if !end.After(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{start: start.UTC(), end: end.UTC()}, nil
}

// NewOpenPeriod builds a period without an end.
func NewOpenPeriod(start time.Time) (Period, error) {
	if start.IsZero() {
		return Period{}, ErrZeroTimestamp
	}
	return Period{start: start.UTC()}, nil
}

// MustPeriod is NewPeriod for literals known to be valid.
func MustPeriod(start, end time.Time) Period {
	p, err := NewPeriod(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// Start returns the inclusive start.
func (p Period) Start() time.Time { return p.start }

// End returns the exclusive end and whether one is set.
func (p Period) End() (time.Time, bool) { return p.end, !p.end.IsZero() }

// IsOpenEnded reports whether the period has no end.
func (p Period) IsOpenEnded() bool { return p.end.IsZero() }

// IsZero reports whether the period was never initialised.
func (p Period) IsZero() bool { return p.start.IsZero() }

// Contains reports whether t falls in [start, end).
func (p Period) Contains(t time.Time) bool {
	if t.Before(p.start) {
		return false
	}
	return p.IsOpenEnded() || t.Before(p.end)
}

// Overlaps reports whether the two periods share at least one instant.
func (p Period) Overlaps(other Period) bool {
	if !p.IsOpenEnded() && !other.start.Before(p.end) {
		return false
	}
	if !other.IsOpenEnded() && !p.start.Before(other.end) {
		return false
	}
	return true
}

// Duration returns end - start, or zero for open-ended periods.
func (p Period) Duration() time.Duration {
	if p.IsOpenEnded() {
		return 0
	}
	return p.end.Sub(p.start)
}

// WholeDays returns the number of complete 24h days spanned by a closed period.
func (p Period) WholeDays() int {
	return int(p.Duration() / (24 * time.Hour))
}

// Equal compares two periods by instant.
func (p Period) Equal(other Period) bool {
	return p.start.Equal(other.start) && p.end.Equal(other.end)
}

// Key is a stable text form used for identities and lock names.
func (p Period) Key() string {
	if p.IsOpenEnded() {
		return p.start.Format(time.RFC3339) + "/"
	}
	return p.start.Format(time.RFC3339) + "/" + p.end.Format(time.RFC3339)
}

// String implements fmt.Stringer.
func (p Period) String() string {
	return "[" + p.Key() + ")"
}
