package settlement

import "time"

// Resolution is the time granularity of a time series or price schedule (ISO 8601 duration).
type Resolution string

const (
	ResolutionQuarterHour Resolution = "PT15M"
	ResolutionHour        Resolution = "PT1H"
	ResolutionDay         Resolution = "P1D"
	ResolutionMonth       Resolution = "P1M"
)

// IsValid reports whether r is one of the supported resolutions.
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionQuarterHour, ResolutionHour, ResolutionDay, ResolutionMonth:
		return true
	}
	return false
}

// Nominal returns a comparable length; months count as 30 days.
func (r Resolution) Nominal() time.Duration {
	switch r {
	case ResolutionQuarterHour:
		return 15 * time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDay:
		return 24 * time.Hour
	case ResolutionMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Next returns the interval boundary after t. Months step by calendar month.
func (r Resolution) Next(t time.Time) time.Time {
	switch r {
	case ResolutionMonth:
		return t.AddDate(0, 1, 0)
	case ResolutionDay:
		return t.AddDate(0, 0, 1)
	default:
		return t.Add(r.Nominal())
	}
}

// FinerThan reports whether r is strictly finer than other. Unknown resolutions are never finer.
func (r Resolution) FinerThan(other Resolution) bool {
	if !r.IsValid() || !other.IsValid() {
		return false
	}
	return r.Nominal() < other.Nominal()
}

func (r Resolution) String() string { return string(r) }
