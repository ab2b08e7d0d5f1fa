package settlement

import "time"

// Supply is the read-only supply fact handed in by the process layer.
type Supply struct {
	ID              string
	MeteringPointID string
	CustomerID      string
	SupplyPeriod    Period
}

// IsActive reports whether the supply covers at.
func (s Supply) IsActive(at time.Time) bool {
	if s.SupplyPeriod.IsZero() {
		return false
	}
	return s.SupplyPeriod.Contains(at)
}
