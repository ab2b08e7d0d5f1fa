package settlement

import (
	"time"

	"github.com/google/uuid"
)

// TimeSeriesID identifies one version of a metered time series.
type TimeSeriesID string

// Quality describes how an observation was obtained.
type Quality string

const (
	QualityMeasured     Quality = "Measured"
	QualityEstimated    Quality = "Estimated"
	QualityCalculated   Quality = "Calculated"
	QualityRevised      Quality = "Revised"
	QualityAdjusted     Quality = "Adjusted"
	QualityNotAvailable Quality = "NotAvailable"
)

// IsValid reports whether q is a known quality.
func (q Quality) IsValid() bool {
	switch q {
	case QualityMeasured, QualityEstimated, QualityCalculated, QualityRevised, QualityAdjusted, QualityNotAvailable:
		return true
	}
	return false
}

// Observation is one metered interval.
type Observation struct {
	Timestamp time.Time
	Quantity  EnergyQuantity
	Quality   Quality
}

// TimeSeries is one version of the metered consumption of a metering point over a period.
// Invariants:
// 1) Observations are strictly ascending and inside the period.
// 2) Once superseded the series is sealed: no further observations, no second supersede.
// Note: at most one latest series per (metering point, period) is guarded by the caller.
type TimeSeries struct {
	id              TimeSeriesID
	meteringPointID string
	period          Period
	resolution      Resolution
	version         int
	isLatest        bool
	transactionID   string
	receivedAt      time.Time

	observations []Observation
}

// TimeSeriesHeader carries the identifying fields of a new time series version.
type TimeSeriesHeader struct {
	MeteringPointID string
	Period          Period
	Resolution      Resolution
	Version         int
	TransactionID   string
	ReceivedAt      time.Time
}

// NewTimeSeries creates a latest, empty series version.
func NewTimeSeries(h TimeSeriesHeader) (*TimeSeries, error) {
	if h.MeteringPointID == "" {
		return nil, ErrEmptyMeteringPointID
	}
	if h.Period.IsZero() {
		return nil, ErrZeroTimestamp
	}
	if !h.Resolution.IsValid() {
		return nil, ErrInvalidResolution
	}
	if h.Version <= 0 {
		return nil, ErrInvalidVersion
	}
	receivedAt := h.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return &TimeSeries{
		id:              TimeSeriesID(uuid.NewString()),
		meteringPointID: h.MeteringPointID,
		period:          h.Period,
		resolution:      h.Resolution,
		version:         h.Version,
		isLatest:        true,
		transactionID:   h.TransactionID,
		receivedAt:      receivedAt.UTC(),
	}, nil
}

// TimeSeriesSnapshot is the persisted form of a time series version.
type TimeSeriesSnapshot struct {
	ID              TimeSeriesID
	MeteringPointID string
	Period          Period
	Resolution      Resolution
	Version         int
	IsLatest        bool
	TransactionID   string
	ReceivedAt      time.Time
	Observations    []Observation
}

// RestoreTimeSeries rebuilds a persisted series without re-running construction rules
// that only apply to new versions.
func RestoreTimeSeries(s TimeSeriesSnapshot) *TimeSeries {
	obs := make([]Observation, len(s.Observations))
	copy(obs, s.Observations)
	return &TimeSeries{
		id:              s.ID,
		meteringPointID: s.MeteringPointID,
		period:          s.Period,
		resolution:      s.Resolution,
		version:         s.Version,
		isLatest:        s.IsLatest,
		transactionID:   s.TransactionID,
		receivedAt:      s.ReceivedAt,
		observations:    obs,
	}
}

// Snapshot returns a detached copy of the series.
func (ts *TimeSeries) Snapshot() TimeSeriesSnapshot {
	return TimeSeriesSnapshot{
		ID:              ts.id,
		MeteringPointID: ts.meteringPointID,
		Period:          ts.period,
		Resolution:      ts.resolution,
		Version:         ts.version,
		IsLatest:        ts.isLatest,
		TransactionID:   ts.transactionID,
		ReceivedAt:      ts.receivedAt,
		Observations:    ts.Observations(),
	}
}

// AddObservation appends an observation during construction.
func (ts *TimeSeries) AddObservation(o Observation) error {
	if !ts.isLatest {
		return ErrSealedTimeSeries
	}
	if o.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if !o.Quality.IsValid() {
		return ErrInvalidQuality
	}
	o.Timestamp = o.Timestamp.UTC()
	if !ts.period.Contains(o.Timestamp) {
		return ErrObservationOutside
	}
	if n := len(ts.observations); n > 0 && !o.Timestamp.After(ts.observations[n-1].Timestamp) {
		return ErrObservationOrder
	}
	ts.observations = append(ts.observations, o)
	return nil
}

// Supersede marks the series as no longer the latest version.
func (ts *TimeSeries) Supersede() error {
	if !ts.isLatest {
		return ErrAlreadySuperseded
	}
	ts.isLatest = false
	return nil
}

func (ts *TimeSeries) ID() TimeSeriesID { return ts.id }
func (ts *TimeSeries) MeteringPointID() string { return ts.meteringPointID }
func (ts *TimeSeries) Period() Period { return ts.period }
func (ts *TimeSeries) Resolution() Resolution { return ts.resolution }
func (ts *TimeSeries) Version() int { return ts.version }
func (ts *TimeSeries) IsLatest() bool { return ts.isLatest }
func (ts *TimeSeries) TransactionID() string { return ts.transactionID }
func (ts *TimeSeries) ReceivedAt() time.Time { return ts.receivedAt }

// Observations returns a copy of the observations in timestamp order.
func (ts *TimeSeries) Observations() []Observation {
	out := make([]Observation, len(ts.observations))
	copy(out, ts.observations)
	return out
}

// Len returns the observation count.
func (ts *TimeSeries) Len() int { return len(ts.observations) }

// TotalEnergy sums every observation.
func (ts *TimeSeries) TotalEnergy() EnergyQuantity {
	total := ZeroEnergy()
	for _, o := range ts.observations {
		total = total.Add(o.Quantity)
	}
	return total
}

// SettlementPeriod is the billed interval: the series period, or, when the
// series is open-ended, up to the end of the last observation.
func (ts *TimeSeries) SettlementPeriod() Period {
	if !ts.period.IsOpenEnded() || len(ts.observations) == 0 {
		return ts.period
	}
	last := ts.observations[len(ts.observations)-1].Timestamp
	return Period{start: ts.period.start, end: ts.resolution.Next(last)}
}

// observationEnd is the exclusive end of the interval an observation covers.
func (ts *TimeSeries) observationEnd(o Observation) time.Time {
	return ts.resolution.Next(o.Timestamp)
}
