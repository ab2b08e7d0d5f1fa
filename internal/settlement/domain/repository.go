package settlement

import "context"

// TimeSeriesRepository persists every version of every time series.
// Find methods return (nil, nil) when nothing matches.
type TimeSeriesRepository interface {
	Get(ctx context.Context, id TimeSeriesID) (*TimeSeries, error)
	FindLatest(ctx context.Context, meteringPointID string, period Period) (*TimeSeries, error)
	FindByTransaction(ctx context.Context, meteringPointID string, period Period, transactionID string) (*TimeSeries, error)
	ListVersions(ctx context.Context, meteringPointID string, period Period) ([]*TimeSeries, error)
	// SaveVersion stores next and, when non-nil, the superseded flag of previous in one transaction.
	SaveVersion(ctx context.Context, next, previous *TimeSeries) error
}

// PriceRepository persists price definitions with their points.
type PriceRepository interface {
	Get(ctx context.Context, id PriceID) (*Price, error)
	Save(ctx context.Context, price *Price) error
	Link(ctx context.Context, meteringPointID string, id PriceID) error
	ListForMeteringPoint(ctx context.Context, meteringPointID string) ([]*Price, error)
}

// RateSeriesRepository persists spot and margin series. Get returns (nil, nil) for an unknown key.
type RateSeriesRepository interface {
	GetSeries(ctx context.Context, key string) (*RateSeries, error)
	SaveSeries(ctx context.Context, series *RateSeries) error
}

// SettlementRepository persists settlements. Get returns ErrNotFound for an unknown id.
type SettlementRepository interface {
	Get(ctx context.Context, id SettlementID) (*Settlement, error)
	Save(ctx context.Context, s *Settlement) error
	// SaveCorrection stores correction and the new state of previous in one transaction.
	SaveCorrection(ctx context.Context, correction, previous *Settlement) error
	FindCorrectionOf(ctx context.Context, previousID SettlementID) (*Settlement, error)
	NextDocumentNumber(ctx context.Context) (string, error)
}
