package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	settlement "supply-billing/internal/settlement/domain"
)

// SettlementCalculated is emitted when a settlement or correction has been persisted.
type SettlementCalculated struct {
	SettlementID         settlement.SettlementID
	MeteringPointID      string
	SupplyID             string
	DocumentNumber       string
	Period               settlement.Period
	TotalAmount          settlement.Money
	TotalEnergy          settlement.EnergyQuantity
	IsCorrection         bool
	PreviousSettlementID settlement.SettlementID
	OccurredAt           time.Time
}

// SettlementPublisher emits settlement calculated events.
type SettlementPublisher interface {
	PublishSettlementCalculated(ctx context.Context, event SettlementCalculated) error
}

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker serializes work on one key across processes. Lock fails with
// settlement.ErrLockHeld when another holder owns the key.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// SpotPriceRecord is one wholesale spot price as published, in currency per MWh.
// PricePerMWh is nil when the source has no price for the hour.
type SpotPriceRecord struct {
	Start       time.Time
	Area        string
	PricePerMWh *decimal.Decimal
}

// SpotPriceSource fetches published spot prices for [from, to).
type SpotPriceSource interface {
	FetchSpotPrices(ctx context.Context, area string, from, to time.Time) ([]SpotPriceRecord, error)
}

// Clock returns the current time.
type Clock = settlement.Clock

const defaultLockTTL = 30 * time.Second

func timeSeriesLockKey(meteringPointID string, period settlement.Period) string {
	return "timeseries:" + meteringPointID + ":" + period.Key()
}

func correctionLockKey(previousID settlement.SettlementID) string {
	return "correction:" + string(previousID)
}
