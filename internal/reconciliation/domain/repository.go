package reconciliation

import (
	"context"

	settlement "supply-billing/internal/settlement/domain"
)

// Repository persists reconciliation results.
type Repository interface {
	Save(ctx context.Context, result *Result) error
	Get(ctx context.Context, id string) (*Result, error)
	UpdateNote(ctx context.Context, id, note string) error
}

// WholesaleSettlementSource returns the externally reported settlement for a
// grid area and period, or (nil, nil) when none has arrived yet.
type WholesaleSettlementSource interface {
	FindWholesaleSettlement(ctx context.Context, gridArea string, period settlement.Period) (*WholesaleSettlement, error)
}

// OurChargeTotalsReader aggregates our settled amounts per charge.
type OurChargeTotalsReader interface {
	ChargeTotals(ctx context.Context, gridArea string, period settlement.Period) ([]ChargeAmount, error)
}
