package interfaces

import (
	"context"
	"errors"
	"time"

	"supply-billing/internal/eventing"
	"supply-billing/internal/settlement/application"
)

// SettlementCalculatedType is the outbox event type of calculated settlements.
const SettlementCalculatedType = "settlement.calculated"

// SettlementCalculatedPayload is the outbox payload of a calculated settlement.
type SettlementCalculatedPayload struct {
	SettlementID         string     `json:"settlement_id"`
	MeteringPointID      string     `json:"metering_point_id"`
	SupplyID             string     `json:"supply_id"`
	DocumentNumber       string     `json:"document_number"`
	PeriodStart          time.Time  `json:"period_start"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	TotalAmount          string     `json:"total_amount"`
	Currency             string     `json:"currency"`
	TotalEnergyKWh       string     `json:"total_energy_kwh"`
	IsCorrection         bool       `json:"is_correction"`
	PreviousSettlementID string     `json:"previous_settlement_id,omitempty"`
	OccurredAt           time.Time  `json:"occurred_at"`
}

// OutboxPublisher writes settlement calculated events to the event outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// PublishSettlementCalculated writes event to the outbox.
func (p *OutboxPublisher) PublishSettlementCalculated(ctx context.Context, event application.SettlementCalculated) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	payload, err := NewSettlementCalculatedPayload(event)
	if err != nil {
		return err
	}
	ctx = eventing.WithCorrelationID(ctx, payload.SettlementID)
	return p.publisher.Publish(ctx, SettlementCalculatedType, payload)
}

// NewSettlementCalculatedPayload converts an event into its outbox payload.
func NewSettlementCalculatedPayload(event application.SettlementCalculated) (SettlementCalculatedPayload, error) {
	if event.SettlementID == "" {
		return SettlementCalculatedPayload{}, errors.New("settlement outbox: empty settlement id")
	}
	payload := SettlementCalculatedPayload{
		SettlementID:         string(event.SettlementID),
		MeteringPointID:      event.MeteringPointID,
		SupplyID:             event.SupplyID,
		DocumentNumber:       event.DocumentNumber,
		PeriodStart:          event.Period.Start(),
		TotalAmount:          event.TotalAmount.Amount.StringFixed(2),
		Currency:             event.TotalAmount.Currency,
		TotalEnergyKWh:       event.TotalEnergy.String(),
		IsCorrection:         event.IsCorrection,
		PreviousSettlementID: string(event.PreviousSettlementID),
		OccurredAt:           event.OccurredAt.UTC(),
	}
	if end, ok := event.Period.End(); ok {
		payload.PeriodEnd = &end
	}
	return payload, nil
}
