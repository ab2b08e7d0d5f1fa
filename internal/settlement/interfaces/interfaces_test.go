package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"supply-billing/internal/eventing"
	"supply-billing/internal/settlement/application"
	settlement "supply-billing/internal/settlement/domain"
)

var (
	jan = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func sampleSettlement(correction bool) *settlement.Settlement {
	tariff := settlement.PriceID("price-1")
	snap := settlement.SettlementSnapshot{
		ID:                "settlement-2",
		MeteringPointID:   "571313180000000001",
		SupplyID:          "supply-1",
		TimeSeriesID:      "ts-1",
		TimeSeriesVersion: 2,
		Period:            settlement.MustPeriod(jan, feb),
		Lines: []settlement.SettlementLine{
			{
				Description: "Spot price",
				Quantity:    settlement.NewEnergy(decimal.RequireFromString("744")),
				UnitPrice:   decimal.RequireFromString("0.6"),
				Amount:      decimal.RequireFromString("446.40"),
				Source:      settlement.SourceSpotPrice,
			},
			{
				Description: "Nettarif C",
				PriceID:     &tariff,
				Quantity:    settlement.NewEnergy(decimal.RequireFromString("744")),
				UnitPrice:   decimal.RequireFromString("0.25"),
				Amount:      decimal.RequireFromString("186.00"),
				Source:      settlement.SourceDataHubCharge,
			},
		},
		TotalEnergy:    settlement.NewEnergy(decimal.RequireFromString("744")),
		TotalAmount:    settlement.NewMoney(decimal.RequireFromString("632.40"), "DKK"),
		Status:         settlement.StatusCalculated,
		DocumentNumber: "S00000002",
		CalculatedAt:   feb,
	}
	if correction {
		prev := settlement.SettlementID("settlement-1")
		snap.IsCorrection = true
		snap.PreviousSettlementID = &prev
	}
	return settlement.RestoreSettlement(snap)
}

func TestBuildSettlementPDF(t *testing.T) {
	out, err := BuildSettlementPDF(sampleSettlement(false))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = BuildSettlementPDF(nil)
	require.ErrorIs(t, err, settlement.ErrNilSettlement)
}

func TestBuildSettlementXLSX(t *testing.T) {
	out, err := BuildSettlementXLSX(sampleSettlement(true))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Settlement Correction S00000002", title)

	rows, err := f.GetRows("lines")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Spot price", rows[1][0])
	assert.Equal(t, "price-1", rows[2][2])
	assert.Equal(t, "Total", rows[3][0])
}

func TestDocumentTitleAndSummary(t *testing.T) {
	original := sampleSettlement(false)
	assert.Equal(t, "Settlement S00000002", documentTitle(original))

	rows := summaryRows(sampleSettlement(true))
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, row[0])
	}
	assert.Contains(t, labels, "Corrects")
	assert.Equal(t, [2]string{"Period", "2026-01-01 - 2026-02-01"}, rows[1])
	assert.Equal(t, "632.40", rows[len(rows)-1][1])
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishSettlementCalculated(context.Context, application.SettlementCalculated) error {
	p.calls++
	return errors.New("down")
}

func calculatedEvent() application.SettlementCalculated {
	return application.SettlementCalculated{
		SettlementID:         "settlement-2",
		MeteringPointID:      "571313180000000001",
		SupplyID:             "supply-1",
		DocumentNumber:       "S00000002",
		Period:               settlement.MustPeriod(jan, feb),
		TotalAmount:          settlement.NewMoney(decimal.RequireFromString("632.4"), "DKK"),
		TotalEnergy:          settlement.NewEnergy(decimal.RequireFromString("744")),
		IsCorrection:         true,
		PreviousSettlementID: "settlement-1",
		OccurredAt:           feb,
	}
}

func TestFanoutPublisherJoinsErrors(t *testing.T) {
	a, b := &failingPublisher{}, &failingPublisher{}
	fan := FanoutPublisher{a, NewLoggingPublisher(nil), nil, b}
	err := fan.PublishSettlementCalculated(context.Background(), calculatedEvent())
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

type capturingOutbox struct {
	envs []eventing.Envelope
}

func (c *capturingOutbox) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	c.envs = append(c.envs, env)
	return env.EventID, nil
}

func TestOutboxPublisherWritesEnvelope(t *testing.T) {
	outbox := &capturingOutbox{}
	publisher := NewOutboxPublisher(eventing.NewPublisher(outbox, nil))
	require.NoError(t, publisher.PublishSettlementCalculated(context.Background(), calculatedEvent()))

	require.Len(t, outbox.envs, 1)
	env := outbox.envs[0]
	assert.Equal(t, SettlementCalculatedType, env.EventType)
	assert.Equal(t, "settlement-2", env.CorrelationID)
	assert.Equal(t, "571313180000000001", env.MeteringPointID)
	assert.Equal(t, feb, env.OccurredAt)

	var payload SettlementCalculatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "632.40", payload.TotalAmount)
	assert.Equal(t, "744.000", payload.TotalEnergyKWh)
	assert.Equal(t, "settlement-1", payload.PreviousSettlementID)
	require.NotNil(t, payload.PeriodEnd)
	assert.Equal(t, feb, payload.PeriodEnd.UTC())

	_, err := NewSettlementCalculatedPayload(application.SettlementCalculated{})
	require.Error(t, err)
}
