package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply-billing/internal/audit"
	"supply-billing/internal/settlement/application"
	settlement "supply-billing/internal/settlement/domain"
	"supply-billing/internal/settlement/infrastructure/memory"
)

const meteringPoint = "571313180000000001"

var (
	jan = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	events []application.SettlementCalculated
	err    error
}

func (p *recordingPublisher) PublishSettlementCalculated(_ context.Context, event application.SettlementCalculated) error {
	p.events = append(p.events, event)
	return p.err
}

type fixture struct {
	series      *memory.TimeSeriesRepository
	prices      *memory.PriceRepository
	rates       *memory.RateSeriesRepository
	settlements *memory.SettlementRepository
	locker      *memory.Locker
	publisher   *recordingPublisher

	timeSeries *application.TimeSeriesService
	priceSvc   *application.PriceService
	service    *application.SettlementService
}

func newFixture(t *testing.T, opts ...application.SettlementOption) *fixture {
	t.Helper()
	f := &fixture{
		series:      memory.NewTimeSeriesRepository(),
		prices:      memory.NewPriceRepository(),
		rates:       memory.NewRateSeriesRepository(),
		settlements: memory.NewSettlementRepository(),
		locker:      memory.NewLocker(),
		publisher:   &recordingPublisher{},
	}
	var err error
	f.timeSeries, err = application.NewTimeSeriesService(f.series, application.WithTimeSeriesLocker(f.locker, time.Minute))
	require.NoError(t, err)
	f.priceSvc, err = application.NewPriceService(f.prices, f.rates)
	require.NoError(t, err)

	base := []application.SettlementOption{
		application.WithPublisher(f.publisher),
		application.WithCorrectionLocker(f.locker, time.Minute),
		application.WithDocumentPrefix("S"),
		application.WithSettlementClock(fixedClock{now: feb.Add(48 * time.Hour)}),
		application.WithCalculator(settlement.NewCalculator(settlement.WithClock(fixedClock{now: feb.Add(time.Hour)}))),
	}
	f.service, err = application.NewSettlementService(f.settlements, f.series, f.prices, f.rates, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func january() settlement.Period { return settlement.MustPeriod(jan, feb) }

func supply() settlement.Supply {
	return settlement.Supply{
		ID:              "supply-1",
		MeteringPointID: meteringPoint,
		CustomerID:      "customer-1",
		SupplyPeriod:    settlement.MustPeriod(jan.AddDate(-1, 0, 0), jan.AddDate(1, 0, 0)),
	}
}

func (f *fixture) ingest(t *testing.T, kwh, transactionID string) *settlement.TimeSeries {
	t.Helper()
	var obs []settlement.Observation
	for at := jan; at.Before(feb); at = at.Add(time.Hour) {
		obs = append(obs, settlement.Observation{
			Timestamp: at,
			Quantity:  settlement.NewEnergy(decimal.RequireFromString(kwh)),
			Quality:   settlement.QualityMeasured,
		})
	}
	ts, err := f.timeSeries.Ingest(context.Background(), application.IngestTimeSeries{
		MeteringPointID: meteringPoint,
		Period:          january(),
		Resolution:      settlement.ResolutionHour,
		TransactionID:   transactionID,
		ReceivedAt:      feb,
		Observations:    obs,
	})
	require.NoError(t, err)
	return ts
}

func (f *fixture) linkTariff(t *testing.T, value string) *settlement.Price {
	t.Helper()
	ctx := context.Background()
	validFrom := jan.AddDate(-1, 0, 0)
	validity, err := settlement.NewOpenPeriod(validFrom)
	require.NoError(t, err)
	price, err := f.priceSvc.Register(ctx, settlement.PriceAttributes{
		ChargeID:    "40000",
		OwnerID:     "5790000610099",
		Type:        settlement.PriceTypeTariff,
		Description: "Nettarif C",
		Validity:    validity,
		Category:    settlement.CategoryGridTariff,
	})
	require.NoError(t, err)
	_, err = f.priceSvc.ReplacePricePoints(ctx, price.ID(), validFrom, validFrom.Add(time.Hour),
		[]settlement.PricePoint{{Timestamp: validFrom, Value: decimal.RequireFromString(value)}})
	require.NoError(t, err)
	require.NoError(t, f.priceSvc.LinkMeteringPoint(ctx, meteringPoint, price.ID()))
	return price
}

func TestIngestVersionsAndSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.ingest(t, "1", "tx-1")
	second := f.ingest(t, "2", "tx-2")
	assert.Equal(t, 1, first.Version())
	assert.Equal(t, 2, second.Version())

	latest, err := f.timeSeries.Latest(ctx, meteringPoint, january())
	require.NoError(t, err)
	assert.Equal(t, second.ID(), latest.ID())
	assert.Equal(t, "1488.000", latest.TotalEnergy().String())

	history, err := f.timeSeries.History(ctx, meteringPoint, january())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].IsLatest())
	assert.True(t, history[1].IsLatest())
}

func TestIngestIsIdempotentPerTransaction(t *testing.T) {
	f := newFixture(t)
	first := f.ingest(t, "1", "tx-1")
	again := f.ingest(t, "5", "tx-1")
	assert.Equal(t, first.ID(), again.ID())
	assert.Equal(t, 1, again.Version())
}

func TestIngestRejectsEmptyAndLockedSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.timeSeries.Ingest(ctx, application.IngestTimeSeries{MeteringPointID: meteringPoint, Period: january(), Resolution: settlement.ResolutionHour})
	require.ErrorIs(t, err, settlement.ErrEmptyTimeSeries)

	release, err := f.locker.Lock(ctx, "timeseries:"+meteringPoint+":"+january().Key(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	_, err = f.timeSeries.Ingest(ctx, application.IngestTimeSeries{
		MeteringPointID: meteringPoint,
		Period:          january(),
		Resolution:      settlement.ResolutionHour,
		Observations:    []settlement.Observation{{Timestamp: jan, Quantity: settlement.EnergyFromFloat(1), Quality: settlement.QualityMeasured}},
	})
	require.ErrorIs(t, err, settlement.ErrConflict)
}

func TestLatestMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.timeSeries.Latest(context.Background(), meteringPoint, january())
	require.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestSettleCorrectAndCorrectAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.linkTariff(t, "0.50")
	f.ingest(t, "1", "tx-1")

	original, err := f.service.Settle(ctx, application.SettleRequest{Supply: supply(), Period: january()})
	require.NoError(t, err)
	assert.Equal(t, "372.00", original.TotalAmount().Amount.StringFixed(2))
	assert.Equal(t, "S00000001", original.DocumentNumber())
	assert.Equal(t, settlement.StatusCalculated, original.Status())

	_, err = f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.ErrorIs(t, err, settlement.ErrPreviousNotBilled)

	require.NoError(t, f.service.MarkInvoiced(ctx, original.ID(), "INV-1"))
	f.ingest(t, "1.5", "tx-2")

	first, err := f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.NoError(t, err)
	assert.True(t, first.IsCorrection())
	assert.Equal(t, "186.00", first.TotalAmount().Amount.StringFixed(2))
	assert.Equal(t, "372.000", first.TotalEnergy().String())
	prevID, ok := first.PreviousSettlementID()
	require.True(t, ok)
	assert.Equal(t, original.ID(), prevID)

	stored, err := f.service.Get(ctx, original.ID())
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusAdjusted, stored.Status())

	_, err = f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.ErrorIs(t, err, settlement.ErrCorrectionInProgress)

	require.NoError(t, f.service.MarkInvoiced(ctx, first.ID(), "INV-2"))
	f.ingest(t, "1", "tx-3")

	second, err := f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: first.ID(), Supply: supply()})
	require.NoError(t, err)
	assert.Equal(t, "-186.00", second.TotalAmount().Amount.StringFixed(2))
	assert.Equal(t, "-372.000", second.TotalEnergy().String())

	chain, err := f.service.Chain(ctx, second.ID())
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, original.ID(), chain[0].ID())
	assert.Equal(t, second.ID(), chain[2].ID())

	require.Len(t, f.publisher.events, 3)
	assert.True(t, f.publisher.events[2].IsCorrection)
	assert.Equal(t, first.ID(), f.publisher.events[2].PreviousSettlementID)
}

func TestCorrectOpenEndedSeriesWithoutPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.linkTariff(t, "0.50")
	open, err := settlement.NewOpenPeriod(jan)
	require.NoError(t, err)

	ingest := func(kwh, transactionID string) {
		t.Helper()
		var obs []settlement.Observation
		for at := jan; at.Before(jan.Add(48 * time.Hour)); at = at.Add(time.Hour) {
			obs = append(obs, settlement.Observation{
				Timestamp: at,
				Quantity:  settlement.NewEnergy(decimal.RequireFromString(kwh)),
				Quality:   settlement.QualityMeasured,
			})
		}
		_, err := f.timeSeries.Ingest(ctx, application.IngestTimeSeries{
			MeteringPointID: meteringPoint,
			Period:          open,
			Resolution:      settlement.ResolutionHour,
			TransactionID:   transactionID,
			ReceivedAt:      feb,
			Observations:    obs,
		})
		require.NoError(t, err)
	}

	ingest("1", "tx-1")
	original, err := f.service.Settle(ctx, application.SettleRequest{Supply: supply(), Period: open})
	require.NoError(t, err)
	assert.Equal(t, "24.00", original.TotalAmount().Amount.StringFixed(2))
	end, ok := original.Period().End()
	require.True(t, ok)
	assert.Equal(t, jan.Add(48*time.Hour), end)

	require.NoError(t, f.service.MarkInvoiced(ctx, original.ID(), "INV-1"))
	ingest("1.5", "tx-2")

	correction, err := f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.NoError(t, err)
	assert.Equal(t, 2, correction.TimeSeriesVersion())
	assert.Equal(t, "12.00", correction.TotalAmount().Amount.StringFixed(2))
	assert.Equal(t, "24.000", correction.TotalEnergy().String())
}

func TestRejectedCorrectionKeepsDocumentNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.linkTariff(t, "0.50")
	f.ingest(t, "1", "tx-1")

	original, err := f.service.Settle(ctx, application.SettleRequest{Supply: supply(), Period: january()})
	require.NoError(t, err)
	require.NoError(t, f.service.MarkInvoiced(ctx, original.ID(), "INV-1"))

	_, err = f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.ErrorIs(t, err, settlement.ErrStaleTimeSeries)

	f.ingest(t, "1.5", "tx-2")
	correction, err := f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.NoError(t, err)
	assert.Equal(t, "S00000002", correction.DocumentNumber())
}

func TestLifecycleIsAudited(t *testing.T) {
	log := &audit.MemoryLog{}
	f := newFixture(t, application.WithAuditLogger(log))
	ctx := audit.WithActor(context.Background(), "billing-operator")
	f.linkTariff(t, "0.50")
	f.ingest(t, "1", "tx-1")

	original, err := f.service.Settle(ctx, application.SettleRequest{Supply: supply(), Period: january()})
	require.NoError(t, err)
	require.NoError(t, f.service.MarkInvoiced(ctx, original.ID(), "INV-1"))
	f.ingest(t, "2", "tx-2")
	correction, err := f.service.Correct(context.Background(), application.CorrectRequest{PreviousSettlementID: original.ID(), Supply: supply()})
	require.NoError(t, err)

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionSettle, entries[0].Action)
	assert.Equal(t, string(original.ID()), entries[0].ResourceID)
	assert.Equal(t, meteringPoint, entries[0].MeteringPointID)
	assert.Equal(t, "billing-operator", entries[0].Actor)
	assert.Equal(t, audit.ActionInvoice, entries[1].Action)
	assert.JSONEq(t, `{"invoice_reference":"INV-1"}`, string(entries[1].Metadata))
	assert.Equal(t, audit.ActionCorrect, entries[2].Action)
	assert.Equal(t, string(correction.ID()), entries[2].ResourceID)
	assert.Equal(t, audit.SystemActor, entries[2].Actor)
	assert.Equal(t, feb.Add(48*time.Hour), entries[2].CreatedAt)
	assert.NotEmpty(t, entries[2].PayloadDigest)
}

func TestSettleRequiresCompletePricesWhenConfigured(t *testing.T) {
	f := newFixture(t, application.WithRequireCompletePrices(true))
	f.linkTariff(t, "0.50")
	f.ingest(t, "1", "tx-1")

	_, err := f.service.Settle(context.Background(), application.SettleRequest{Supply: supply(), Period: january()})
	require.ErrorIs(t, err, application.ErrIncompletePrices)
	require.ErrorIs(t, err, settlement.ErrPrecondition)
	assert.Empty(t, f.settlements.List(context.Background()))
}

func TestSettleWithoutTimeSeriesIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Settle(context.Background(), application.SettleRequest{Supply: supply(), Period: january()})
	require.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestPublisherFailureDoesNotFailSettle(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	f.linkTariff(t, "0.50")
	f.ingest(t, "1", "tx-1")

	st, err := f.service.Settle(context.Background(), application.SettleRequest{Supply: supply(), Period: january()})
	require.NoError(t, err)
	_, err = f.service.Get(context.Background(), st.ID())
	require.NoError(t, err)
}

func TestSettleUsesSpotAndMarginSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "1", "tx-1")
	require.NoError(t, f.priceSvc.RegisterSeries(ctx, settlement.NewSpotSeries("DK1", settlement.ResolutionHour)))
	require.NoError(t, f.priceSvc.RegisterSeries(ctx, settlement.NewMarginSeries("flex", settlement.ResolutionMonth)))
	_, err := f.priceSvc.ReplaceRatePoints(ctx, settlement.SpotSeriesKey("DK1"), jan, feb,
		[]settlement.PricePoint{{Timestamp: jan, Value: decimal.RequireFromString("0.60")}})
	require.NoError(t, err)
	_, err = f.priceSvc.ReplaceRatePoints(ctx, settlement.MarginSeriesKey("flex"), jan, feb,
		[]settlement.PricePoint{{Timestamp: jan, Value: decimal.RequireFromString("0.05")}})
	require.NoError(t, err)

	st, err := f.service.Settle(ctx, application.SettleRequest{
		Supply:    supply(),
		Period:    january(),
		SpotArea:  "DK1",
		MarginKey: settlement.MarginSeriesKey("flex"),
	})
	require.NoError(t, err)
	lines := st.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, settlement.SourceSpotPrice, lines[0].Source)
	assert.Equal(t, "446.40", lines[0].Amount.StringFixed(2))
	assert.Equal(t, settlement.SourceSupplierMargin, lines[1].Source)
	assert.Equal(t, "37.20", lines[1].Amount.StringFixed(2))
}

func TestReplaceRatePointsUnknownSeries(t *testing.T) {
	f := newFixture(t)
	_, err := f.priceSvc.ReplaceRatePoints(context.Background(), "spot:XX", jan, feb, nil)
	require.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestImportMigratedCanBeCorrected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := f.linkTariff(t, "0.50")
	priceID := price.ID()

	migrated, err := f.service.ImportMigrated(ctx, settlement.MigratedSettlement{
		MeteringPointID:   meteringPoint,
		SupplyID:          "supply-1",
		TimeSeriesVersion: 1,
		Period:            january(),
		Lines: []settlement.SettlementLine{{
			Description: "Nettarif C",
			PriceID:     &priceID,
			Quantity:    settlement.NewEnergy(decimal.RequireFromString("744")),
			UnitPrice:   decimal.RequireFromString("0.50"),
			Amount:      decimal.RequireFromString("372"),
		}},
		TotalEnergy:      settlement.NewEnergy(decimal.RequireFromString("744")),
		Currency:         "DKK",
		InvoiceReference: "LEGACY-1",
		InvoicedAt:       feb,
	})
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusMigrated, migrated.Status())

	f.ingest(t, "1", "tx-1")
	f.ingest(t, "2", "tx-2")
	correction, err := f.service.Correct(ctx, application.CorrectRequest{PreviousSettlementID: migrated.ID(), Supply: supply()})
	require.NoError(t, err)
	assert.Equal(t, "372.00", correction.TotalAmount().Amount.StringFixed(2))
}
