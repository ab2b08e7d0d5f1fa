package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"supply-billing/internal/audit"
	"supply-billing/internal/logging"
	"supply-billing/internal/observability/metrics"
	settlement "supply-billing/internal/settlement/domain"
)

// ErrIncompletePrices is returned by Settle when complete prices are required and missing.
var ErrIncompletePrices = fmt.Errorf("%w: incomplete price set", settlement.ErrPrecondition)

// SettleRequest asks for the settlement of the latest time series of a supply.
type SettleRequest struct {
	Supply settlement.Supply
	// Period identifies the time series.
	Period       settlement.Period
	PricingModel settlement.PricingModel
	// SpotArea selects the spot series, empty for none.
	SpotArea string
	// MarginKey selects the supplier margin series, empty for none.
	MarginKey string
}

// CorrectRequest asks for a correction of a billed settlement against the latest time series.
type CorrectRequest struct {
	PreviousSettlementID settlement.SettlementID
	Supply               settlement.Supply
	// Period identifies the time series. Zero means the period of the previous settlement.
	Period       settlement.Period
	PricingModel settlement.PricingModel
	SpotArea     string
	MarginKey    string
}

// SettlementService calculates, corrects and tracks settlements.
type SettlementService struct {
	settlements           settlement.SettlementRepository
	series                settlement.TimeSeriesRepository
	prices                settlement.PriceRepository
	rates                 settlement.RateSeriesRepository
	calculator            *settlement.Calculator
	publisher             SettlementPublisher
	locker                Locker
	lockTTL               time.Duration
	clock                 Clock
	documentPrefix        string
	requireCompletePrices bool
	audit                 audit.Logger
	logger                *zap.Logger
}

// SettlementOption configures a SettlementService.
type SettlementOption func(*SettlementService)

// WithPublisher emits SettlementCalculated after every persisted settlement.
func WithPublisher(publisher SettlementPublisher) SettlementOption {
	return func(s *SettlementService) { s.publisher = publisher }
}

// WithCorrectionLocker serializes corrections of the same settlement.
func WithCorrectionLocker(locker Locker, ttl time.Duration) SettlementOption {
	return func(s *SettlementService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithSettlementClock overrides the clock used for lifecycle timestamps.
func WithSettlementClock(clock Clock) SettlementOption {
	return func(s *SettlementService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCalculator overrides the calculator.
func WithCalculator(calculator *settlement.Calculator) SettlementOption {
	return func(s *SettlementService) {
		if calculator != nil {
			s.calculator = calculator
		}
	}
}

// WithDocumentPrefix is prepended to every assigned document number.
func WithDocumentPrefix(prefix string) SettlementOption {
	return func(s *SettlementService) { s.documentPrefix = prefix }
}

// WithRequireCompletePrices makes Settle fail on an incomplete price set.
func WithRequireCompletePrices(required bool) SettlementOption {
	return func(s *SettlementService) { s.requireCompletePrices = required }
}

// WithAuditLogger records every lifecycle change of a settlement.
func WithAuditLogger(logger audit.Logger) SettlementOption {
	return func(s *SettlementService) { s.audit = logger }
}

// WithSettlementLogger sets the logger.
func WithSettlementLogger(logger *zap.Logger) SettlementOption {
	return func(s *SettlementService) { s.logger = logging.OrNop(logger) }
}

// NewSettlementService constructs the service.
func NewSettlementService(
	settlements settlement.SettlementRepository,
	series settlement.TimeSeriesRepository,
	prices settlement.PriceRepository,
	rates settlement.RateSeriesRepository,
	opts ...SettlementOption,
) (*SettlementService, error) {
	if settlements == nil {
		return nil, errors.New("settlement service: nil settlement repository")
	}
	if series == nil {
		return nil, errors.New("settlement service: nil time series repository")
	}
	if prices == nil {
		return nil, errors.New("settlement service: nil price repository")
	}
	if rates == nil {
		return nil, errors.New("settlement service: nil rate series repository")
	}
	s := &SettlementService{
		settlements: settlements,
		series:      series,
		prices:      prices,
		rates:       rates,
		calculator:  settlement.NewCalculator(),
		lockTTL:     defaultLockTTL,
		clock:       settlement.SystemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settle calculates and stores the settlement of the latest time series for req.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (result *settlement.Settlement, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSettlementCalculate(resultOf(err), time.Since(start)) }()

	in, err := s.loadInput(ctx, req.Supply, req.Period, req.PricingModel, req.SpotArea, req.MarginKey)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if issues := s.validate(in); len(issues) > 0 && s.requireCompletePrices {
		return nil, fmt.Errorf("settle: %w: %s", ErrIncompletePrices, strings.Join(issues, "; "))
	}
	result, err = s.calculator.Calculate(in)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	number, err := s.nextDocumentNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if err := result.AssignDocumentNumber(number); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if err := s.settlements.Save(ctx, result); err != nil {
		return nil, fmt.Errorf("settle: save: %w", err)
	}

	s.logger.Info("settlement calculated",
		zap.String("settlement_id", string(result.ID())),
		zap.String("metering_point_id", result.MeteringPointID()),
		zap.String("document_number", result.DocumentNumber()),
		zap.String("period", result.Period().String()),
		zap.Int("time_series_version", result.TimeSeriesVersion()),
		zap.String("total_kwh", result.TotalEnergy().String()),
		zap.String("amount", result.TotalAmount().String()),
	)
	s.record(ctx, audit.ActionSettle, result, map[string]any{
		"document_number":     result.DocumentNumber(),
		"time_series_version": result.TimeSeriesVersion(),
		"amount":              result.TotalAmount().String(),
	})
	s.publish(ctx, result)
	return result, nil
}

// Correct bills the difference between the latest time series and what has been
// billed so far for req.PreviousSettlementID. The previous settlement becomes
// Adjusted in the same transaction that stores the correction.
func (s *SettlementService) Correct(ctx context.Context, req CorrectRequest) (correction *settlement.Settlement, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSettlementCorrect(resultOf(err), time.Since(start)) }()

	if req.PreviousSettlementID == "" {
		return nil, fmt.Errorf("correct: %w", settlement.ErrNilSettlement)
	}
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, correctionLockKey(req.PreviousSettlementID), s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("correct: %w", err)
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	previous, err := s.settlements.Get(ctx, req.PreviousSettlementID)
	if err != nil {
		return nil, fmt.Errorf("correct: load previous: %w", err)
	}
	if !previous.Status().IsBilled() {
		return nil, fmt.Errorf("correct: %w", settlement.ErrPreviousNotBilled)
	}
	existing, err := s.settlements.FindCorrectionOf(ctx, previous.ID())
	if err != nil {
		return nil, fmt.Errorf("correct: find correction: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("correct: %w: %s", settlement.ErrCorrectionInProgress, existing.ID())
	}

	baseline := previous
	if previous.IsCorrection() {
		chain, err := s.chainOf(ctx, previous)
		if err != nil {
			return nil, fmt.Errorf("correct: %w", err)
		}
		if baseline, err = settlement.ConsolidateChain(chain); err != nil {
			return nil, fmt.Errorf("correct: consolidate: %w", err)
		}
	}

	period := req.Period
	if period.IsZero() {
		if period, err = s.seriesPeriodOf(ctx, previous); err != nil {
			return nil, fmt.Errorf("correct: %w", err)
		}
	}
	in, err := s.loadInput(ctx, req.Supply, period, req.PricingModel, req.SpotArea, req.MarginKey)
	if err != nil {
		return nil, fmt.Errorf("correct: %w", err)
	}
	s.validate(in)

	correction, err = s.calculator.CalculateCorrection(settlement.CorrectionInput{
		CalculationInput: in,
		Previous:         baseline,
	})
	if err != nil {
		return nil, fmt.Errorf("correct: %w", err)
	}
	number, err := s.nextDocumentNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("correct: %w", err)
	}
	if err := correction.AssignDocumentNumber(number); err != nil {
		return nil, fmt.Errorf("correct: %w", err)
	}
	if err := previous.MarkAdjusted(s.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("correct: %w", err)
	}
	if err := s.settlements.SaveCorrection(ctx, correction, previous); err != nil {
		return nil, fmt.Errorf("correct: save: %w", err)
	}

	s.logger.Info("settlement corrected",
		zap.String("settlement_id", string(correction.ID())),
		zap.String("previous_settlement_id", string(previous.ID())),
		zap.String("metering_point_id", correction.MeteringPointID()),
		zap.String("document_number", correction.DocumentNumber()),
		zap.Int("time_series_version", correction.TimeSeriesVersion()),
		zap.Int("lines", len(correction.Lines())),
		zap.String("total_kwh", correction.TotalEnergy().String()),
		zap.String("amount", correction.TotalAmount().String()),
	)
	s.record(ctx, audit.ActionCorrect, correction, map[string]any{
		"previous_settlement_id": string(previous.ID()),
		"document_number":        correction.DocumentNumber(),
		"time_series_version":    correction.TimeSeriesVersion(),
		"amount":                 correction.TotalAmount().String(),
	})
	s.publish(ctx, correction)
	return correction, nil
}

// MarkInvoiced records the external invoice reference of a settlement.
func (s *SettlementService) MarkInvoiced(ctx context.Context, id settlement.SettlementID, reference string) (err error) {
	defer func() { metrics.IncSettlementInvoice(resultOf(err)) }()

	st, err := s.settlements.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := st.MarkInvoiced(reference, s.clock.Now().UTC()); err != nil {
		return err
	}
	if err := s.settlements.Save(ctx, st); err != nil {
		return fmt.Errorf("mark invoiced: save: %w", err)
	}
	s.logger.Info("settlement invoiced",
		zap.String("settlement_id", string(id)),
		zap.String("invoice_reference", reference),
	)
	s.record(ctx, audit.ActionInvoice, st, map[string]any{"invoice_reference": reference})
	return nil
}

// Get loads a settlement.
func (s *SettlementService) Get(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	return s.settlements.Get(ctx, id)
}

// Chain returns the original settlement and every correction up to id, oldest first.
func (s *SettlementService) Chain(ctx context.Context, id settlement.SettlementID) ([]*settlement.Settlement, error) {
	st, err := s.settlements.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.chainOf(ctx, st)
}

// ImportMigrated stores a settlement billed by the legacy system so it can be corrected.
func (s *SettlementService) ImportMigrated(ctx context.Context, m settlement.MigratedSettlement) (*settlement.Settlement, error) {
	if m.ImportedAt.IsZero() {
		m.ImportedAt = s.clock.Now().UTC()
	}
	st, err := settlement.NewMigratedSettlement(m)
	if err != nil {
		return nil, err
	}
	if err := s.settlements.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("import migrated: save: %w", err)
	}
	s.logger.Info("migrated settlement imported",
		zap.String("settlement_id", string(st.ID())),
		zap.String("metering_point_id", st.MeteringPointID()),
		zap.String("invoice_reference", st.InvoiceReference()),
		zap.String("amount", st.TotalAmount().String()),
	)
	s.record(ctx, audit.ActionImportMigrated, st, map[string]any{
		"invoice_reference": st.InvoiceReference(),
		"amount":            st.TotalAmount().String(),
	})
	return st, nil
}

func (s *SettlementService) chainOf(ctx context.Context, last *settlement.Settlement) ([]*settlement.Settlement, error) {
	chain := []*settlement.Settlement{last}
	seen := map[settlement.SettlementID]bool{last.ID(): true}
	cur := last
	for {
		prevID, ok := cur.PreviousSettlementID()
		if !ok {
			break
		}
		if seen[prevID] {
			return nil, settlement.ErrBrokenChain
		}
		prev, err := s.settlements.Get(ctx, prevID)
		if err != nil {
			return nil, fmt.Errorf("load chain %s: %w", prevID, err)
		}
		seen[prevID] = true
		chain = append(chain, prev)
		cur = prev
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// seriesPeriodOf returns the ingest period of the series st was calculated from.
// Open-ended series are stored under their open period, not the billed window.
func (s *SettlementService) seriesPeriodOf(ctx context.Context, st *settlement.Settlement) (settlement.Period, error) {
	if id := st.TimeSeriesID(); id != "" {
		ts, err := s.series.Get(ctx, id)
		if err != nil {
			return settlement.Period{}, fmt.Errorf("load time series %s: %w", id, err)
		}
		if ts != nil {
			return ts.Period(), nil
		}
	}
	return st.Period(), nil
}

func (s *SettlementService) loadInput(ctx context.Context, supply settlement.Supply, period settlement.Period, model settlement.PricingModel, spotArea, marginKey string) (settlement.CalculationInput, error) {
	mp := supply.MeteringPointID
	ts, err := s.series.FindLatest(ctx, mp, period)
	if err != nil {
		return settlement.CalculationInput{}, fmt.Errorf("load time series: %w", err)
	}
	if ts == nil {
		return settlement.CalculationInput{}, fmt.Errorf("%w: time series %s %s", settlement.ErrNotFound, mp, period)
	}
	prices, err := s.prices.ListForMeteringPoint(ctx, mp)
	if err != nil {
		return settlement.CalculationInput{}, fmt.Errorf("load prices: %w", err)
	}
	in := settlement.CalculationInput{
		TimeSeries:   ts,
		Supply:       supply,
		Prices:       prices,
		PricingModel: model,
	}
	if spotArea != "" {
		if in.SpotPrices, err = s.rates.GetSeries(ctx, settlement.SpotSeriesKey(spotArea)); err != nil {
			return settlement.CalculationInput{}, fmt.Errorf("load spot prices: %w", err)
		}
	}
	if marginKey != "" {
		if in.Margin, err = s.rates.GetSeries(ctx, marginKey); err != nil {
			return settlement.CalculationInput{}, fmt.Errorf("load margin: %w", err)
		}
	}
	return in, nil
}

// validate logs and counts price gaps for the settlement window.
func (s *SettlementService) validate(in settlement.CalculationInput) []string {
	missing := settlement.ValidatePriceCompleteness(in.Prices, in.SpotPrices, in.Margin)
	if in.PricingModel == settlement.PricingFixed {
		missing = without(missing, settlement.CategoryLabel(settlement.CategorySpotPrice))
	}

	window := in.TimeSeries.SettlementPeriod()
	var coverage []string
	if end, ok := window.End(); ok {
		coverage = settlement.ValidatePricePointCoverage(in.Prices, window.Start(), end)
		for _, series := range []*settlement.RateSeries{in.SpotPrices, in.Margin} {
			if issue, ok := settlement.ValidateSeriesCoverage(series, window.Start(), end); ok {
				coverage = append(coverage, issue)
			}
		}
	}

	metrics.AddPriceIssues("missing_category", len(missing))
	metrics.AddPriceIssues("coverage", len(coverage))
	issues := make([]string, 0, len(missing)+len(coverage))
	for _, label := range missing {
		issues = append(issues, label+": missing")
	}
	issues = append(issues, coverage...)
	if len(issues) > 0 {
		s.logger.Warn("price set incomplete",
			zap.String("metering_point_id", in.TimeSeries.MeteringPointID()),
			zap.String("period", window.String()),
			zap.Strings("issues", issues),
		)
	}
	return issues
}

func (s *SettlementService) nextDocumentNumber(ctx context.Context) (string, error) {
	number, err := s.settlements.NextDocumentNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("next document number: %w", err)
	}
	return s.documentPrefix + number, nil
}

func (s *SettlementService) publish(ctx context.Context, st *settlement.Settlement) {
	if s.publisher == nil {
		return
	}
	event := SettlementCalculated{
		SettlementID:    st.ID(),
		MeteringPointID: st.MeteringPointID(),
		SupplyID:        st.SupplyID(),
		DocumentNumber:  st.DocumentNumber(),
		Period:          st.Period(),
		TotalAmount:     st.TotalAmount(),
		TotalEnergy:     st.TotalEnergy(),
		IsCorrection:    st.IsCorrection(),
		OccurredAt:      s.clock.Now().UTC(),
	}
	if prevID, ok := st.PreviousSettlementID(); ok {
		event.PreviousSettlementID = prevID
	}
	if err := s.publisher.PublishSettlementCalculated(ctx, event); err != nil {
		s.logger.Error("publish settlement calculated failed",
			zap.String("settlement_id", string(st.ID())),
			zap.Error(err),
		)
	}
}

func (s *SettlementService) record(ctx context.Context, action string, st *settlement.Settlement, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	entry := audit.NewEntry(ctx, action, "settlement", string(st.ID()), metadata)
	entry.MeteringPointID = st.MeteringPointID()
	entry.CreatedAt = s.clock.Now().UTC()
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Error("audit log failed",
			zap.String("action", action),
			zap.String("settlement_id", string(st.ID())),
			zap.Error(err),
		)
	}
}

func without(values []string, drop string) []string {
	kept := values[:0]
	for _, v := range values {
		if v != drop {
			kept = append(kept, v)
		}
	}
	return kept
}
