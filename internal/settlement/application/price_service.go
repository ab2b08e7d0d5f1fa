package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"supply-billing/internal/logging"
	"supply-billing/internal/observability/metrics"
	settlement "supply-billing/internal/settlement/domain"
)

const spotPricePlaces = 8

var perMWh = decimal.NewFromInt(1000)

// PriceService maintains price definitions, their points and the spot and margin series.
type PriceService struct {
	prices settlement.PriceRepository
	rates  settlement.RateSeriesRepository
	source SpotPriceSource
	logger *zap.Logger
}

// PriceOption configures a PriceService.
type PriceOption func(*PriceService)

// WithSpotPriceSource enables ImportSpotPrices.
func WithSpotPriceSource(source SpotPriceSource) PriceOption {
	return func(s *PriceService) { s.source = source }
}

// WithPriceLogger sets the logger.
func WithPriceLogger(logger *zap.Logger) PriceOption {
	return func(s *PriceService) { s.logger = logging.OrNop(logger) }
}

// NewPriceService constructs the service.
func NewPriceService(prices settlement.PriceRepository, rates settlement.RateSeriesRepository, opts ...PriceOption) (*PriceService, error) {
	if prices == nil {
		return nil, errors.New("price service: nil price repository")
	}
	if rates == nil {
		return nil, errors.New("price service: nil rate series repository")
	}
	s := &PriceService{prices: prices, rates: rates, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register validates and stores a new price definition.
func (s *PriceService) Register(ctx context.Context, attrs settlement.PriceAttributes) (*settlement.Price, error) {
	price, err := settlement.NewPrice(settlement.PriceID(uuid.NewString()), attrs)
	if err != nil {
		return nil, err
	}
	if err := s.prices.Save(ctx, price); err != nil {
		return nil, fmt.Errorf("register price: %w", err)
	}
	s.logger.Info("price registered",
		zap.String("price_id", string(price.ID())),
		zap.String("charge_id", price.ChargeID()),
		zap.String("type", string(price.Type())),
		zap.String("category", string(price.Category())),
	)
	return price, nil
}

// Update replaces the master data of an existing price.
func (s *PriceService) Update(ctx context.Context, id settlement.PriceID, attrs settlement.PriceAttributes) (*settlement.Price, error) {
	price, err := s.prices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := price.Update(attrs); err != nil {
		return nil, err
	}
	if err := s.prices.Save(ctx, price); err != nil {
		return nil, fmt.Errorf("update price: %w", err)
	}
	return price, nil
}

// LinkMeteringPoint makes a price apply to a metering point.
func (s *PriceService) LinkMeteringPoint(ctx context.Context, meteringPointID string, id settlement.PriceID) error {
	if meteringPointID == "" {
		return settlement.ErrEmptyMeteringPointID
	}
	if _, err := s.prices.Get(ctx, id); err != nil {
		return err
	}
	return s.prices.Link(ctx, meteringPointID, id)
}

// ReplacePricePoints swaps the points of a price in [start, end).
func (s *PriceService) ReplacePricePoints(ctx context.Context, id settlement.PriceID, start, end time.Time, points []settlement.PricePoint) (n int, err error) {
	defer func() { metrics.ObservePriceReplace("price", resultOf(err), n) }()

	price, err := s.prices.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	n, err = price.ReplacePricePoints(start, end, points)
	if err != nil {
		return 0, err
	}
	if err := s.prices.Save(ctx, price); err != nil {
		return 0, fmt.Errorf("replace price points: %w", err)
	}
	s.logger.Info("price points replaced",
		zap.String("price_id", string(id)),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("inserted", n),
	)
	return n, nil
}

// RegisterSeries stores a spot or margin series, replacing any with the same key.
func (s *PriceService) RegisterSeries(ctx context.Context, series *settlement.RateSeries) error {
	if series == nil || series.Key == "" {
		return fmt.Errorf("%w: empty series key", settlement.ErrPrecondition)
	}
	if !series.Resolution.IsValid() {
		return settlement.ErrInvalidResolution
	}
	return s.rates.SaveSeries(ctx, series)
}

// ReplaceRatePoints swaps the points of a registered spot or margin series in [start, end).
func (s *PriceService) ReplaceRatePoints(ctx context.Context, key string, start, end time.Time, points []settlement.PricePoint) (n int, err error) {
	defer func() { metrics.ObservePriceReplace("series", resultOf(err), n) }()

	series, err := s.rates.GetSeries(ctx, key)
	if err != nil {
		return 0, err
	}
	if series == nil {
		return 0, fmt.Errorf("%w: rate series %s", settlement.ErrNotFound, key)
	}
	n, err = series.ReplacePricePoints(start, end, points)
	if err != nil {
		return 0, err
	}
	if err := s.rates.SaveSeries(ctx, series); err != nil {
		return 0, fmt.Errorf("replace rate points: %w", err)
	}
	return n, nil
}

// ImportSpotPrices fetches published spot prices for an area, converts them from
// per MWh to per kWh and replaces [from, to) of the area's spot series.
// Hours without a published price are skipped.
func (s *PriceService) ImportSpotPrices(ctx context.Context, area string, from, to time.Time) (n int, err error) {
	defer func() { metrics.IncSpotImport(area, resultOf(err)) }()

	if s.source == nil {
		return 0, errors.New("price service: no spot price source")
	}
	if area == "" {
		return 0, fmt.Errorf("%w: empty price area", settlement.ErrPrecondition)
	}
	records, err := s.source.FetchSpotPrices(ctx, area, from, to)
	if err != nil {
		return 0, fmt.Errorf("import spot prices: fetch %s: %w", area, err)
	}

	points := make([]settlement.PricePoint, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if rec.PricePerMWh == nil {
			skipped++
			continue
		}
		points = append(points, settlement.PricePoint{
			Timestamp: rec.Start,
			Value:     rec.PricePerMWh.Div(perMWh).Round(spotPricePlaces),
		})
	}

	key := settlement.SpotSeriesKey(area)
	series, err := s.rates.GetSeries(ctx, key)
	if err != nil {
		return 0, err
	}
	if series == nil {
		series = settlement.NewSpotSeries(area, settlement.ResolutionHour)
	}
	n, err = series.ReplacePricePoints(from, to, points)
	if err != nil {
		return 0, err
	}
	if err := s.rates.SaveSeries(ctx, series); err != nil {
		return 0, fmt.Errorf("import spot prices: save: %w", err)
	}
	s.logger.Info("spot prices imported",
		zap.String("area", area),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("inserted", n),
		zap.Int("skipped", skipped),
	)
	return n, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, settlement.ErrConflict):
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}
