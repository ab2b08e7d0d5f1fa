package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"supply-billing/internal/logging"
	"supply-billing/internal/observability/metrics"
	settlement "supply-billing/internal/settlement/domain"
)

// IngestTimeSeries is one metered delivery for a metering point and period.
type IngestTimeSeries struct {
	MeteringPointID string
	Period          settlement.Period
	Resolution      settlement.Resolution
	TransactionID   string
	ReceivedAt      time.Time
	Observations    []settlement.Observation
}

// TimeSeriesService versions incoming time series.
type TimeSeriesService struct {
	repo    settlement.TimeSeriesRepository
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// TimeSeriesOption configures a TimeSeriesService.
type TimeSeriesOption func(*TimeSeriesService)

// WithTimeSeriesLocker serializes ingests per metering point and period.
func WithTimeSeriesLocker(locker Locker, ttl time.Duration) TimeSeriesOption {
	return func(s *TimeSeriesService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithTimeSeriesLogger sets the logger.
func WithTimeSeriesLogger(logger *zap.Logger) TimeSeriesOption {
	return func(s *TimeSeriesService) { s.logger = logging.OrNop(logger) }
}

// NewTimeSeriesService constructs the service.
func NewTimeSeriesService(repo settlement.TimeSeriesRepository, opts ...TimeSeriesOption) (*TimeSeriesService, error) {
	if repo == nil {
		return nil, errors.New("time series service: nil repository")
	}
	s := &TimeSeriesService{repo: repo, lockTTL: defaultLockTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest stores cmd as the new latest version and supersedes the previous one.
// A repeated transaction id returns the version it created.
func (s *TimeSeriesService) Ingest(ctx context.Context, cmd IngestTimeSeries) (ts *settlement.TimeSeries, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		count := 0
		if ts != nil {
			count = ts.Len()
		}
		metrics.ObserveTimeSeriesIngest(result, count, time.Since(start))
	}()

	if cmd.MeteringPointID == "" {
		return nil, settlement.ErrEmptyMeteringPointID
	}
	if len(cmd.Observations) == 0 {
		return nil, settlement.ErrEmptyTimeSeries
	}

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, timeSeriesLockKey(cmd.MeteringPointID, cmd.Period), s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("ingest time series: %w", err)
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	if cmd.TransactionID != "" {
		existing, err := s.repo.FindByTransaction(ctx, cmd.MeteringPointID, cmd.Period, cmd.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("ingest time series: find transaction: %w", err)
		}
		if existing != nil {
			s.logger.Info("time series transaction already ingested",
				zap.String("metering_point_id", cmd.MeteringPointID),
				zap.String("transaction_id", cmd.TransactionID),
				zap.Int("version", existing.Version()),
			)
			return existing, nil
		}
	}

	latest, err := s.repo.FindLatest(ctx, cmd.MeteringPointID, cmd.Period)
	if err != nil {
		return nil, fmt.Errorf("ingest time series: find latest: %w", err)
	}
	version := 1
	if latest != nil {
		version = latest.Version() + 1
	}

	next, err := settlement.NewTimeSeries(settlement.TimeSeriesHeader{
		MeteringPointID: cmd.MeteringPointID,
		Period:          cmd.Period,
		Resolution:      cmd.Resolution,
		Version:         version,
		TransactionID:   cmd.TransactionID,
		ReceivedAt:      cmd.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range cmd.Observations {
		if err := next.AddObservation(o); err != nil {
			return nil, fmt.Errorf("ingest time series: observation %s: %w", o.Timestamp.Format(time.RFC3339), err)
		}
	}
	if latest != nil {
		if err := latest.Supersede(); err != nil {
			return nil, err
		}
	}
	if err := s.repo.SaveVersion(ctx, next, latest); err != nil {
		return nil, fmt.Errorf("ingest time series: save: %w", err)
	}

	s.logger.Info("time series ingested",
		zap.String("metering_point_id", next.MeteringPointID()),
		zap.String("period", next.Period().String()),
		zap.Int("version", next.Version()),
		zap.Int("observations", next.Len()),
		zap.String("total_kwh", next.TotalEnergy().String()),
	)
	return next, nil
}

// Latest returns the latest version, or settlement.ErrNotFound.
func (s *TimeSeriesService) Latest(ctx context.Context, meteringPointID string, period settlement.Period) (*settlement.TimeSeries, error) {
	ts, err := s.repo.FindLatest(ctx, meteringPointID, period)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, fmt.Errorf("%w: time series %s %s", settlement.ErrNotFound, meteringPointID, period)
	}
	return ts, nil
}

// History returns every version, oldest first.
func (s *TimeSeriesService) History(ctx context.Context, meteringPointID string, period settlement.Period) ([]*settlement.TimeSeries, error) {
	return s.repo.ListVersions(ctx, meteringPointID, period)
}
