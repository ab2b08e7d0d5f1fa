package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"supply-billing/internal/logging"
	"supply-billing/internal/settlement/application"
)

// LoggingPublisher logs settlement calculated events.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logging.OrNop(logger)}
}

// PublishSettlementCalculated logs the event.
func (p *LoggingPublisher) PublishSettlementCalculated(ctx context.Context, event application.SettlementCalculated) error {
	_ = ctx
	if p == nil {
		return errors.New("settlement publisher: nil publisher")
	}
	p.logger.Info("settlement calculated event",
		zap.String("settlement_id", string(event.SettlementID)),
		zap.String("metering_point_id", event.MeteringPointID),
		zap.String("document_number", event.DocumentNumber),
		zap.String("period", event.Period.String()),
		zap.String("amount", event.TotalAmount.String()),
		zap.Bool("is_correction", event.IsCorrection),
	)
	return nil
}

// FanoutPublisher delivers each event to every publisher and joins their errors.
type FanoutPublisher []application.SettlementPublisher

// PublishSettlementCalculated publishes to all members.
func (f FanoutPublisher) PublishSettlementCalculated(ctx context.Context, event application.SettlementCalculated) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishSettlementCalculated(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
