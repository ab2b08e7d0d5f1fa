package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"supply-billing/internal/logging"
)

// Sink delivers an envelope downstream.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// Relay moves pending outbox records to a sink.
type Relay struct {
	outbox OutboxStore
	sink   Sink
	logger *zap.Logger
}

// NewRelay constructs a relay.
func NewRelay(outbox OutboxStore, sink Sink, logger *zap.Logger) *Relay {
	return &Relay{outbox: outbox, sink: sink, logger: logging.OrNop(logger)}
}

// Dispatch delivers up to limit pending records and returns how many were sent.
// Failed records are handed back to the store with the delivery error.
func (r *Relay) Dispatch(ctx context.Context, limit int) (int, error) {
	if r == nil || r.outbox == nil || r.sink == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := r.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := r.sink.Deliver(ctx, record.Envelope); err != nil {
			r.logger.Warn("outbox delivery failed",
				zap.String("outbox_id", record.ID),
				zap.String("event_type", record.Envelope.EventType),
				zap.Int("attempt", record.Attempts+1),
				zap.Error(err),
			)
			if markErr := r.outbox.MarkFailed(ctx, record.ID, err); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := r.outbox.MarkSent(ctx, record.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run dispatches on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Dispatch(ctx, 100); err != nil {
				r.logger.Error("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// LogSink writes every envelope to the log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

// Deliver logs env.
func (s *LogSink) Deliver(ctx context.Context, env Envelope) error {
	_ = ctx
	s.logger.Info("event delivered",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("metering_point_id", env.MeteringPointID),
		zap.Time("occurred_at", env.OccurredAt),
		zap.ByteString("payload", env.Payload),
	)
	return nil
}
