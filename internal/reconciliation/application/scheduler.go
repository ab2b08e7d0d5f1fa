package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"supply-billing/internal/logging"
	settlement "supply-billing/internal/settlement/domain"
)

// Scheduler reconciles the previous month for each grid area once a day.
type Scheduler struct {
	runner    *Runner
	gridAreas []string
	hour      int
	minute    int
	now       func() time.Time
	logger    *zap.Logger
}

// NewScheduler constructs a scheduler. dailyAt is "HH:MM" in UTC.
func NewScheduler(runner *Runner, gridAreas []string, dailyAt string, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("reconciliation scheduler: nil runner")
	}
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:    runner,
		gridAreas: append([]string(nil), gridAreas...),
		hour:      hour,
		minute:    minute,
		now:       time.Now,
		logger:    logging.OrNop(logger),
	}, nil
}

// Start blocks, running every day at the configured time until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.gridAreas) == 0 {
		s.logger.Info("reconciliation scheduler disabled: no grid areas")
		return
	}
	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles the month before now for every grid area.
func (s *Scheduler) RunOnce(ctx context.Context) {
	period := PreviousMonth(s.now())
	for _, area := range s.gridAreas {
		if _, err := s.runner.Run(ctx, area, period); err != nil {
			s.logger.Error("scheduled reconciliation failed",
				zap.String("grid_area", area),
				zap.String("period", period.String()),
				zap.Error(err),
			)
		}
	}
}

// NextRun returns the first run time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PreviousMonth returns the calendar month before now in UTC.
func PreviousMonth(now time.Time) settlement.Period {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return settlement.MustPeriod(end.AddDate(0, -1, 0), end)
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("reconciliation scheduler: daily_at %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}
