package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"supply-billing/internal/logging"
)

// MultiNotifier dispatches alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards msg to all notifiers and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

// Notify logs msg at warn level.
func (n *LogNotifier) Notify(_ context.Context, msg AlertMessage) error {
	n.logger.Warn("reconciliation discrepancy",
		zap.String("grid_area", msg.GridArea),
		zap.String("period", msg.Period),
		zap.String("result_id", msg.ResultID),
		zap.String("difference_amount", msg.DifferenceAmount),
		zap.String("difference_percent", msg.DifferencePercent),
		zap.String("report_url", msg.ReportURL),
	)
	return nil
}
