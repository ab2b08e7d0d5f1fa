package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"supply-billing/internal/audit"
	"supply-billing/internal/config"
	"supply-billing/internal/logging"
	reconciliation "supply-billing/internal/reconciliation/domain"
	"supply-billing/internal/reconciliation/metrics"
	"supply-billing/internal/reconciliation/notify"
	settlement "supply-billing/internal/settlement/domain"
)

const recommendedAction = "Compare the per-charge lines and correct the affected settlements."

// Runner reconciles our settled charge totals with the wholesale settlement of a grid area.
type Runner struct {
	repo     reconciliation.Repository
	ours     reconciliation.OurChargeTotalsReader
	external reconciliation.WholesaleSettlementSource
	cfg      config.ReconciliationConfig
	notifier notify.Notifier
	audit    audit.Logger
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNotifier sends discrepancy alerts through notifier.
func WithNotifier(notifier notify.Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = notifier }
}

// WithRunnerAudit records operator notes in the audit trail.
func WithRunnerAudit(logger audit.Logger) RunnerOption {
	return func(r *Runner) { r.audit = logger }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logging.OrNop(logger) }
}

// WithRunnerNow sets the clock.
func WithRunnerNow(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a runner. external may be nil, every run is then Pending.
func NewRunner(
	repo reconciliation.Repository,
	ours reconciliation.OurChargeTotalsReader,
	external reconciliation.WholesaleSettlementSource,
	cfg config.ReconciliationConfig,
	opts ...RunnerOption,
) (*Runner, error) {
	if repo == nil {
		return nil, errors.New("reconciliation runner: nil repository")
	}
	if ours == nil {
		return nil, errors.New("reconciliation runner: nil charge totals reader")
	}
	r := &Runner{
		repo:     repo,
		ours:     ours,
		external: external,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run reconciles gridArea over period, stores the result and writes its report.
// A Discrepancy above the grid area's notify threshold is sent to the notifier.
func (r *Runner) Run(ctx context.Context, gridArea string, period settlement.Period) (result *reconciliation.Result, err error) {
	start := r.now()
	defer func() { r.observeRun(result, err, start) }()

	if gridArea == "" {
		return nil, reconciliation.ErrEmptyGridArea
	}
	if period.IsOpenEnded() {
		return nil, errors.New("reconciliation runner: open ended period")
	}

	ours, err := r.ours.ChargeTotals(ctx, gridArea, period)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load charge totals: %w", err)
	}
	var external *reconciliation.WholesaleSettlement
	if r.external != nil {
		external, err = r.external.FindWholesaleSettlement(ctx, gridArea, period)
		if err != nil {
			return nil, fmt.Errorf("reconcile: load wholesale settlement: %w", err)
		}
	}

	tolerance := r.cfg.ToleranceFor(gridArea)
	result, err = reconciliation.Reconcile(gridArea, period, ours, external,
		reconciliation.WithTolerance(tolerance.Amount),
		reconciliation.WithNow(r.now),
	)
	if err != nil {
		return nil, err
	}
	if err := r.repo.Save(ctx, result); err != nil {
		return nil, fmt.Errorf("reconcile: save: %w", err)
	}

	reportPath, err := r.writeReport(result)
	if err != nil {
		r.logger.Warn("reconciliation report failed", zap.String("result_id", result.ID()), zap.Error(err))
	}

	r.logger.Info("reconciliation finished",
		zap.String("result_id", result.ID()),
		zap.String("grid_area", gridArea),
		zap.String("period", period.String()),
		zap.String("status", string(result.Status())),
		zap.String("difference", result.DifferenceAmount().StringFixed(2)),
	)

	if result.Status() == reconciliation.StatusDiscrepancy && r.shouldNotify(result, tolerance) {
		r.notify(ctx, result, reportPath)
	}
	return result, nil
}

// AddNote replaces the operator note of a stored result.
func (r *Runner) AddNote(ctx context.Context, id, note string) error {
	if id == "" {
		return reconciliation.ErrResultNotFound
	}
	note = strings.TrimSpace(note)
	if err := r.repo.UpdateNote(ctx, id, note); err != nil {
		return err
	}
	if r.audit != nil {
		entry := audit.NewEntry(ctx, audit.ActionReconcileNote, "reconciliation_result", id, map[string]any{"note": note})
		entry.CreatedAt = r.now().UTC()
		if err := r.audit.Log(ctx, entry); err != nil {
			r.logger.Error("audit log failed", zap.String("result_id", id), zap.Error(err))
		}
	}
	return nil
}

// Get returns a stored result.
func (r *Runner) Get(ctx context.Context, id string) (*reconciliation.Result, error) {
	return r.repo.Get(ctx, id)
}

// ReportPath returns where the report of result is written.
func (r *Runner) ReportPath(result *reconciliation.Result) string {
	return filepath.Join(r.cfg.ReportRoot, result.GridArea(), periodDir(result.Period()), result.ID()+".xlsx")
}

func (r *Runner) writeReport(result *reconciliation.Result) (string, error) {
	path := r.ReportPath(result)
	if err := writeReport(path, result); err != nil {
		return "", err
	}
	if r.metrics != nil {
		r.metrics.ReportsTotal.Inc()
	}
	return path, nil
}

func (r *Runner) shouldNotify(result *reconciliation.Result, tolerance config.Tolerance) bool {
	if r.notifier == nil {
		return false
	}
	if !tolerance.NotifyPercent.IsPositive() {
		return true
	}
	return result.DifferencePercent().Abs().GreaterThanOrEqual(tolerance.NotifyPercent)
}

func (r *Runner) notify(ctx context.Context, result *reconciliation.Result, reportPath string) {
	msg := notify.AlertMessage{
		GridArea:          result.GridArea(),
		Period:            result.Period().Key(),
		ResultID:          result.ID(),
		Status:            string(result.Status()),
		DifferenceAmount:  result.DifferenceAmount().StringFixed(2),
		DifferencePercent: result.DifferencePercent().StringFixed(2),
		Summary: map[string]any{
			"our_total":  result.OurTotal().StringFixed(2),
			"line_count": len(result.Lines()),
		},
		RecommendedAction: recommendedAction,
	}
	if total, ok := result.DataHubTotal(); ok {
		msg.Summary["wholesale_total"] = total.StringFixed(2)
	}
	if reportPath != "" && r.cfg.PublicBaseURL != "" {
		msg.ReportURL = strings.TrimRight(r.cfg.PublicBaseURL, "/") + "/reports/reconciliation/" + result.ID()
	}

	status := "success"
	if err := r.notifier.Notify(ctx, msg); err != nil {
		status = "error"
		r.logger.Warn("reconciliation notification failed", zap.String("result_id", result.ID()), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.NotificationsTotal.WithLabelValues(status).Inc()
	}
}

func (r *Runner) observeRun(result *reconciliation.Result, err error, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RunDuration.Observe(r.now().Sub(start).Seconds())
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues("error").Inc()
		return
	}
	r.metrics.RunsTotal.WithLabelValues(strings.ToLower(string(result.Status()))).Inc()
	diff, _ := result.DifferenceAmount().Float64()
	r.metrics.DifferenceAmount.WithLabelValues(result.GridArea()).Set(diff)
	if result.Status() == reconciliation.StatusDiscrepancy {
		r.metrics.DiscrepanciesTotal.WithLabelValues(result.GridArea()).Inc()
	}
}

func periodDir(p settlement.Period) string {
	end, _ := p.End()
	return p.Start().UTC().Format("20060102") + "-" + end.UTC().Format("20060102")
}
