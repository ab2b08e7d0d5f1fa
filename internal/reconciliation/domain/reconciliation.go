package reconciliation

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	settlement "supply-billing/internal/settlement/domain"
)

var (
	// ErrEmptyGridArea is returned when a reconciliation has no grid area.
	ErrEmptyGridArea = errors.New("reconciliation: empty grid area")
	// ErrNegativeTolerance is returned for a tolerance below zero.
	ErrNegativeTolerance = errors.New("reconciliation: negative tolerance")
	// ErrResultNotFound is returned when a result is not found.
	ErrResultNotFound = errors.New("reconciliation: not found")
)

// DefaultTolerance is the largest absolute difference still reported as Matched.
var DefaultTolerance = decimal.New(1, -2)

// Status is the outcome of a reconciliation.
type Status string

const (
	StatusMatched     Status = "Matched"
	StatusDiscrepancy Status = "Discrepancy"
	StatusPending     Status = "Pending"
)

// ChargeAmount is our settled total for one charge.
type ChargeAmount struct {
	ChargeID string
	Amount   decimal.Decimal
}

// WholesaleLine is one externally reported charge total.
type WholesaleLine struct {
	ChargeID    string
	ChargeType  string
	OwnerID     string
	Amount      decimal.Decimal
	Description string
}

// WholesaleSettlement is the externally reported charge breakdown for a grid area and period.
type WholesaleSettlement struct {
	ID         string
	GridArea   string
	Period     settlement.Period
	Lines      []WholesaleLine
	ReceivedAt time.Time
}

// Line compares one charge across both sides.
type Line struct {
	ChargeID      string
	OurAmount     decimal.Decimal
	DataHubAmount decimal.Decimal
	Difference    decimal.Decimal
}

// Result is one reconciliation run. Only the note changes after creation.
type Result struct {
	id                    string
	gridArea              string
	period                settlement.Period
	ourTotal              decimal.Decimal
	dataHubTotal          *decimal.Decimal
	differenceAmount      decimal.Decimal
	differencePercent     decimal.Decimal
	status                Status
	wholesaleSettlementID *string
	lines                 []Line
	note                  string
	createdAt             time.Time
}

type options struct {
	tolerance decimal.Decimal
	now       func() time.Time
}

// Option configures Reconcile.
type Option func(*options)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(t decimal.Decimal) Option {
	return func(o *options) { o.tolerance = t }
}

// WithNow sets the creation timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Reconcile compares our per-charge totals with the external settlement.
// Without an external settlement the result is Pending and no lines are compared.
func Reconcile(gridArea string, period settlement.Period, ours []ChargeAmount, external *WholesaleSettlement, opts ...Option) (*Result, error) {
	if gridArea == "" {
		return nil, ErrEmptyGridArea
	}
	o := options{tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tolerance.IsNegative() {
		return nil, ErrNegativeTolerance
	}

	result := &Result{
		id:        uuid.NewString(),
		gridArea:  gridArea,
		period:    period,
		createdAt: o.now().UTC(),
	}

	ourByCharge := make(map[string]decimal.Decimal, len(ours))
	for _, c := range ours {
		ourByCharge[c.ChargeID] = ourByCharge[c.ChargeID].Add(c.Amount)
	}
	ourTotal := decimal.Zero
	for _, amount := range ourByCharge {
		ourTotal = ourTotal.Add(amount)
	}
	result.ourTotal = ourTotal

	if external == nil {
		result.status = StatusPending
		return result, nil
	}

	theirByCharge := make(map[string]decimal.Decimal, len(external.Lines))
	for _, l := range external.Lines {
		theirByCharge[l.ChargeID] = theirByCharge[l.ChargeID].Add(l.Amount)
	}

	chargeIDs := make([]string, 0, len(ourByCharge)+len(theirByCharge))
	for id := range ourByCharge {
		chargeIDs = append(chargeIDs, id)
	}
	for id := range theirByCharge {
		if _, ok := ourByCharge[id]; !ok {
			chargeIDs = append(chargeIDs, id)
		}
	}
	sort.Strings(chargeIDs)

	theirTotal := decimal.Zero
	result.lines = make([]Line, 0, len(chargeIDs))
	for _, id := range chargeIDs {
		ourAmount := ourByCharge[id]
		theirAmount := theirByCharge[id]
		theirTotal = theirTotal.Add(theirAmount)
		result.lines = append(result.lines, Line{
			ChargeID:      id,
			OurAmount:     ourAmount,
			DataHubAmount: theirAmount,
			Difference:    ourAmount.Sub(theirAmount),
		})
	}

	diff := ourTotal.Sub(theirTotal)
	result.dataHubTotal = &theirTotal
	result.differenceAmount = diff
	if !theirTotal.IsZero() {
		result.differencePercent = diff.Div(theirTotal).Mul(decimal.NewFromInt(100)).Round(2)
	}
	if external.ID != "" {
		id := external.ID
		result.wholesaleSettlementID = &id
	}
	if diff.Abs().LessThanOrEqual(o.tolerance) {
		result.status = StatusMatched
	} else {
		result.status = StatusDiscrepancy
	}
	return result, nil
}

// SetNote replaces the operator note.
func (r *Result) SetNote(note string) { r.note = note }

func (r *Result) ID() string { return r.id }
func (r *Result) GridArea() string { return r.gridArea }
func (r *Result) Period() settlement.Period { return r.period }
func (r *Result) OurTotal() decimal.Decimal { return r.ourTotal }
func (r *Result) DifferenceAmount() decimal.Decimal { return r.differenceAmount }
func (r *Result) DifferencePercent() decimal.Decimal { return r.differencePercent }
func (r *Result) Status() Status { return r.status }
func (r *Result) Note() string { return r.note }
func (r *Result) CreatedAt() time.Time { return r.createdAt }

// DataHubTotal returns the external total, absent while Pending.
func (r *Result) DataHubTotal() (decimal.Decimal, bool) {
	if r.dataHubTotal == nil {
		return decimal.Zero, false
	}
	return *r.dataHubTotal, true
}

// WholesaleSettlementID returns the compared external settlement id.
func (r *Result) WholesaleSettlementID() (string, bool) {
	if r.wholesaleSettlementID == nil {
		return "", false
	}
	return *r.wholesaleSettlementID, true
}

// Lines returns a copy of the per-charge comparison.
func (r *Result) Lines() []Line {
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// Snapshot is the persisted form of a result.
type Snapshot struct {
	ID                    string
	GridArea              string
	Period                settlement.Period
	OurTotal              decimal.Decimal
	DataHubTotal          *decimal.Decimal
	DifferenceAmount      decimal.Decimal
	DifferencePercent     decimal.Decimal
	Status                Status
	WholesaleSettlementID *string
	Lines                 []Line
	Note                  string
	CreatedAt             time.Time
}

// Snapshot returns a detached copy of the result.
func (r *Result) Snapshot() Snapshot {
	s := Snapshot{
		ID:                r.id,
		GridArea:          r.gridArea,
		Period:            r.period,
		OurTotal:          r.ourTotal,
		DifferenceAmount:  r.differenceAmount,
		DifferencePercent: r.differencePercent,
		Status:            r.status,
		Lines:             r.Lines(),
		Note:              r.note,
		CreatedAt:         r.createdAt,
	}
	if r.dataHubTotal != nil {
		v := *r.dataHubTotal
		s.DataHubTotal = &v
	}
	if r.wholesaleSettlementID != nil {
		v := *r.wholesaleSettlementID
		s.WholesaleSettlementID = &v
	}
	return s
}

// Restore rebuilds a persisted result.
func Restore(s Snapshot) *Result {
	r := &Result{
		id:                s.ID,
		gridArea:          s.GridArea,
		period:            s.Period,
		ourTotal:          s.OurTotal,
		differenceAmount:  s.DifferenceAmount,
		differencePercent: s.DifferencePercent,
		status:            s.Status,
		lines:             append([]Line(nil), s.Lines...),
		note:              s.Note,
		createdAt:         s.CreatedAt,
	}
	if s.DataHubTotal != nil {
		v := *s.DataHubTotal
		r.dataHubTotal = &v
	}
	if s.WholesaleSettlementID != nil {
		v := *s.WholesaleSettlementID
		r.wholesaleSettlementID = &v
	}
	return r
}
