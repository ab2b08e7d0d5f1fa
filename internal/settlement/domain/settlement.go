package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementID identifies a settlement document.
type SettlementID string

// Status is the settlement lifecycle state.
type Status string

const (
	StatusCalculated Status = "Calculated"
	StatusInvoiced   Status = "Invoiced"
	StatusAdjusted   Status = "Adjusted"
	StatusMigrated   Status = "Migrated"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusCalculated, StatusInvoiced, StatusAdjusted, StatusMigrated:
		return true
	}
	return false
}

// IsBilled reports whether a correction may be anchored to a settlement in this state.
func (s Status) IsBilled() bool {
	return s == StatusInvoiced || s == StatusMigrated
}

// Settlement is a priced bill for one supply over a period, or a correction delta
// against an earlier settlement.
// Invariants:
// 1) totalAmount equals the sum of line amounts.
// 2) totalEnergy reflects the whole time series, not the lines produced.
// 3) After creation only the lifecycle transitions mutate it.
type Settlement struct {
	id                   SettlementID
	meteringPointID      string
	supplyID             string
	timeSeriesID         TimeSeriesID
	timeSeriesVersion    int
	period               Period
	lines                []SettlementLine
	totalEnergy          EnergyQuantity
	totalAmount          Money
	status               Status
	isCorrection         bool
	previousSettlementID *SettlementID
	documentNumber       string
	invoiceReference     string
	invoicedAt           *time.Time
	adjustedAt           *time.Time
	calculatedAt         time.Time
}

// SettlementSnapshot is the persisted form of a settlement.
type SettlementSnapshot struct {
	ID                   SettlementID
	MeteringPointID      string
	SupplyID             string
	TimeSeriesID         TimeSeriesID
	TimeSeriesVersion    int
	Period               Period
	Lines                []SettlementLine
	TotalEnergy          EnergyQuantity
	TotalAmount          Money
	Status               Status
	IsCorrection         bool
	PreviousSettlementID *SettlementID
	DocumentNumber       string
	InvoiceReference     string
	InvoicedAt           *time.Time
	AdjustedAt           *time.Time
	CalculatedAt         time.Time
}

// RestoreSettlement rebuilds a persisted settlement.
func RestoreSettlement(s SettlementSnapshot) *Settlement {
	return &Settlement{
		id:                   s.ID,
		meteringPointID:      s.MeteringPointID,
		supplyID:             s.SupplyID,
		timeSeriesID:         s.TimeSeriesID,
		timeSeriesVersion:    s.TimeSeriesVersion,
		period:               s.Period,
		lines:                copyLines(s.Lines),
		totalEnergy:          s.TotalEnergy,
		totalAmount:          s.TotalAmount,
		status:               s.Status,
		isCorrection:         s.IsCorrection,
		previousSettlementID: copyID(s.PreviousSettlementID),
		documentNumber:       s.DocumentNumber,
		invoiceReference:     s.InvoiceReference,
		invoicedAt:           copyTime(s.InvoicedAt),
		adjustedAt:           copyTime(s.AdjustedAt),
		calculatedAt:         s.CalculatedAt,
	}
}

// Snapshot returns a detached copy of the settlement.
func (s *Settlement) Snapshot() SettlementSnapshot {
	return SettlementSnapshot{
		ID:                   s.id,
		MeteringPointID:      s.meteringPointID,
		SupplyID:             s.supplyID,
		TimeSeriesID:         s.timeSeriesID,
		TimeSeriesVersion:    s.timeSeriesVersion,
		Period:               s.period,
		Lines:                copyLines(s.lines),
		TotalEnergy:          s.totalEnergy,
		TotalAmount:          s.totalAmount,
		Status:               s.status,
		IsCorrection:         s.isCorrection,
		PreviousSettlementID: copyID(s.previousSettlementID),
		DocumentNumber:       s.documentNumber,
		InvoiceReference:     s.invoiceReference,
		InvoicedAt:           copyTime(s.invoicedAt),
		AdjustedAt:           copyTime(s.adjustedAt),
		CalculatedAt:         s.calculatedAt,
	}
}

// MigratedSettlement is a settlement imported from the legacy billing system.
type MigratedSettlement struct {
	ID                SettlementID
	MeteringPointID   string
	SupplyID          string
	TimeSeriesVersion int
	Period            Period
	Lines             []SettlementLine
	TotalEnergy       EnergyQuantity
	Currency          string
	DocumentNumber    string
	InvoiceReference  string
	InvoicedAt        time.Time
	ImportedAt        time.Time
}

// NewMigratedSettlement creates a settlement in the Migrated state. It already
// carries its external invoice reference and invoice time.
func NewMigratedSettlement(m MigratedSettlement) (*Settlement, error) {
	if m.MeteringPointID == "" {
		return nil, ErrEmptyMeteringPointID
	}
	if m.Period.IsZero() {
		return nil, ErrZeroTimestamp
	}
	if m.InvoiceReference == "" {
		return nil, ErrEmptyInvoiceReference
	}
	if m.InvoicedAt.IsZero() {
		return nil, ErrZeroTimestamp
	}
	id := m.ID
	if id == "" {
		id = SettlementID(uuid.NewString())
	}
	lines := copyLines(m.Lines)
	for i := range lines {
		if lines[i].Source == "" {
			lines[i].Source = SourceMigrated
		}
		lines[i].Amount = RoundAmount(lines[i].Amount)
	}
	importedAt := m.ImportedAt
	if importedAt.IsZero() {
		importedAt = m.InvoicedAt
	}
	invoicedAt := m.InvoicedAt.UTC()
	return &Settlement{
		id:                id,
		meteringPointID:   m.MeteringPointID,
		supplyID:          m.SupplyID,
		timeSeriesVersion: m.TimeSeriesVersion,
		period:            m.Period,
		lines:             lines,
		totalEnergy:       m.TotalEnergy,
		totalAmount:       sumLines(lines, m.Currency),
		status:            StatusMigrated,
		documentNumber:    m.DocumentNumber,
		invoiceReference:  m.InvoiceReference,
		invoicedAt:        &invoicedAt,
		calculatedAt:      importedAt.UTC(),
	}, nil
}

// MarkInvoiced records the external invoice reference. Invoicing twice is a conflict.
func (s *Settlement) MarkInvoiced(reference string, at time.Time) error {
	if reference == "" {
		return ErrEmptyInvoiceReference
	}
	switch s.status {
	case StatusInvoiced:
		return ErrAlreadyInvoiced
	case StatusAdjusted:
		return ErrInvoiceAfterAdjust
	}
	at = at.UTC()
	s.status = StatusInvoiced
	s.invoiceReference = reference
	s.invoicedAt = &at
	return nil
}

// MarkAdjusted records that a correction has been issued against this settlement.
func (s *Settlement) MarkAdjusted(at time.Time) error {
	switch s.status {
	case StatusInvoiced, StatusMigrated:
	case StatusAdjusted:
		return ErrAlreadyAdjusted
	default:
		return ErrNotInvoiced
	}
	at = at.UTC()
	s.status = StatusAdjusted
	s.adjustedAt = &at
	return nil
}

func (s *Settlement) ID() SettlementID { return s.id }
func (s *Settlement) MeteringPointID() string { return s.meteringPointID }
func (s *Settlement) SupplyID() string { return s.supplyID }
func (s *Settlement) TimeSeriesID() TimeSeriesID { return s.timeSeriesID }
func (s *Settlement) TimeSeriesVersion() int { return s.timeSeriesVersion }
func (s *Settlement) Period() Period { return s.period }
func (s *Settlement) TotalEnergy() EnergyQuantity { return s.totalEnergy }
func (s *Settlement) TotalAmount() Money { return s.totalAmount }
func (s *Settlement) Status() Status { return s.status }
func (s *Settlement) IsCorrection() bool { return s.isCorrection }
func (s *Settlement) DocumentNumber() string { return s.documentNumber }
func (s *Settlement) InvoiceReference() string { return s.invoiceReference }
func (s *Settlement) CalculatedAt() time.Time { return s.calculatedAt }
func (s *Settlement) Currency() string { return s.totalAmount.Currency }

// Lines returns a copy of the settlement lines.
func (s *Settlement) Lines() []SettlementLine { return copyLines(s.lines) }

// PreviousSettlementID returns the settlement this one corrects.
func (s *Settlement) PreviousSettlementID() (SettlementID, bool) {
	if s.previousSettlementID == nil {
		return "", false
	}
	return *s.previousSettlementID, true
}

// InvoicedAt returns the invoice time when set.
func (s *Settlement) InvoicedAt() (time.Time, bool) {
	if s.invoicedAt == nil {
		return time.Time{}, false
	}
	return *s.invoicedAt, true
}

// AdjustedAt returns the adjustment time when set.
func (s *Settlement) AdjustedAt() (time.Time, bool) {
	if s.adjustedAt == nil {
		return time.Time{}, false
	}
	return *s.adjustedAt, true
}

// AssignDocumentNumber sets the document number of a settlement calculated without one.
func (s *Settlement) AssignDocumentNumber(number string) error {
	if s.documentNumber != "" {
		return fmt.Errorf("%w: %s", ErrDocumentNumbered, s.documentNumber)
	}
	s.documentNumber = number
	return nil
}

// sumLines totals rounded line amounts.
func sumLines(lines []SettlementLine, currency string) Money {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return NewMoney(total, currency)
}

func copyLines(lines []SettlementLine) []SettlementLine {
	out := make([]SettlementLine, len(lines))
	for i, l := range lines {
		if l.PriceID != nil {
			l.PriceID = priceIDPtr(*l.PriceID)
		}
		out[i] = l
	}
	return out
}

func copyID(id *SettlementID) *SettlementID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
