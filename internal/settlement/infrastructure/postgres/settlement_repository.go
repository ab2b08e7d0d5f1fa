package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	settlement "supply-billing/internal/settlement/domain"
)

// SettlementRepository persists settlements and their lines.
type SettlementRepository struct {
	db *sql.DB
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

const settlementColumns = `id, metering_point_id, supply_id, time_series_id, time_series_version,
	period_start, period_end, total_energy_kwh, total_amount, currency, status, is_correction,
	previous_settlement_id, document_number, invoice_reference, invoiced_at, adjusted_at, calculated_at`

// Get loads a settlement or returns settlement.ErrNotFound.
func (r *SettlementRepository) Get(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE id = $1`, string(id))
	s, err := r.load(ctx, row)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: settlement %s", settlement.ErrNotFound, id)
	}
	return s, nil
}

// FindCorrectionOf returns the correction linked to previousID or nil.
func (r *SettlementRepository) FindCorrectionOf(ctx context.Context, previousID settlement.SettlementID) (*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+settlementColumns+`
FROM settlements
WHERE previous_settlement_id = $1`, string(previousID))
	return r.load(ctx, row)
}

// Save upserts a settlement. Lines are written once, with the first save.
func (r *SettlementRepository) Save(ctx context.Context, s *settlement.Settlement) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSettlement(ctx, tx, s); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveCorrection stores correction and the new state of previous in one
// transaction. A second correction of the same settlement is a conflict.
func (r *SettlementRepository) SaveCorrection(ctx context.Context, correction, previous *settlement.Settlement) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if correction == nil || previous == nil {
		return settlement.ErrNilSettlement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSettlement(ctx, tx, previous); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := upsertSettlement(ctx, tx, correction); err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return settlement.ErrCorrectionInProgress
		}
		return err
	}
	return tx.Commit()
}

// NextDocumentNumber draws from the document sequence.
func (r *SettlementRepository) NextDocumentNumber(ctx context.Context) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("settlement repo: nil db")
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('settlement_document_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n), nil
}

func upsertSettlement(ctx context.Context, tx *sql.Tx, s *settlement.Settlement) error {
	var previousID sql.NullString
	if id, ok := s.PreviousSettlementID(); ok {
		previousID = sql.NullString{String: string(id), Valid: true}
	}
	period := s.Period()
	total := s.TotalAmount()
	_, err := tx.ExecContext(ctx, `
INSERT INTO settlements (
	id, metering_point_id, supply_id, time_series_id, time_series_version,
	period_start, period_end, total_energy_kwh, total_amount, currency, status, is_correction,
	previous_settlement_id, document_number, invoice_reference, invoiced_at, adjusted_at, calculated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	invoice_reference = EXCLUDED.invoice_reference,
	invoiced_at = EXCLUDED.invoiced_at,
	adjusted_at = EXCLUDED.adjusted_at`,
		string(s.ID()), s.MeteringPointID(), s.SupplyID(), string(s.TimeSeriesID()), s.TimeSeriesVersion(),
		period.Start(), periodEnd(period), s.TotalEnergy().KWh(), total.Amount, total.Currency, string(s.Status()), s.IsCorrection(),
		previousID, s.DocumentNumber(), s.InvoiceReference(), nullTime(s.InvoicedAt()), nullTime(s.AdjustedAt()), s.CalculatedAt().UTC(),
	)
	if err != nil {
		return err
	}

	// Lines are immutable once written; only the header changes across the lifecycle.
	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlement_lines WHERE settlement_id = $1`, string(s.ID())).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO settlement_lines (
	settlement_id, position, description, price_id, quantity_kwh, unit_price, amount, source
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, line := range s.Lines() {
		var priceID sql.NullString
		if line.PriceID != nil {
			priceID = sql.NullString{String: string(*line.PriceID), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, string(s.ID()), i, line.Description, priceID,
			line.Quantity.KWh(), line.UnitPrice, line.Amount, string(line.Source)); err != nil {
			return err
		}
	}
	return nil
}

func (r *SettlementRepository) load(ctx context.Context, row *sql.Row) (*settlement.Settlement, error) {
	var (
		snap       settlement.SettlementSnapshot
		id         string
		tsID       string
		start      time.Time
		end        sql.NullTime
		energy     decimal.Decimal
		status     string
		previousID sql.NullString
		invoicedAt sql.NullTime
		adjustedAt sql.NullTime
	)
	err := row.Scan(&id, &snap.MeteringPointID, &snap.SupplyID, &tsID, &snap.TimeSeriesVersion,
		&start, &end, &energy, &snap.TotalAmount.Amount, &snap.TotalAmount.Currency, &status, &snap.IsCorrection,
		&previousID, &snap.DocumentNumber, &snap.InvoiceReference, &invoicedAt, &adjustedAt, &snap.CalculatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	period, err := periodFrom(start, end)
	if err != nil {
		return nil, err
	}
	snap.ID = settlement.SettlementID(id)
	snap.TimeSeriesID = settlement.TimeSeriesID(tsID)
	snap.Period = period
	snap.TotalEnergy = settlement.NewEnergy(energy)
	snap.Status = settlement.Status(status)
	snap.InvoicedAt = timePtr(invoicedAt)
	snap.AdjustedAt = timePtr(adjustedAt)
	snap.CalculatedAt = snap.CalculatedAt.UTC()
	if previousID.Valid {
		prev := settlement.SettlementID(previousID.String)
		snap.PreviousSettlementID = &prev
	}
	if snap.Lines, err = r.lines(ctx, snap.ID); err != nil {
		return nil, err
	}
	return settlement.RestoreSettlement(snap), nil
}

func (r *SettlementRepository) lines(ctx context.Context, id settlement.SettlementID) ([]settlement.SettlementLine, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT description, price_id, quantity_kwh, unit_price, amount, source
FROM settlement_lines
WHERE settlement_id = $1
ORDER BY position ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.SettlementLine
	for rows.Next() {
		var (
			line     settlement.SettlementLine
			priceID  sql.NullString
			quantity decimal.Decimal
			source   string
		)
		if err := rows.Scan(&line.Description, &priceID, &quantity, &line.UnitPrice, &line.Amount, &source); err != nil {
			return nil, err
		}
		if priceID.Valid {
			pid := settlement.PriceID(priceID.String)
			line.PriceID = &pid
		}
		line.Quantity = settlement.NewEnergy(quantity)
		line.Source = settlement.LineSource(source)
		result = append(result, line)
	}
	return result, rows.Err()
}
