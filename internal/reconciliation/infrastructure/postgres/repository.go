package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	reconciliation "supply-billing/internal/reconciliation/domain"
	settlement "supply-billing/internal/settlement/domain"
)

// ResultRepository persists reconciliation results.
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository constructs a repository.
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save inserts result with its lines.
func (r *ResultRepository) Save(ctx context.Context, result *reconciliation.Result) error {
	if r == nil || r.db == nil {
		return errors.New("reconciliation repo: nil db")
	}
	if result == nil {
		return errors.New("reconciliation repo: nil result")
	}
	s := result.Snapshot()
	end, hasEnd := s.Period.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO reconciliation_results (
	id, grid_area, period_start, period_end, our_total, datahub_total,
	difference_amount, difference_percent, status, wholesale_settlement_id, note, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`,
		s.ID, s.GridArea, s.Period.Start().UTC(), nullTime(end, hasEnd), s.OurTotal, nullDecimal(s.DataHubTotal),
		s.DifferenceAmount, s.DifferencePercent, string(s.Status), nullString(s.WholesaleSettlementID), s.Note, s.CreatedAt.UTC(),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, line := range s.Lines {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO reconciliation_lines (result_id, charge_id, our_amount, datahub_amount, difference)
VALUES ($1,$2,$3,$4,$5)`, s.ID, line.ChargeID, line.OurAmount, line.DataHubAmount, line.Difference); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Get returns a stored result or reconciliation.ErrResultNotFound.
func (r *ResultRepository) Get(ctx context.Context, id string) (*reconciliation.Result, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reconciliation repo: nil db")
	}
	var (
		s            reconciliation.Snapshot
		start        time.Time
		end          sql.NullTime
		datahubTotal decimal.NullDecimal
		status       string
		wholesaleID  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, grid_area, period_start, period_end, our_total, datahub_total,
	difference_amount, difference_percent, status, wholesale_settlement_id, note, created_at
FROM reconciliation_results
WHERE id = $1`, id).Scan(
		&s.ID, &s.GridArea, &start, &end, &s.OurTotal, &datahubTotal,
		&s.DifferenceAmount, &s.DifferencePercent, &status, &wholesaleID, &s.Note, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reconciliation.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Period, err = periodFrom(start, end)
	if err != nil {
		return nil, err
	}
	s.Status = reconciliation.Status(status)
	s.CreatedAt = s.CreatedAt.UTC()
	if datahubTotal.Valid {
		v := datahubTotal.Decimal
		s.DataHubTotal = &v
	}
	if wholesaleID.Valid {
		v := wholesaleID.String
		s.WholesaleSettlementID = &v
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT charge_id, our_amount, datahub_amount, difference
FROM reconciliation_lines
WHERE result_id = $1
ORDER BY charge_id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line reconciliation.Line
		if err := rows.Scan(&line.ChargeID, &line.OurAmount, &line.DataHubAmount, &line.Difference); err != nil {
			return nil, err
		}
		s.Lines = append(s.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reconciliation.Restore(s), nil
}

// UpdateNote replaces the note of a stored result.
func (r *ResultRepository) UpdateNote(ctx context.Context, id, note string) error {
	if r == nil || r.db == nil {
		return errors.New("reconciliation repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE reconciliation_results
SET note = $1
WHERE id = $2`, note, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reconciliation.ErrResultNotFound
	}
	return nil
}

// WholesaleSettlementRepository stores the wholesale settlements received for grid areas.
type WholesaleSettlementRepository struct {
	db *sql.DB
}

// NewWholesaleSettlementRepository constructs a repository.
func NewWholesaleSettlementRepository(db *sql.DB) *WholesaleSettlementRepository {
	return &WholesaleSettlementRepository{db: db}
}

// Save replaces the wholesale settlement of the same grid area and period.
func (r *WholesaleSettlementRepository) Save(ctx context.Context, ws reconciliation.WholesaleSettlement) error {
	if r == nil || r.db == nil {
		return errors.New("wholesale repo: nil db")
	}
	if ws.GridArea == "" {
		return reconciliation.ErrEmptyGridArea
	}
	end, ok := ws.Period.End()
	if !ok {
		return fmt.Errorf("wholesale repo: open ended period %s", ws.Period)
	}
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if ws.ReceivedAt.IsZero() {
		ws.ReceivedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM wholesale_settlements
WHERE grid_area = $1 AND period_start = $2 AND period_end = $3`,
		ws.GridArea, ws.Period.Start().UTC(), end.UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO wholesale_settlements (id, grid_area, period_start, period_end, received_at)
VALUES ($1,$2,$3,$4,$5)`,
		ws.ID, ws.GridArea, ws.Period.Start().UTC(), end.UTC(), ws.ReceivedAt.UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, line := range ws.Lines {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO wholesale_settlement_lines (
	wholesale_settlement_id, position, charge_id, charge_type, owner_id, amount, description
) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ws.ID, i, line.ChargeID, line.ChargeType, line.OwnerID, line.Amount, line.Description); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FindWholesaleSettlement returns the settlement of gridArea and period, or nil.
func (r *WholesaleSettlementRepository) FindWholesaleSettlement(ctx context.Context, gridArea string, period settlement.Period) (*reconciliation.WholesaleSettlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("wholesale repo: nil db")
	}
	end, ok := period.End()
	if !ok {
		return nil, nil
	}
	ws := reconciliation.WholesaleSettlement{GridArea: gridArea, Period: period}
	err := r.db.QueryRowContext(ctx, `
SELECT id, received_at
FROM wholesale_settlements
WHERE grid_area = $1 AND period_start = $2 AND period_end = $3`,
		gridArea, period.Start().UTC(), end.UTC()).Scan(&ws.ID, &ws.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ws.ReceivedAt = ws.ReceivedAt.UTC()

	rows, err := r.db.QueryContext(ctx, `
SELECT charge_id, charge_type, owner_id, amount, description
FROM wholesale_settlement_lines
WHERE wholesale_settlement_id = $1
ORDER BY position ASC`, ws.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line reconciliation.WholesaleLine
		if err := rows.Scan(&line.ChargeID, &line.ChargeType, &line.OwnerID, &line.Amount, &line.Description); err != nil {
			return nil, err
		}
		ws.Lines = append(ws.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ws, nil
}

// ChargeTotalsReader sums our settled DataHub charge lines per charge id.
type ChargeTotalsReader struct {
	db *sql.DB
}

// NewChargeTotalsReader constructs a reader.
func NewChargeTotalsReader(db *sql.DB) *ChargeTotalsReader {
	return &ChargeTotalsReader{db: db}
}

// AssignGridArea records the grid area a metering point belongs to.
func (r *ChargeTotalsReader) AssignGridArea(ctx context.Context, meteringPointID, gridArea string) error {
	if r == nil || r.db == nil {
		return errors.New("charge totals reader: nil db")
	}
	if meteringPointID == "" || gridArea == "" {
		return errors.New("charge totals reader: empty metering point or grid area")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO metering_point_grid_areas (metering_point_id, grid_area, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (metering_point_id)
DO UPDATE SET grid_area = EXCLUDED.grid_area, updated_at = EXCLUDED.updated_at`,
		meteringPointID, gridArea, time.Now().UTC())
	return err
}

// ChargeTotals sums originals and corrections of settlements starting inside period.
// Migrated lines count when their price id resolves to a charge, since
// corrections of migrated settlements are deltas against those lines.
func (r *ChargeTotalsReader) ChargeTotals(ctx context.Context, gridArea string, period settlement.Period) ([]reconciliation.ChargeAmount, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge totals reader: nil db")
	}
	end, ok := period.End()
	if !ok {
		return nil, fmt.Errorf("charge totals reader: open ended period %s", period)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT p.charge_id, SUM(l.amount)
FROM settlement_lines l
JOIN settlements s ON s.id = l.settlement_id
JOIN prices p ON p.id = l.price_id
JOIN metering_point_grid_areas g ON g.metering_point_id = s.metering_point_id
WHERE g.grid_area = $1
	AND s.period_start >= $2
	AND s.period_start < $3
	AND l.source IN ($4, $5)
GROUP BY p.charge_id
ORDER BY p.charge_id ASC`,
		gridArea, period.Start().UTC(), end.UTC(),
		string(settlement.SourceDataHubCharge), string(settlement.SourceMigrated))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reconciliation.ChargeAmount
	for rows.Next() {
		var c reconciliation.ChargeAmount
		if err := rows.Scan(&c.ChargeID, &c.Amount); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func periodFrom(start time.Time, end sql.NullTime) (settlement.Period, error) {
	if !end.Valid {
		return settlement.NewOpenPeriod(start.UTC())
	}
	return settlement.NewPeriod(start.UTC(), end.Time.UTC())
}

func nullTime(t time.Time, ok bool) sql.NullTime {
	if !ok {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
