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

// TimeSeriesRepository persists time series versions and their observations.
type TimeSeriesRepository struct {
	db *sql.DB
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository(db *sql.DB) *TimeSeriesRepository {
	return &TimeSeriesRepository{db: db}
}

const timeSeriesColumns = `id, metering_point_id, period_start, period_end, resolution, version, is_latest, transaction_id, received_at`

// Get returns the version with id or nil.
func (r *TimeSeriesRepository) Get(ctx context.Context, id settlement.TimeSeriesID) (*settlement.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+timeSeriesColumns+`
FROM time_series
WHERE id = $1`, string(id))
	return r.loadOne(ctx, row)
}

// FindLatest returns the latest version or nil.
func (r *TimeSeriesRepository) FindLatest(ctx context.Context, meteringPointID string, period settlement.Period) (*settlement.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+timeSeriesColumns+`
FROM time_series
WHERE metering_point_id = $1 AND period_key = $2 AND is_latest
LIMIT 1`, meteringPointID, period.Key())
	return r.loadOne(ctx, row)
}

// FindByTransaction returns the version created by transactionID or nil.
func (r *TimeSeriesRepository) FindByTransaction(ctx context.Context, meteringPointID string, period settlement.Period, transactionID string) (*settlement.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+timeSeriesColumns+`
FROM time_series
WHERE metering_point_id = $1 AND period_key = $2 AND transaction_id = $3
ORDER BY version ASC
LIMIT 1`, meteringPointID, period.Key(), transactionID)
	return r.loadOne(ctx, row)
}

// ListVersions returns every version, oldest first.
func (r *TimeSeriesRepository) ListVersions(ctx context.Context, meteringPointID string, period settlement.Period) ([]*settlement.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("time series repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+timeSeriesColumns+`
FROM time_series
WHERE metering_point_id = $1 AND period_key = $2
ORDER BY version ASC`, meteringPointID, period.Key())
	if err != nil {
		return nil, err
	}
	var snaps []settlement.TimeSeriesSnapshot
	for rows.Next() {
		snap, err := scanTimeSeries(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	result := make([]*settlement.TimeSeries, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Observations, err = r.observations(ctx, snap.ID); err != nil {
			return nil, err
		}
		result = append(result, settlement.RestoreTimeSeries(snap))
	}
	return result, nil
}

// SaveVersion inserts next with its observations and clears the latest flag of
// previous in one transaction.
func (r *TimeSeriesRepository) SaveVersion(ctx context.Context, next, previous *settlement.TimeSeries) error {
	if r == nil || r.db == nil {
		return errors.New("time series repo: nil db")
	}
	if next == nil {
		return settlement.ErrNilTimeSeries
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if previous != nil {
		if _, err := tx.ExecContext(ctx, `
UPDATE time_series SET is_latest = $1 WHERE id = $2`, previous.IsLatest(), string(previous.ID())); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	period := next.Period()
	_, err = tx.ExecContext(ctx, `
INSERT INTO time_series (
	id, metering_point_id, period_key, period_start, period_end, resolution, version, is_latest, transaction_id, received_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		string(next.ID()), next.MeteringPointID(), period.Key(), period.Start(), periodEnd(period),
		string(next.Resolution()), next.Version(), next.IsLatest(), next.TransactionID(), next.ReceivedAt().UTC(),
	)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: time series version %d exists", settlement.ErrConflict, next.Version())
		}
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO time_series_observations (time_series_id, observed_at, quantity_kwh, quality)
VALUES ($1,$2,$3,$4)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, o := range next.Observations() {
		if _, err := stmt.ExecContext(ctx, string(next.ID()), o.Timestamp.UTC(), o.Quantity.KWh(), string(o.Quality)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	_ = stmt.Close()
	return tx.Commit()
}

func (r *TimeSeriesRepository) loadOne(ctx context.Context, row *sql.Row) (*settlement.TimeSeries, error) {
	snap, err := scanTimeSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Observations, err = r.observations(ctx, snap.ID); err != nil {
		return nil, err
	}
	return settlement.RestoreTimeSeries(snap), nil
}

func (r *TimeSeriesRepository) observations(ctx context.Context, id settlement.TimeSeriesID) ([]settlement.Observation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT observed_at, quantity_kwh, quality
FROM time_series_observations
WHERE time_series_id = $1
ORDER BY observed_at ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Observation
	for rows.Next() {
		var (
			at       time.Time
			quantity decimal.Decimal
			quality  string
		)
		if err := rows.Scan(&at, &quantity, &quality); err != nil {
			return nil, err
		}
		result = append(result, settlement.Observation{
			Timestamp: at.UTC(),
			Quantity:  settlement.NewEnergy(quantity),
			Quality:   settlement.Quality(quality),
		})
	}
	return result, rows.Err()
}

func scanTimeSeries(row rowScanner) (settlement.TimeSeriesSnapshot, error) {
	var (
		snap       settlement.TimeSeriesSnapshot
		id         string
		start      time.Time
		end        sql.NullTime
		resolution string
		receivedAt time.Time
	)
	if err := row.Scan(&id, &snap.MeteringPointID, &start, &end, &resolution, &snap.Version, &snap.IsLatest, &snap.TransactionID, &receivedAt); err != nil {
		return snap, err
	}
	period, err := periodFrom(start, end)
	if err != nil {
		return snap, err
	}
	snap.ID = settlement.TimeSeriesID(id)
	snap.Period = period
	snap.Resolution = settlement.Resolution(resolution)
	snap.ReceivedAt = receivedAt.UTC()
	return snap, nil
}
