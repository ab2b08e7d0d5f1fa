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

// PriceRepository persists prices, their points and metering point links.
type PriceRepository struct {
	db *sql.DB
}

// NewPriceRepository constructs a repository.
func NewPriceRepository(db *sql.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

const priceColumns = `id, charge_id, owner_id, price_type, description, validity_start, validity_end,
	vat_exempt, is_tax, is_pass_through, resolution, category`

// Get loads a price or returns settlement.ErrNotFound.
func (r *PriceRepository) Get(ctx context.Context, id settlement.PriceID) (*settlement.Price, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("price repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+priceColumns+`
FROM prices
WHERE id = $1`, string(id))
	attrs, err := scanPriceAttributes(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: price %s", settlement.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	points, err := loadPoints(ctx, r.db, `
SELECT starts_at, value FROM price_points WHERE price_id = $1 ORDER BY starts_at ASC`, string(id))
	if err != nil {
		return nil, err
	}
	return settlement.RestorePrice(id, attrs, points)
}

// Save upserts the price and replaces its points.
func (r *PriceRepository) Save(ctx context.Context, price *settlement.Price) error {
	if r == nil || r.db == nil {
		return errors.New("price repo: nil db")
	}
	if price == nil {
		return errors.New("price repo: nil price")
	}
	a := price.Attributes()
	validity := a.Validity
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO prices (
	id, charge_id, owner_id, price_type, description, validity_start, validity_end,
	vat_exempt, is_tax, is_pass_through, resolution, category, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
ON CONFLICT (id) DO UPDATE SET
	charge_id = EXCLUDED.charge_id,
	owner_id = EXCLUDED.owner_id,
	price_type = EXCLUDED.price_type,
	description = EXCLUDED.description,
	validity_start = EXCLUDED.validity_start,
	validity_end = EXCLUDED.validity_end,
	vat_exempt = EXCLUDED.vat_exempt,
	is_tax = EXCLUDED.is_tax,
	is_pass_through = EXCLUDED.is_pass_through,
	resolution = EXCLUDED.resolution,
	category = EXCLUDED.category,
	updated_at = NOW()`,
		string(price.ID()), a.ChargeID, a.OwnerID, string(a.Type), a.Description, validity.Start(), periodEnd(validity),
		a.VATExempt, a.IsTax, a.IsPassThrough, string(a.Resolution), string(a.Category),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := replacePoints(ctx, tx, "price_points", "price_id", string(price.ID()), price.Points().All()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Link makes id apply to meteringPointID.
func (r *PriceRepository) Link(ctx context.Context, meteringPointID string, id settlement.PriceID) error {
	if r == nil || r.db == nil {
		return errors.New("price repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO metering_point_prices (metering_point_id, price_id)
VALUES ($1,$2)
ON CONFLICT DO NOTHING`, meteringPointID, string(id))
	return err
}

// ListForMeteringPoint returns the linked prices in link order.
func (r *PriceRepository) ListForMeteringPoint(ctx context.Context, meteringPointID string) ([]*settlement.Price, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("price repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT price_id
FROM metering_point_prices
WHERE metering_point_id = $1
ORDER BY linked_at ASC, price_id ASC`, meteringPointID)
	if err != nil {
		return nil, err
	}
	var ids []settlement.PriceID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, settlement.PriceID(id))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	result := make([]*settlement.Price, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// RateSeriesRepository persists spot and margin series.
type RateSeriesRepository struct {
	db *sql.DB
}

// NewRateSeriesRepository constructs a repository.
func NewRateSeriesRepository(db *sql.DB) *RateSeriesRepository {
	return &RateSeriesRepository{db: db}
}

// GetSeries returns the series for key or nil.
func (r *RateSeriesRepository) GetSeries(ctx context.Context, key string) (*settlement.RateSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rate series repo: nil db")
	}
	var description, category, resolution string
	err := r.db.QueryRowContext(ctx, `
SELECT description, category, resolution
FROM rate_series
WHERE series_key = $1`, key).Scan(&description, &category, &resolution)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	points, err := loadPoints(ctx, r.db, `
SELECT starts_at, value FROM rate_series_points WHERE series_key = $1 ORDER BY starts_at ASC`, key)
	if err != nil {
		return nil, err
	}
	return &settlement.RateSeries{
		Key:         key,
		Description: description,
		Category:    settlement.PriceCategory(category),
		Resolution:  settlement.Resolution(resolution),
		Points:      settlement.NewPricePoints(points...),
	}, nil
}

// SaveSeries upserts the series and replaces its points.
func (r *RateSeriesRepository) SaveSeries(ctx context.Context, series *settlement.RateSeries) error {
	if r == nil || r.db == nil {
		return errors.New("rate series repo: nil db")
	}
	if series == nil || series.Key == "" {
		return fmt.Errorf("%w: empty series key", settlement.ErrPrecondition)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO rate_series (series_key, description, category, resolution)
VALUES ($1,$2,$3,$4)
ON CONFLICT (series_key) DO UPDATE SET
	description = EXCLUDED.description,
	category = EXCLUDED.category,
	resolution = EXCLUDED.resolution`,
		series.Key, series.Description, string(series.Category), string(series.Resolution))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := replacePoints(ctx, tx, "rate_series_points", "series_key", series.Key, series.Points.All()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func loadPoints(ctx context.Context, db *sql.DB, query string, arg any) ([]settlement.PricePoint, error) {
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []settlement.PricePoint
	for rows.Next() {
		var (
			at    time.Time
			value decimal.Decimal
		)
		if err := rows.Scan(&at, &value); err != nil {
			return nil, err
		}
		points = append(points, settlement.PricePoint{Timestamp: at.UTC(), Value: value})
	}
	return points, rows.Err()
}

// replacePoints rewrites every point of one owner. table and ownerColumn are constants.
func replacePoints(ctx context.Context, tx *sql.Tx, table, ownerColumn, owner string, points []settlement.PricePoint) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+ownerColumn+` = $1`, owner); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (`+ownerColumn+`, starts_at, value) VALUES ($1,$2,$3)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, owner, p.Timestamp.UTC(), p.Value); err != nil {
			return err
		}
	}
	return nil
}

func scanPriceAttributes(row rowScanner) (settlement.PriceAttributes, error) {
	var (
		a                     settlement.PriceAttributes
		id                    string
		priceType, resolution string
		category              string
		start                 time.Time
		end                   sql.NullTime
	)
	if err := row.Scan(&id, &a.ChargeID, &a.OwnerID, &priceType, &a.Description, &start, &end,
		&a.VATExempt, &a.IsTax, &a.IsPassThrough, &resolution, &category); err != nil {
		return a, err
	}
	validity, err := periodFrom(start, end)
	if err != nil {
		return a, err
	}
	a.Type = settlement.PriceType(priceType)
	a.Resolution = settlement.Resolution(resolution)
	a.Category = settlement.PriceCategory(category)
	a.Validity = validity
	return a, nil
}
