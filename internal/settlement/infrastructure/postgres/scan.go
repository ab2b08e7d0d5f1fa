package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	settlement "supply-billing/internal/settlement/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func periodEnd(p settlement.Period) sql.NullTime {
	end, ok := p.End()
	if !ok {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: end, Valid: true}
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

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
