package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"supply-billing/internal/eventing"
)

const (
	defaultOutboxTable  = "settlement_outbox"
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 30 * time.Second
	maxErrorLength      = 500
)

// Outbox statuses. A record is dead once it has failed maxAttempts times.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusDead    = "dead"
)

// OutboxStore keeps settlement events in Postgres until the relay delivers them.
// Envelope metadata lives in its own columns so pending events can be queried
// by metering point without decoding payloads.
type OutboxStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithMaxAttempts sets how many failed deliveries make a record dead.
func WithMaxAttempts(n int) OutboxOption {
	return func(store *OutboxStore) {
		if n > 0 {
			store.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the delay per failed attempt before a record is due again.
func WithRetryBackoff(d time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if d >= 0 {
			store.backoff = d
		}
	}
}

// WithOutboxClock overrides the clock.
func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(store *OutboxStore) {
		if now != nil {
			store.now = now
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{
		db:          db,
		table:       defaultOutboxTable,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert stores env as due now. A repeated event id is ignored.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	if env.EventID == "" {
		return "", errors.New("outbox store: empty event id")
	}
	if len(env.Payload) == 0 {
		return "", fmt.Errorf("outbox store: event %s has no payload", env.EventID)
	}
	now := s.now().UTC()
	outboxID := uuid.NewString()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, event_id, event_type, correlation_id, metering_point_id, schema_version,
	occurred_at, payload, status, attempts, next_attempt_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, '%s', 0, $9, $9
)
ON CONFLICT (event_id)
DO NOTHING`, s.table, StatusPending)

	_, err := s.db.ExecContext(ctx, query,
		outboxID, env.EventID, env.EventType, env.CorrelationID, env.MeteringPointID, env.SchemaVersion,
		env.OccurredAt.UTC(), []byte(env.Payload), now,
	)
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns records that are due for delivery, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, event_id, event_type, correlation_id, metering_point_id, schema_version, occurred_at, payload, attempts
FROM %s
WHERE status = '%s' AND next_attempt_at <= $1
ORDER BY created_at ASC, id ASC
LIMIT $2`, s.table, StatusPending)

	rows, err := s.db.QueryContext(ctx, query, s.now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			record  eventing.OutboxRecord
			env     eventing.Envelope
			payload []byte
		)
		if err := rows.Scan(&record.ID, &env.EventID, &env.EventType, &env.CorrelationID, &env.MeteringPointID,
			&env.SchemaVersion, &env.OccurredAt, &payload, &record.Attempts); err != nil {
			return nil, err
		}
		env.OccurredAt = env.OccurredAt.UTC()
		env.Payload = payload
		record.Envelope = env
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent marks an outbox record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = '%s', sent_at = $1, last_error = ''
WHERE id = $2`, s.table, StatusSent)
	_, err := s.db.ExecContext(ctx, query, s.now().UTC(), id)
	return err
}

// MarkFailed counts a failed delivery. The record is due again after
// attempts * backoff, or dead once attempts reaches the maximum.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	message := ""
	if cause != nil {
		message = cause.Error()
		if len(message) > maxErrorLength {
			message = message[:maxErrorLength]
		}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET attempts = attempts + 1,
	last_error = $1,
	status = CASE WHEN attempts + 1 >= $2 THEN '%s' ELSE status END,
	next_attempt_at = $3::timestamptz + ($4::bigint * (attempts + 1)) * interval '1 millisecond'
WHERE id = $5`, s.table, StatusDead)
	_, err := s.db.ExecContext(ctx, query, message, s.maxAttempts, s.now().UTC(), s.backoff.Milliseconds(), id)
	return err
}
