package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Repository writes audit logs to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = complete(entry)

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO settlement_audit_log (
	id, actor, action, resource_type, resource_id, metering_point_id,
	metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID, entry.MeteringPointID,
		metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}

// MemoryLog keeps audit entries in memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Log appends entry.
func (m *MemoryLog) Log(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, complete(entry))
	return nil
}

// Entries returns the logged entries in order.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func complete(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.Actor == "" {
		entry.Actor = SystemActor
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}
