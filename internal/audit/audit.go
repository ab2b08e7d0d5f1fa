package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Settlement lifecycle actions.
const (
	ActionSettle         = "settlement.settle"
	ActionCorrect        = "settlement.correct"
	ActionInvoice        = "settlement.invoice"
	ActionImportMigrated = "settlement.import_migrated"
	ActionReconcileNote  = "reconciliation.note"
)

// SystemActor is recorded when the context carries no actor.
const SystemActor = "system"

// Entry represents an audit log entry.
type Entry struct {
	ID              string
	Actor           string
	Action          string
	ResourceType    string
	ResourceID      string
	MeteringPointID string
	Metadata        json.RawMessage
	PayloadDigest   string
	CreatedAt       time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewEntry builds an entry for the actor in ctx. metadata is stored as JSON.
func NewEntry(ctx context.Context, action, resourceType, resourceID string, metadata map[string]any) Entry {
	entry := Entry{
		ID:           NewID(),
		Actor:        ActorFromContext(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type actorKey struct{}

// WithActor records who performs the operations run with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
