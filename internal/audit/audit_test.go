package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryUsesContextActor(t *testing.T) {
	ctx := WithActor(context.Background(), "billing-operator")
	entry := NewEntry(ctx, ActionInvoice, "settlement", "s-1", map[string]any{"invoice_reference": "INV-1"})

	assert.Equal(t, "billing-operator", entry.Actor)
	assert.Equal(t, ActionInvoice, entry.Action)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(entry.Metadata, &meta))
	assert.Equal(t, "INV-1", meta["invoice_reference"])

	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
}

func TestMemoryLogCompletesEntries(t *testing.T) {
	log := &MemoryLog{}
	require.NoError(t, log.Log(context.Background(), Entry{Action: ActionSettle, Metadata: json.RawMessage(`{"a":1}`)}))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, SystemActor, entries[0].Actor)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.Equal(t, DigestJSON([]byte(`{"a":1}`)), entries[0].PayloadDigest)
	assert.Len(t, entries[0].PayloadDigest, 64)
	assert.Empty(t, DigestJSON(nil))
}
