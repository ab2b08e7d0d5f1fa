package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	MeteringPointID string
	OccurredAt      time.Time
	Amount          string
}

type memoryOutbox struct {
	records []OutboxRecord
	status  map[string]string
	causes  map[string]string
}

func newMemoryOutbox() *memoryOutbox {
	return &memoryOutbox{status: map[string]string{}, causes: map[string]string{}}
}

func (m *memoryOutbox) Insert(ctx context.Context, env Envelope) (string, error) {
	id := env.EventID
	m.records = append(m.records, OutboxRecord{ID: id, Envelope: env})
	m.status[id] = "pending"
	return id, nil
}

func (m *memoryOutbox) ListPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	var out []OutboxRecord
	for _, r := range m.records {
		if m.status[r.ID] == "pending" && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryOutbox) MarkSent(ctx context.Context, id string) error {
	m.status[id] = "sent"
	return nil
}

func (m *memoryOutbox) MarkFailed(ctx context.Context, id string, cause error) error {
	m.status[id] = "failed"
	if cause != nil {
		m.causes[id] = cause.Error()
	}
	return nil
}

type recordingSink struct {
	delivered []Envelope
	fail      map[string]bool
}

func (s *recordingSink) Deliver(ctx context.Context, env Envelope) error {
	if s.fail[env.EventID] {
		return errors.New("sink down")
	}
	s.delivered = append(s.delivered, env)
	return nil
}

func TestBuildEnvelopeTakesMetadataFromPayload(t *testing.T) {
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	env, err := BuildEnvelope(&sampleEvent{MeteringPointID: "571313100000000001", OccurredAt: at, Amount: "10.00"}, Meta{EventType: "settlement.calculated"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Equal(t, "settlement.calculated", env.EventType)
	assert.Equal(t, "571313100000000001", env.MeteringPointID)
	assert.Equal(t, at.UTC(), env.OccurredAt)
	assert.Equal(t, 1, env.SchemaVersion)

	var decoded sampleEvent
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "10.00", decoded.Amount)
}

func TestBuildEnvelopeHonoursContextMeta(t *testing.T) {
	ctx := WithCorrelationID(WithEventID(context.Background(), "evt-1"), "corr-1")
	meta := MetaFromContext(ctx)
	env, err := BuildEnvelope(sampleEvent{}, meta)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "eventing.sampleEvent", env.EventType)
	assert.False(t, env.OccurredAt.IsZero())

	_, err = BuildEnvelope(nil, Meta{})
	require.Error(t, err)
}

func TestRelayMarksSentAndFailed(t *testing.T) {
	ctx := context.Background()
	outbox := newMemoryOutbox()
	sink := &recordingSink{fail: map[string]bool{"evt-2": true}}
	relay := NewRelay(outbox, sink, nil)

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		_, err := outbox.Insert(ctx, Envelope{EventID: id, EventType: "settlement.calculated"})
		require.NoError(t, err)
	}

	sent, err := relay.Dispatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, "sent", outbox.status["evt-1"])
	assert.Equal(t, "failed", outbox.status["evt-2"])
	assert.Equal(t, "sink down", outbox.causes["evt-2"])
	assert.Equal(t, "sent", outbox.status["evt-3"])
	require.Len(t, sink.delivered, 2)

	sent, err = relay.Dispatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestPublisherWritesAndRelays(t *testing.T) {
	ctx := WithEventID(context.Background(), "evt-9")
	outbox := newMemoryOutbox()
	sink := &recordingSink{}
	publisher := NewPublisher(outbox, NewRelay(outbox, sink, nil))

	require.NoError(t, publisher.Publish(ctx, "settlement.calculated", sampleEvent{MeteringPointID: "mp-1"}))
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "evt-9", sink.delivered[0].EventID)
	assert.Equal(t, "mp-1", sink.delivered[0].MeteringPointID)
	assert.Equal(t, "sent", outbox.status["evt-9"])

	var nilPublisher *Publisher
	require.NoError(t, nilPublisher.Publish(ctx, "x", sampleEvent{}))
}
