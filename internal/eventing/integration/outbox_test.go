package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"supply-billing/internal/eventing"
	eventingrepo "supply-billing/internal/eventing/infrastructure/postgres"
)

type countingSink struct {
	ids []string
}

func (s *countingSink) Deliver(ctx context.Context, env eventing.Envelope) error {
	s.ids = append(s.ids, env.EventID)
	return nil
}

type failingSink struct {
	calls int
}

func (s *failingSink) Deliver(ctx context.Context, env eventing.Envelope) error {
	s.calls++
	return errors.New("broker unavailable")
}

func TestOutbox_FailedDeliveryBacksOffThenDies(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	applyMigration(t, db, "002_settlement_outbox.sql")
	if _, err := db.ExecContext(ctx, "DELETE FROM settlement_outbox"); err != nil {
		t.Fatalf("clean outbox: %v", err)
	}

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := eventingrepo.NewOutboxStore(db,
		eventingrepo.WithMaxAttempts(2),
		eventingrepo.WithRetryBackoff(time.Minute),
		eventingrepo.WithOutboxClock(func() time.Time { return now }),
	)
	sink := &failingSink{}
	relay := eventing.NewRelay(store, sink, nil)

	eventID := uuid.NewString()
	env := eventing.Envelope{
		EventID:         eventID,
		EventType:       "settlement.corrected",
		CorrelationID:   "corr-" + eventID,
		MeteringPointID: "571313100000000002",
		OccurredAt:      now.Add(-time.Hour),
		SchemaVersion:   1,
		Payload:         []byte(`{"version":2}`),
	}
	if _, err := store.Insert(ctx, env); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Envelope.CorrelationID != env.CorrelationID || string(pending[0].Envelope.Payload) != `{"version": 2}` {
		t.Fatalf("unexpected pending records: %+v", pending)
	}
	if !pending[0].Envelope.OccurredAt.Equal(env.OccurredAt) {
		t.Fatalf("expected occurred_at %s, got %s", env.OccurredAt, pending[0].Envelope.OccurredAt)
	}

	if _, err := relay.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var (
		status    string
		attempts  int
		lastError string
	)
	row := "SELECT status, attempts, last_error FROM settlement_outbox WHERE event_id = $1"
	if err := db.QueryRowContext(ctx, row, eventID).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("query record: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "broker unavailable" {
		t.Fatalf("expected pending retry, got status=%s attempts=%d error=%q", status, attempts, lastError)
	}

	if _, err := relay.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch during backoff: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected no delivery during backoff, got %d calls", sink.calls)
	}

	now = now.Add(time.Minute)
	if _, err := relay.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch after backoff: %v", err)
	}
	if err := db.QueryRowContext(ctx, row, eventID).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("query record: %v", err)
	}
	if sink.calls != 2 || status != "dead" || attempts != 2 {
		t.Fatalf("expected dead after two attempts, got status=%s attempts=%d calls=%d", status, attempts, sink.calls)
	}
}

func TestOutbox_DuplicateEventIsStoredOnce(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	applyMigration(t, db, "002_settlement_outbox.sql")
	table := "settlement_outbox"
	if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		t.Fatalf("clean outbox: %v", err)
	}

	store := eventingrepo.NewOutboxStore(db)
	sink := &countingSink{}
	relay := eventing.NewRelay(store, sink, nil)
	publisher := eventing.NewPublisher(store, nil)

	eventID := uuid.NewString()
	ctx = eventing.WithEventID(ctx, eventID)
	event := struct {
		MeteringPointID string
		OccurredAt      time.Time
	}{
		MeteringPointID: "571313100000000001",
		OccurredAt:      time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := publisher.Publish(ctx, "settlement.calculated", event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := publisher.Publish(ctx, "settlement.calculated", event); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	sent, err := relay.Dispatch(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 || len(sink.ids) != 1 || sink.ids[0] != eventID {
		t.Fatalf("expected one delivery of %s, got %v", eventID, sink.ids)
	}

	var status string
	if err := db.QueryRowContext(ctx, "SELECT status FROM "+table+" WHERE event_id = $1", eventID).Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != "sent" {
		t.Fatalf("expected sent, got %s", status)
	}
}

func applyMigration(t *testing.T, db *sql.DB, name string) {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	content, err := os.ReadFile(filepath.Join(root, "migrations", name))
	if err != nil {
		t.Fatalf("read migration %s: %v", name, err)
	}
	if _, err := db.Exec(string(content)); err != nil {
		t.Fatalf("apply migration %s: %v", name, err)
	}
}
