package eventing

import (
	"context"
)

// Publisher writes events to the outbox and optionally triggers a relay pass.
type Publisher struct {
	outbox OutboxWriter
	relay  *Relay
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// NewPublisher constructs a publisher. relay may be nil.
func NewPublisher(outbox OutboxWriter, relay *Relay) *Publisher {
	return &Publisher{outbox: outbox, relay: relay}
}

// Publish writes the event to the outbox under eventType.
func (p *Publisher) Publish(ctx context.Context, eventType string, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	meta := MetaFromContext(ctx)
	meta.EventType = eventType
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.relay != nil {
		_, _ = p.relay.Dispatch(ctx, 1)
	}
	return nil
}
