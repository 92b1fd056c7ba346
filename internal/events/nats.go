package events

import (
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"github.com/zenreply/zenreply/internal/jetstream"
)

// NATSEmitter publishes events as JSON on the embedded bus. Publishing is
// fire-and-forget; JetStream keeps a short replay window for late listeners.
type NATSEmitter struct {
	nc *nats.Conn
}

func NewNATSEmitter(nc *nats.Conn) *NATSEmitter {
	return &NATSEmitter{nc: nc}
}

func (e *NATSEmitter) EmitStream(ev StreamEvent) error {
	return e.publish(jetstream.StreamSubject(ev.RequestID), ev)
}

func (e *NATSEmitter) EmitClipboard(ev ClipboardEvent) error {
	return e.publish(jetstream.ClipboardSubject(string(ev.Kind)), ev)
}

func (e *NATSEmitter) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := e.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
