package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus is a Bus backed by a core NATS connection. Core NATS gives the
// exact semantics the relay needs: at-most-once delivery to live
// subscribers, ordered per publisher, nothing retained.
type NATSBus struct {
	conn *nats.Conn
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("driftchat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSBus{conn: conn}, nil
}

// Publish sends data on subject. The context bounds the flush that makes
// the publish visible to other processes.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		return b.conn.Flush()
	}
	if err := b.conn.FlushTimeout(time.Until(deadline)); err != nil {
		return fmt.Errorf("failed to flush publish: %w", err)
	}
	return nil
}

// Subscribe registers handler for events on subject.
func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return natsSubscription{sub: sub}, nil
}

// Close drains the connection so in-flight events are handled before the
// process exits.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
