// Package bus carries message-created events between server processes so
// that every instance can fan out to its own connections.
package bus

import "context"

// SubjectMessageCreated is the subject new-message events are published on.
const SubjectMessageCreated = "chat.message.created"

// Handler is invoked once per received event for the lifetime of a
// subscription. Delivery is at-most-once; there is no acknowledgement and
// no replay.
type Handler func(data []byte)

// Subscription is a live subscription that can be torn down at shutdown.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the cross-process publish/subscribe channel. Implementations must
// be safe for concurrent use; publish order from a single process is
// preserved per subject.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}
