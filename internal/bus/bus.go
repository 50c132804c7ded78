// Package bus abstracts the topic transport between the detector process
// and the aggregator. The contract is deliberately small so any pub/sub
// IPC can implement it; the NATS implementation is the production one and
// MemBus serves tests and in-process embedding.
package bus

import (
	"encoding/json"
	"fmt"
)

// Handler receives one message. Implementations dispatch handlers for a
// given subscription serially, so per-subject ordering is preserved.
type Handler func(subject string, data []byte)

// Subscription is a live subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is a connection to the topic bus.
type Conn interface {
	// Publish sends data on a subject, fire-and-forget.
	Publish(subject string, data []byte) error

	// Subscribe delivers every message on subject to fn.
	Subscribe(subject string, fn Handler) (Subscription, error)

	// QueueSubscribe delivers each message on subject to one member of the
	// named queue group.
	QueueSubscribe(subject, queue string, fn Handler) (Subscription, error)

	// Close tears the connection down. Safe to call more than once.
	Close()
}

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(c Conn, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return c.Publish(subject, data)
}
