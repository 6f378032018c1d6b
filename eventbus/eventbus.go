// Package eventbus provides an in-process publish/subscribe bus. The session
// store publishes lifecycle events on it, and the gateway subscribes to record
// metrics and audit logs without the store knowing about either.
package eventbus

import "context"

// Handler processes a message. Returned errors are logged.
type Handler func(ctx context.Context, msg *Message) error

// Message is a single delivery of a published event.
type Message struct {
	ID    string
	Topic string
	Data  any
}

// EventBus is the interface the store publishes to.
type EventBus interface {
	// Subscribe registers handler for topic. Handlers may be called
	// concurrently with each other.
	Subscribe(topic string, handler Handler)

	// Publish delivers data to every subscriber of topic asynchronously.
	Publish(topic string, data any)

	// Wait blocks until every published message has been handled.
	Wait(ctx context.Context) error
}
