package broker

import (
	"context"
	"time"
)

// MessageBroker is the publishing surface handed to the rest of the system.
type MessageBroker interface {
	// Publish serializes message to JSON and sends it to the exchange under routingKey.
	Publish(ctx context.Context, routingKey string, message any) error
}

// Message is the envelope a Channel puts on the wire.
type Message struct {
	ID          string
	ContentType string
	Timestamp   time.Time
	Headers     map[string]string
	Body        []byte
}

// Channel is a logical publishing context multiplexed over a Connection.
// Implementations need not be safe for concurrent use.
type Channel interface {
	// DeclareExchange creates the exchange if needed. Redeclaring with identical
	// parameters has no effect.
	DeclareExchange(ctx context.Context, name, kind string, durable bool) error
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	Close() error
}

// Connection is an exclusively owned handle to a broker transport.
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// Dialer opens a Connection to the broker at url.
type Dialer func(ctx context.Context, url string) (Connection, error)
