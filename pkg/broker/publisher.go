package broker

import "context"

// Publisher publishes values of a single type T through a MessageBroker.
// It only fixes the payload type; encoding still happens in the broker.
type Publisher[T any] struct {
	broker MessageBroker
}

func NewPublisher[T any](b MessageBroker) *Publisher[T] {
	return &Publisher[T]{broker: b}
}

func (p *Publisher[T]) Publish(ctx context.Context, routingKey string, message T) error {
	return p.broker.Publish(ctx, routingKey, message)
}
