package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Attribute names carrying AMQP-style metadata on Pub/Sub messages.
const (
	attrRoutingKey  = "routing_key"
	attrContentType = "content_type"
	attrMessageID   = "message_id"
)

var errPubSubClosed = errors.New("pubsub client is closed")

// PubSubConnectionCreator defines a function type for creating Pub/Sub connections.
type PubSubConnectionCreator func(ctx context.Context, projectID string, opts ...option.ClientOption) (Connection, error)

// NewPubSubConnection is the default implementation of PubSubConnectionCreator.
var NewPubSubConnection PubSubConnectionCreator = func(ctx context.Context, projectID string, opts ...option.ClientOption) (Connection, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Pub/Sub: %w", err)
	}
	return &pubSubConnection{client: client}, nil
}

// pubSubConnection adapts a Pub/Sub client to Connection. The exchange maps
// to a topic; the routing key travels as a message attribute.
type pubSubConnection struct {
	client *pubsub.Client
	closed atomic.Bool
}

func (c *pubSubConnection) Channel() (Channel, error) {
	if c.closed.Load() {
		return nil, errPubSubClosed
	}
	return &pubSubChannel{client: c.client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (c *pubSubConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.client.Close()
}

func (c *pubSubConnection) IsClosed() bool {
	return c.closed.Load()
}

type pubSubChannel struct {
	client *pubsub.Client
	topics map[string]*pubsub.Topic
}

// DeclareExchange ensures a topic named after the exchange exists. Pub/Sub
// topics are always durable and have no routing type, so kind and durable are ignored.
func (p *pubSubChannel) DeclareExchange(ctx context.Context, name, kind string, durable bool) error {
	if p.topics == nil {
		return errPubSubClosed
	}
	if _, ok := p.topics[name]; ok {
		return nil
	}

	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up topic %q: %w", name, err)
	}
	if !exists {
		topic, err = p.client.CreateTopic(ctx, name)
		if status.Code(err) == codes.AlreadyExists {
			topic, err = p.client.Topic(name), nil
		}
		if err != nil {
			return fmt.Errorf("failed to create topic %q: %w", name, err)
		}
	}

	p.topics[name] = topic
	return nil
}

// Publish waits for the server result: Pub/Sub has no earlier point at which
// a message counts as handed off.
func (p *pubSubChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	topic, ok := p.topics[exchange]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExchangeUndeclared, exchange)
	}

	attributes := make(map[string]string, len(msg.Headers)+3)
	maps.Copy(attributes, msg.Headers)
	attributes[attrRoutingKey] = routingKey
	attributes[attrContentType] = msg.ContentType
	attributes[attrMessageID] = msg.ID

	res := topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Body,
		Attributes: attributes,
	})
	_, err := res.Get(ctx) // wait for server ack
	return err
}

func (p *pubSubChannel) Close() error {
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.topics = nil
	return nil
}
