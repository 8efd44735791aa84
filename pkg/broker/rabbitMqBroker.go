package broker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/zoff-tech/event-gateway/pkg/config"
)

const (
	defaultConnectionTimeout = 30 * time.Second
	defaultHeartbeat         = 10 * time.Second
)

// amqpChannel is the subset of *amqp.Channel the gateway uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpConnection is the subset of *amqp.Connection the gateway uses.
type amqpConnection interface {
	Channel() (*amqp.Channel, error)
	Close() error
	IsClosed() bool
}

type RabbitMqConnectionCreator func(ctx context.Context, url string, settings *config.BrokerSettings, logger *zap.Logger) (Connection, error)

// NewRabbitMqConnection dials an AMQP 0-9-1 broker. Replaced in tests.
var NewRabbitMqConnection RabbitMqConnectionCreator = func(ctx context.Context, url string, settings *config.BrokerSettings, logger *zap.Logger) (Connection, error) {
	timeout := settings.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultConnectionTimeout
	}
	heartbeat := settings.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      contextDialer(ctx, timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	// Log unexpected connection closes; the library closes this channel on shutdown.
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		for err := range notifyClose {
			logger.Warn("RabbitMQ connection closed", zap.Error(err))
		}
	}()

	return &rabbitMqConnection{conn: conn}, nil
}

// contextDialer opens the TCP connection under ctx and bounds the AMQP
// handshake by timeout. The library clears the deadline once the connection is open.
func contextDialer(ctx context.Context, timeout time.Duration) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

type rabbitMqConnection struct {
	conn amqpConnection
}

func (c *rabbitMqConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	return &rabbitMqChannel{channel: ch}, nil
}

func (c *rabbitMqConnection) Close() error {
	return c.conn.Close()
}

func (c *rabbitMqConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

type rabbitMqChannel struct {
	channel amqpChannel
}

func (r *rabbitMqChannel) DeclareExchange(ctx context.Context, name, kind string, durable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.channel.ExchangeDeclare(
		name,    // name of the exchange
		kind,    // type of the exchange
		durable, // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func (r *rabbitMqChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Convert headers to amqp.Table
	headers := make(amqp.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	// No publisher confirm: success means the frame was handed to the connection.
	return r.channel.Publish(
		exchange, routingKey, false, false,
		amqp.Publishing{
			ContentType: msg.ContentType,
			MessageId:   msg.ID,
			Timestamp:   msg.Timestamp,
			Headers:     headers,
			Body:        msg.Body,
		},
	)
}

func (r *rabbitMqChannel) Close() error {
	return r.channel.Close()
}
