package broker

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultExchange is the exchange events are published to unless WithExchange overrides it.
	DefaultExchange = "auth_service"
	// ExchangeKind is the only exchange type the gateway declares.
	ExchangeKind = "topic"

	contentTypeJSON = "application/json"
	// AMQP short strings are limited to 255 bytes.
	maxRoutingKeyLen = 255
)

// State is a point in the gateway lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gateway owns one broker connection and one channel and publishes JSON
// events to a single durable topic exchange.
//
// Publish may be called from many goroutines. Start and Stop are meant to be
// called once each by the process lifecycle; Stop waits for in-flight publishes.
type Gateway struct {
	dial     Dialer
	exchange string
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	// mu guards the fields below. Publishes hold it for reading for their
	// whole duration so Start and Stop never swap the channel under them.
	mu     sync.RWMutex
	state  State
	conn   Connection
	ch     Channel
	system string

	// chMu serializes every operation on ch along with the declared flag.
	chMu     sync.Mutex
	declared bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithExchange overrides DefaultExchange.
func WithExchange(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.exchange = name
		}
	}
}

// WithLogger sets the logger lifecycle and publish events are written to.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records publish and lifecycle metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer used for publish spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// NewGateway returns a gateway in the Uninitialized state. Nothing is dialed until Start.
func NewGateway(dial Dialer, opts ...Option) *Gateway {
	g := &Gateway{
		dial:     dial,
		exchange: DefaultExchange,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("event-gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("exchange", g.exchange))
	return g
}

// Exchange returns the name of the exchange the gateway publishes to.
func (g *Gateway) Exchange() string {
	return g.exchange
}

// State reports where the gateway is in its lifecycle.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Start dials brokerURL and opens the gateway's channel. Either both succeed
// or neither is left open. A failed start leaves the gateway in StateFailed
// and returns a *ConnectError; no retry is attempted.
func (g *Gateway) Start(ctx context.Context, brokerURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateStarting || g.state == StateRunning {
		return ErrAlreadyStarted
	}
	g.state = StateStarting

	broker, system := describeBroker(brokerURL)
	log := g.logger.With(zap.String("broker", broker))

	conn, err := g.dial(ctx, brokerURL)
	if err != nil {
		return g.failStart(log, &ConnectError{Broker: broker, Op: "dial", Err: err})
	}

	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warn("failed to close connection after channel error",
				zap.Error(&ShutdownError{Op: "close connection", Err: closeErr}))
		}
		return g.failStart(log, &ConnectError{Broker: broker, Op: "open channel", Err: err})
	}

	g.conn = conn
	g.ch = ch
	g.system = system
	g.chMu.Lock()
	g.declared = false
	g.chMu.Unlock()
	g.state = StateRunning

	log.Info("connected to broker")
	g.metrics.lifecycle("start", resultSuccess)
	g.metrics.setUp(true)
	return nil
}

func (g *Gateway) failStart(log *zap.Logger, err *ConnectError) error {
	g.state = StateFailed
	log.Error("failed to connect to broker", zap.String("op", err.Op), zap.Error(err.Err))
	g.metrics.lifecycle("start", resultError)
	return err
}

// Stop closes the channel and then the connection. Both steps are always
// attempted; failures are logged and never returned. Stop is safe to call
// before Start and more than once.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = StateStopping
	closed := g.ch != nil || g.conn != nil
	failed := false

	if g.ch != nil {
		g.chMu.Lock()
		if err := g.ch.Close(); err != nil {
			failed = true
			g.logger.Error("error during broker disconnection",
				zap.Error(&ShutdownError{Op: "close channel", Err: err}))
		}
		g.declared = false
		g.chMu.Unlock()
		g.ch = nil
	}

	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			failed = true
			g.logger.Error("error during broker disconnection",
				zap.Error(&ShutdownError{Op: "close connection", Err: err}))
		}
		g.conn = nil
	}

	g.state = StateStopped
	g.metrics.setUp(false)
	if !closed {
		return
	}
	if failed {
		g.metrics.lifecycle("stop", resultError)
		return
	}
	g.metrics.lifecycle("stop", resultSuccess)
	g.logger.Info("disconnected from broker")
}

// Publish encodes message as JSON and sends it to the gateway's exchange with
// routingKey. A nil error means the transport accepted the frame, not that the
// broker stored or routed it. Failures are returned as *PublishError and are
// never retried here.
func (g *Gateway) Publish(ctx context.Context, routingKey string, message any) error {
	ctx, span := g.tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingDestinationKindKey.String(ExchangeKind),
			semconv.MessagingDestinationKey.String(g.exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(routingKey),
		),
	)
	defer span.End()

	start := time.Now()
	size, err := g.publish(ctx, span, routingKey, message)
	g.metrics.observePublish(g.exchange, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("failed to publish message",
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return err
	}

	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", size))
	g.logger.Info("published message", zap.String("routing_key", routingKey))
	return nil
}

func (g *Gateway) publish(ctx context.Context, span trace.Span, routingKey string, message any) (int, error) {
	if err := validateRoutingKey(routingKey); err != nil {
		return 0, g.publishError(routingKey, "validate", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, g.publishError(routingKey, "publish", err)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return 0, g.publishError(routingKey, "serialize", err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state != StateRunning {
		return 0, g.publishError(routingKey, "publish", ErrNotRunning)
	}

	msg := Message{
		ID:          uuid.NewString(),
		ContentType: contentTypeJSON,
		Timestamp:   time.Now().UTC(),
		Headers:     make(map[string]string),
		Body:        body,
	}
	span.SetAttributes(
		semconv.MessagingSystemKey.String(g.system),
		semconv.MessagingMessageIDKey.String(msg.ID),
	)

	// Inject the trace context into the message headers
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Headers))

	g.chMu.Lock()
	defer g.chMu.Unlock()

	if !g.declared {
		if err := g.ch.DeclareExchange(ctx, g.exchange, ExchangeKind, true); err != nil {
			return 0, g.publishError(routingKey, "declare exchange", err)
		}
		g.declared = true
	}

	if err := g.ch.Publish(ctx, g.exchange, routingKey, msg); err != nil {
		return 0, g.publishError(routingKey, "publish", err)
	}
	return len(body), nil
}

func (g *Gateway) publishError(routingKey, op string, err error) *PublishError {
	return &PublishError{Exchange: g.exchange, RoutingKey: routingKey, Op: op, Err: err}
}

func validateRoutingKey(routingKey string) error {
	switch {
	case routingKey == "":
		return ErrEmptyRoutingKey
	case len(routingKey) > maxRoutingKeyLen:
		return ErrRoutingKeyTooLong
	case !utf8.ValidString(routingKey):
		return ErrInvalidRoutingKey
	}
	return nil
}

// describeBroker returns brokerURL with any password redacted and the
// messaging system name implied by its scheme.
func describeBroker(brokerURL string) (string, string) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return "<invalid url>", "unknown"
	}
	switch u.Scheme {
	case schemeAMQP, schemeAMQPS:
		return u.Redacted(), "rabbitmq"
	case schemePubSub:
		return u.Redacted(), "pubsub"
	default:
		return u.Redacted(), u.Scheme
	}
}
