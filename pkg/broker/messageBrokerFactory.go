package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/zoff-tech/event-gateway/pkg/config"
)

const (
	schemeAMQP   = "amqp"
	schemeAMQPS  = "amqps"
	schemePubSub = "gcppubsub"
)

// NewDialer returns a Dialer that picks the transport from the broker URL
// scheme: amqp:// and amqps:// dial RabbitMQ, gcppubsub://<project> opens a
// Pub/Sub client.
func NewDialer(settings *config.BrokerSettings, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, rawURL string) (Connection, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			// url.Error repeats the raw URL, credentials included.
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				err = urlErr.Err
			}
			return nil, fmt.Errorf("invalid broker url: %w", err)
		}

		switch u.Scheme {
		case schemeAMQP, schemeAMQPS:
			return NewRabbitMqConnection(ctx, rawURL, settings, logger)
		case schemePubSub:
			if u.Host == "" {
				return nil, errors.New("pubsub url must name a project: gcppubsub://<project>")
			}
			return NewPubSubConnection(ctx, u.Host)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	}
}
