package broker

import (
	"errors"
	"fmt"
)

var (
	ErrNotRunning         = errors.New("gateway is not running")
	ErrAlreadyStarted     = errors.New("gateway already started")
	ErrEmptyRoutingKey    = errors.New("routing key is empty")
	ErrRoutingKeyTooLong  = errors.New("routing key exceeds 255 bytes")
	ErrInvalidRoutingKey  = errors.New("routing key is not valid UTF-8")
	ErrUnsupportedScheme  = errors.New("unsupported broker scheme")
	ErrExchangeUndeclared = errors.New("exchange not declared on channel")
)

// ConnectError is returned by Start when the connection or its channel cannot be opened.
type ConnectError struct {
	Broker string // URL with the password redacted
	Op     string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to broker %s: %s: %v", e.Broker, e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PublishError is returned by Publish. Op is one of "validate", "serialize",
// "declare exchange" or "publish".
type PublishError struct {
	Exchange   string
	RoutingKey string
	Op         string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to %q with routing key %q: %s: %v", e.Exchange, e.RoutingKey, e.Op, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ShutdownError describes a failed close step during Stop. It is only ever logged.
type ShutdownError struct {
	Op  string
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown: %s: %v", e.Op, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
