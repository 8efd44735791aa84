package config

import "time"

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	URL               string        `mapstructure:"url" validate:"required,url"`
	Exchange          string        `mapstructure:"exchange" validate:"required"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" validate:"gte=0"`
	Heartbeat         time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
}
