package config

type Observability struct {
	ServiceName     string `mapstructure:"service_name" validate:"required"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"` // host:port of an OTLP/HTTP collector, empty disables tracing
	MetricsAddr     string `mapstructure:"metrics_addr"`
}

type Logging struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}
