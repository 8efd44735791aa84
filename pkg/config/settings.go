package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	configName = "gateway"
	envPrefix  = "GATEWAY"
)

type Settings struct {
	Broker        BrokerSettings `mapstructure:"broker"`
	Observability Observability  `mapstructure:"observability"`
	Logging       Logging        `mapstructure:"logging"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return &ConfigError{Op: "validate", Err: err}
	}
	return nil
}

// LoadFromFile reads gateway.yaml from filePath (or the working directory),
// merges gateway.<ENVIRONMENT>.yaml on top, then applies GATEWAY_* environment
// variables. A missing file is not an error; missing required values are.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetConfigName(configName)
	v.AddConfigPath(filePath)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, &ConfigError{Op: "read " + configName, Err: err}
	}

	if err := mergeConfig(v, filePath, configName+"."+env); err != nil && !isNotFound(err) {
		return nil, &ConfigError{Op: "merge " + configName + "." + env, Err: err}
	}

	cfg := &Settings{}
	if err := cfg.LoadFromEnv(v); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv binds the GATEWAY_* variables on v and unmarshals the result into c.
func (c *Settings) LoadFromEnv(v *viper.Viper) error {
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like GATEWAY_BROKER_URL

	// RABBITMQ_URL is kept for services that still export the old variable.
	_ = v.BindEnv("broker.url", envPrefix+"_BROKER_URL", "RABBITMQ_URL")
	_ = v.BindEnv("broker.exchange")
	_ = v.BindEnv("broker.connection_timeout")
	_ = v.BindEnv("broker.heartbeat")
	_ = v.BindEnv("observability.service_name")
	_ = v.BindEnv("observability.tracing_endpoint")
	_ = v.BindEnv("observability.metrics_addr")
	_ = v.BindEnv("logging.level")
	_ = v.BindEnv("logging.format")

	if err := v.Unmarshal(c); err != nil {
		return &ConfigError{Op: "unmarshal", Err: err}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.exchange", "auth_service")
	v.SetDefault("broker.connection_timeout", 30*time.Second)
	v.SetDefault("broker.heartbeat", 10*time.Second)
	v.SetDefault("observability.service_name", "event-gateway")
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func mergeConfig(v *viper.Viper, path string, name string) error {
	v.SetConfigName(name)
	v.AddConfigPath(path)
	return v.MergeInConfig()
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
