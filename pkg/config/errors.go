package config

import "fmt"

// ConfigError reports configuration that could not be loaded or failed validation.
// It is raised before the gateway is constructed and is fatal to startup.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
