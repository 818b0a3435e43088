package config

import "errors"

var (
	// ErrInvalidConfig wraps every Validate failure; the message names the field.
	ErrInvalidConfig = errors.New("watchq config: invalid value")
	// ErrLoadConfig wraps failures reading the YAML file or the WATCHQ_ environment.
	ErrLoadConfig = errors.New("watchq config: cannot load")
)
