package config

import (
	"errors"
	"fmt"
)

// Feeder errors
var (
	ErrInvalidStructure    = errors.New("expected pointer to struct")
	ErrUnsupportedFormat   = errors.New("unsupported config file format")
	ErrYamlDecode          = errors.New("cannot decode yaml")
	ErrTomlDecode          = errors.New("cannot decode toml")
	ErrTomlUnknownKeys     = errors.New("unknown toml keys")
	ErrEnvCannotConvert    = errors.New("cannot convert environment value")
	ErrEnvFieldCannotBeSet = errors.New("field cannot be set")
)

// Validation errors
var (
	ErrNameEmpty          = errors.New("container name must not be empty")
	ErrLoadConcurrency    = errors.New("load concurrency must be at least 1")
	ErrNegativeDuration   = errors.New("duration must not be negative")
	ErrAppNameEmpty       = errors.New("application name must not be empty")
	ErrDuplicateApp       = errors.New("application defined more than once")
	ErrInvalidActiveRule  = errors.New("active rule must be an absolute path")
	ErrInvalidFallbackURL = errors.New("fallback url must be an absolute path")
	ErrInvalidSchedule    = errors.New("invalid preload schedule")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidRetry       = errors.New("invalid retry settings")
)

func wrapStructureError(got any) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructure, got)
}

func wrapFormatError(path string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func wrapYamlError(path string, err error) error {
	return fmt.Errorf("%w %s: %w", ErrYamlDecode, path, err)
}

func wrapTomlError(path string, err error) error {
	return fmt.Errorf("%w %s: %w", ErrTomlDecode, path, err)
}

func wrapEnvConvertError(name, value, fieldType string, err error) error {
	return fmt.Errorf("%w %s=%q to %s: %w", ErrEnvCannotConvert, name, value, fieldType, err)
}

func wrapFieldError(field string, err error) error {
	return fmt.Errorf("%s: %w", field, err)
}
