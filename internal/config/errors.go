package config

import "errors"

// ErrInvalidConfig is wrapped by every decoding and validation error.
var ErrInvalidConfig = errors.New("invalid configuration")
