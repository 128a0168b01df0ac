package schema

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrNoAdapter      = errors.New("no adapter for argument type")
	ErrArgCount       = errors.New("argument count mismatch")
	ErrArgKind        = errors.New("argument type mismatch")
	ErrWrongComponent = errors.New("component does not match class")
)

// ConfigError reports a problem in a class definition. Warnings degrade
// behaviour but keep the class usable.
type ConfigError struct {
	Class   string
	Msg     string
	Warning bool
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("class %s: %s", e.Class, e.Msg)
}
