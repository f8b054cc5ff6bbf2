package schema

import (
	"errors"
	"fmt"
)

// ErrValidation marks request-shape errors. They are raised before any
// storage I/O happens.
var ErrValidation = errors.New("validation error")

type ValidationError struct {
	Model string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Model != "" && e.Field != "":
		return fmt.Sprintf("%s.%s: %s", e.Model, e.Field, e.Msg)
	case e.Model != "":
		return fmt.Sprintf("%s: %s", e.Model, e.Msg)
	}
	return e.Msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(model, field, format string, args ...any) error {
	return &ValidationError{Model: model, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Invalid builds a ValidationError for callers outside this package.
func Invalid(model, field, format string, args ...any) error {
	return invalid(model, field, format, args...)
}
