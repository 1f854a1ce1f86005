package config

import (
	"errors"
	"fmt"
)

var (
	ErrAmbiguousSource = errors.New("config: source declares both git and path")
	ErrMissingSource   = errors.New("config: source declares neither git nor path")
	ErrNotScalar       = errors.New("config: property is not a string, integer, or boolean")
	ErrUnknownKey      = errors.New("config: unsupported key")
	ErrDuplicateKey    = errors.New("config: key given under two spellings")
	ErrTemplateExists  = errors.New("config: template target already exists")
)

// SchemaError reports the first violation found in a document. Location is a
// dotted path into the document, e.g. "sel4.config.sabre.KernelPrinting".
type SchemaError struct {
	Location string
	Reason   string
	Err      error
}

func (e *SchemaError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("config: schema error: %s", e.Reason)
	}
	return fmt.Sprintf("config: schema error at %s: %s", e.Location, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErr(location, reason string) error {
	return &SchemaError{Location: location, Reason: reason}
}

func schemaWrap(location string, err error, reason string) error {
	return &SchemaError{Location: location, Reason: reason, Err: err}
}
