package resolve

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingBuildRecipe = errors.New("resolve: missing build recipe")

type ErrorKind string

const (
	InvalidContext             ErrorKind = "invalid_context"
	AmbiguousTableName         ErrorKind = "ambiguous_table_name"
	AmbiguousSource            ErrorKind = "ambiguous_source"
	MissingSource              ErrorKind = "missing_source"
	MissingBuildRecipe         ErrorKind = "missing_build_recipe"
	IncompleteRequiredProperty ErrorKind = "incomplete_required_property"
)

// ResolutionError reports input that is contradictory or incomplete for the
// requested context. It always carries the context tuple.
type ResolutionError struct {
	Kind    ErrorKind
	Context Context
	Table   string
	Key     string
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolve: %s for %s", e.Kind, e.Context)
	if e.Table != "" {
		fmt.Fprintf(&b, " table=%s", e.Table)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
