package haven

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for every failure class the engine can produce. Callers
// match them with errors.Is; most are wrapped in a [FieldError] carrying the
// dotted path of the offending field.
var (
	// ErrParse reports malformed source text: an invalid document, a bad
	// include target, or a dotlist entry that does not parse.
	ErrParse = errors.New("parse error")

	// ErrSchema reports an unsupported record declaration. This is a
	// programmer error in the schema, not a problem with the input document.
	ErrSchema = errors.New("invalid schema")

	// ErrMissingField reports a field with no default that is absent from
	// the input mapping.
	ErrMissingField = errors.New("missing required field")

	// ErrUnexpectedField reports an input key that no field in the schema
	// claims.
	ErrUnexpectedField = errors.New("unexpected field")

	// ErrTypeMismatch reports a value whose shape does not fit the declared
	// field type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNoUnionMatch reports a union value that fits none of the declared
	// alternatives.
	ErrNoUnionMatch = errors.New("no union alternative matched")

	// ErrAmbiguousUnion reports a union value that fits more than one
	// alternative while strict union matching is enabled.
	ErrAmbiguousUnion = errors.New("value matches more than one union alternative")

	// ErrUnknownVariant reports a choice discriminator that names no
	// available variant.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrPluginLoad reports a declared variant that could not be resolved,
	// usually because the package providing it was never imported.
	ErrPluginLoad = errors.New("variant could not be loaded")

	// ErrInvalidPath reports an override path segment that names no field.
	ErrInvalidPath = errors.New("invalid path")

	// ErrValidation reports a materialized value that violates its validate
	// struct tags. Only produced under WithValidation.
	ErrValidation = errors.New("validation failed")
)

// FieldError qualifies an engine error with the dotted path of the field it
// concerns, e.g. "trainer.model.num_layers". Path is empty for errors about
// the document root.
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }

// fieldErr wraps err with the field path. Errors that already carry a path
// pass through untouched so nested materialization keeps the deepest path.
func fieldErr(path string, err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return err
	}
	return &FieldError{Path: path, Err: err}
}

// fieldErrf builds a path-qualified error wrapping the given sentinel.
func fieldErrf(path string, sentinel error, format string, args ...any) error {
	if format == "" {
		return &FieldError{Path: path, Err: sentinel}
	}
	return &FieldError{Path: path, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// joinPath appends a segment to a dotted field path.
func joinPath(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + "." + seg
}

// parentPath strips the last segment from a dotted field path.
func parentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}
