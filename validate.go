package haven

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// validate is the package-wide validator behind WithValidation. Records opt
// in per field with standard validate struct tags next to their haven tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterValidation adds a custom validate tag usable in record structs. It
// is meant for init-time use and panics when the tag cannot be registered.
func RegisterValidation(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic("haven: " + err.Error())
	}
}

// Validate checks the validate struct tags of a materialized record. All
// failing fields are collected and reported together, each qualified with its
// document path.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var errs *multierror.Error
	for _, fe := range verrs {
		msg := fmt.Sprintf("fails %q", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("fails %q (%s)", fe.Tag(), fe.Param())
		}
		if fe.Value() != nil {
			msg = fmt.Sprintf("%s, got %v", msg, fe.Value())
		}
		errs = multierror.Append(errs, fieldErrf(docPath(fe.Namespace()), ErrValidation, "%s", msg))
	}
	return errs.ErrorOrNil()
}

// docPath rewrites a validator namespace like "Config.Model.NumLayers" into
// document form: the root type segment dropped, the rest snake_cased. Fields
// renamed through their haven tag keep the validator-reported name here.
func docPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if j := strings.IndexByte(p, '['); j >= 0 {
			parts[i] = toSnake(p[:j]) + p[j:]
			continue
		}
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}
