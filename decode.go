package haven

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// decoder carries one materialization pass: the registry the schema and
// variants come from plus the per-call policy knobs.
type decoder struct {
	reg          *Registry
	strictUnions bool
}

// materialize turns one untyped mapping into a record value, field by field
// in schema order. Every field error found in the pass is collected and
// reported together, path-qualified, instead of stopping at the first; on
// error no partial record escapes.
func (d *decoder) materialize(path string, t reflect.Type, m map[string]any) (reflect.Value, error) {
	sch, err := d.reg.schemaFor(t)
	if err != nil {
		return reflect.Value{}, fieldErr(path, err)
	}
	out := reflect.New(t).Elem()
	if sch.hasDefaulter {
		out.Addr().Interface().(Defaulter).SetDefaults()
	}

	consumed := make(map[string]bool, len(m))
	var errs *multierror.Error

	for i := range sch.fields {
		fs := &sch.fields[i]
		fpath := joinPath(path, fs.name)
		raw, present := m[fs.name]
		if present {
			consumed[fs.name] = true
		}

		if fs.choice != nil {
			v, err := d.materializeChoice(fpath, fs, raw, present, m, consumed)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if v.IsValid() {
				out.Field(fs.index).Set(v)
			}
			continue
		}

		// An explicit null on an optional field reads as absent. Pointer
		// fields keep their own null handling in coerce, where null is the
		// absent sentinel regardless of defaults.
		if present && raw == nil && fs.optional && fs.typ.kind != kindOptional {
			present = false
		}

		switch {
		case present:
			v, err := d.coerce(fpath, &fs.typ, raw)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			out.Field(fs.index).Set(v)

		case fs.def != nil:
			v, err := d.applyDefault(fpath, fs)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			out.Field(fs.index).Set(v)

		case fs.optional:
			// Zero value, or whatever SetDefaults established.

		default:
			errs = multierror.Append(errs, fieldErrf(fpath, ErrMissingField, ""))
		}
	}

	if !sch.permissive {
		extra := make([]string, 0, len(m))
		for k := range m {
			if !consumed[k] {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			errs = multierror.Append(errs, fieldErrf(joinPath(path, k), ErrUnexpectedField, "not declared by %s", t))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

// applyDefault produces a field's default value. Literal defaults are
// re-coerced on every call so composite defaults are fresh per instance,
// never shared.
func (d *decoder) applyDefault(path string, fs *fieldSpec) (reflect.Value, error) {
	if fs.def.construct {
		return d.constructDefault(path, &fs.typ)
	}
	v, err := d.coerce(path, &fs.typ, fs.def.node)
	if err != nil {
		// Simple defaults were checked at schema build; reaching this means
		// a record-shaped default does not satisfy its own schema.
		return reflect.Value{}, fieldErrf(path, ErrSchema, "default does not fit field: %v", err)
	}
	return v, nil
}

// constructDefault builds the empty shape of a type: empty mapping for
// records, empty non-nil sequence, zero scalar.
func (d *decoder) constructDefault(path string, e *typeExpr) (reflect.Value, error) {
	switch e.kind {
	case kindRecord:
		return d.materialize(path, e.rtype, map[string]any{})
	case kindSequence:
		return reflect.MakeSlice(e.rtype, 0, 0), nil
	case kindMapping:
		return reflect.MakeMapWithSize(e.rtype, 0), nil
	case kindBytes:
		v := reflect.New(e.rtype).Elem()
		v.SetBytes([]byte{})
		return v, nil
	default:
		return reflect.New(e.rtype).Elem(), nil
	}
}

// decodeTree materializes a Tree into a freshly allocated T.
func decodeTree[T any](o *options, tree Tree) (*T, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: decode target must be a struct, got %s", ErrSchema, t)
	}
	d := &decoder{reg: o.registry, strictUnions: o.strictUnions}
	v, err := d.materialize("", t, tree)
	if err != nil {
		return nil, err
	}
	out := v.Addr().Interface().(*T)
	if o.validate {
		if err := Validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decode materializes an untyped Tree into a record of type T. The input
// tree is never mutated.
func Decode[T any](tree Tree, opts ...Option) (*T, error) {
	return decodeTree[T](newOptions(opts), tree)
}
