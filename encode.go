package haven

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// encoder carries one dump pass.
type encoder struct {
	reg        *Registry
	omitAbsent bool
}

// Encode dumps a record value (or pointer to one) into its untyped Tree
// form. The result reloads to a value-equal record: choice fields carry
// their discriminator, optionals emit null unless WithOmitAbsent is set.
func Encode(v any, opts ...Option) (Tree, error) {
	o := newOptions(opts)
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: cannot encode a nil record", ErrSchema)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: encode source must be a record struct, got %s", ErrSchema, rv.Type())
	}
	e := &encoder{reg: o.registry, omitAbsent: o.omitAbsent}
	return e.encodeRecord("", rv.Type(), rv)
}

func (e *encoder) encodeRecord(path string, t reflect.Type, v reflect.Value) (map[string]any, error) {
	sch, err := e.reg.schemaFor(t)
	if err != nil {
		return nil, fieldErr(path, err)
	}
	out := make(map[string]any, len(sch.fields))
	for i := range sch.fields {
		fs := &sch.fields[i]
		fpath := joinPath(path, fs.name)
		fv := v.Field(fs.index)

		if fs.choice != nil {
			node, name, omit, err := e.encodeChoice(fpath, fs, fv)
			if err != nil {
				return nil, err
			}
			if omit {
				continue
			}
			out[fs.name] = node
			// Outer discriminators live beside the field; when the parent
			// declares the key field its own value is used instead.
			if fs.choice.outer && name != "" && sch.field(fs.choice.keyField) == nil {
				out[fs.choice.keyField] = name
			}
			continue
		}

		node, omit, err := e.encodeValue(fpath, &fs.typ, fv)
		if err != nil {
			return nil, err
		}
		if omit {
			continue
		}
		out[fs.name] = node
	}
	return out, nil
}

func (e *encoder) encodeValue(path string, x *typeExpr, v reflect.Value) (node any, omit bool, err error) {
	switch x.kind {
	case kindBool:
		return v.Bool(), false, nil
	case kindInt:
		return v.Int(), false, nil
	case kindUint:
		return v.Uint(), false, nil
	case kindFloat:
		return v.Float(), false, nil
	case kindString:
		return v.String(), false, nil
	case kindDuration:
		return time.Duration(v.Int()).String(), false, nil
	case kindText:
		s, err := marshalText(path, v)
		return s, false, err
	case kindBytes:
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		return string(v.Bytes()), false, nil
	case kindAny:
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		return copyValue(v.Interface()), false, nil

	case kindOptional:
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		return e.encodeValue(path, x.elem, v.Elem())

	case kindUnion:
		// A nil interface is an unset optional union; it dumps the same way
		// an absent pointer does so the output reloads to an equal record.
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		n, err := e.encodeDynamic(path, v.Elem())
		return n, false, err

	case kindSequence:
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		return e.encodeSeq(path, x, v)

	case kindTuple:
		return e.encodeSeq(path, x, v)

	case kindMapping:
		if v.IsNil() {
			return nil, e.omitAbsent, nil
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := encodeKey(iter.Key())
			n, _, err := e.encodeValue(joinPath(path, key), x.elem, iter.Value())
			if err != nil {
				return nil, false, err
			}
			m[key] = n
		}
		return m, false, nil

	case kindRecord:
		n, err := e.encodeRecord(path, x.rtype, v)
		return n, false, err

	default:
		return nil, false, fieldErrf(path, ErrSchema, "cannot encode %s", exprString(x))
	}
}

func (e *encoder) encodeSeq(path string, x *typeExpr, v reflect.Value) (node any, omit bool, err error) {
	seq := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		n, _, err := e.encodeValue(fmt.Sprintf("%s[%d]", path, i), x.elem, v.Index(i))
		if err != nil {
			return nil, false, err
		}
		seq[i] = n
	}
	return seq, false, nil
}

// encodeChoice dumps a resolved choice field: the variant's own record plus
// the discriminator under the spec's key field, so the result reloads to the
// identical variant. name is empty when the field is unset.
func (e *encoder) encodeChoice(path string, fs *fieldSpec, fv reflect.Value) (node any, name string, omit bool, err error) {
	spec := fs.choice

	var styp reflect.Type
	var sval reflect.Value
	if spec.component {
		comp, _ := fv.Interface().(Component)
		if comp.Config == nil {
			return nil, "", e.omitAbsent, nil
		}
		cv := reflect.ValueOf(comp.Config)
		if cv.Kind() == reflect.Pointer {
			cv = cv.Elem()
		}
		styp, sval = cv.Type(), cv
	} else {
		if fv.IsNil() {
			return nil, "", e.omitAbsent, nil
		}
		dyn := fv.Elem()
		if dyn.Kind() == reflect.Pointer {
			dyn = dyn.Elem()
		}
		if dyn.Kind() != reflect.Struct {
			return nil, "", false, fieldErrf(path, ErrUnknownVariant, "value of type %s is not a record", dyn.Type())
		}
		styp, sval = dyn.Type(), dyn
	}

	src, ok := e.reg.group(spec.group)
	if !ok {
		return nil, "", false, fieldErrf(path, ErrSchema, "choice group %q is not registered", spec.group)
	}
	name, ok = src.nameOf(e.reg, styp)
	if !ok {
		return nil, "", false, fieldErrf(path, ErrUnknownVariant, "type %s is not part of group %q", styp, spec.group)
	}

	payload, err := e.encodeRecord(path, styp, sval)
	if err != nil {
		return nil, "", false, err
	}
	if !spec.outer {
		// Overwrites a declared key field too: the discriminator must name
		// the variant that is actually stored.
		payload[spec.keyField] = name
	}
	return payload, name, false, nil
}

// encodeDynamic dumps a value by its runtime type, used for union fields
// where the declared type is any.
func (e *encoder) encodeDynamic(path string, v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		return e.encodeDynamic(path, v.Elem())
	}
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}
	if v.Type().Implements(textMarshalerType) || reflect.PointerTo(v.Type()).Implements(textMarshalerType) {
		return marshalText(path, v)
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice, reflect.Array:
		seq := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			n, err := e.encodeDynamic(fmt.Sprintf("%s[%d]", path, i), v.Index(i))
			if err != nil {
				return nil, err
			}
			seq[i] = n
		}
		return seq, nil
	case reflect.Map:
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := encodeKey(iter.Key())
			n, err := e.encodeDynamic(joinPath(path, key), iter.Value())
			if err != nil {
				return nil, err
			}
			m[key] = n
		}
		return m, nil
	case reflect.Struct:
		return e.encodeRecord(path, v.Type(), v)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return e.encodeDynamic(path, v.Elem())
	default:
		return nil, fieldErrf(path, ErrSchema, "cannot encode value of type %s", v.Type())
	}
}

// encodeKey renders a mapping key as document text.
func encodeKey(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	default:
		return fmt.Sprint(k.Interface())
	}
}

// marshalText dumps an encoding.TextMarshaler scalar.
func marshalText(path string, v reflect.Value) (string, error) {
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	tm, ok := p.Interface().(encoding.TextMarshaler)
	if !ok {
		return "", fieldErrf(path, ErrSchema, "%s has no text form to dump", v.Type())
	}
	text, err := tm.MarshalText()
	if err != nil {
		return "", fieldErrf(path, ErrSchema, "marshal %s: %v", v.Type(), err)
	}
	return string(text), nil
}
