package haven

import (
	"reflect"
)

// materializeChoice resolves a choice field's variant and materializes its
// payload. The returned value is ready to assign to the field: a boxed
// pointer for interface fields, a Component for component fields. An invalid
// value means "leave the field as is" (absent optional).
func (d *decoder) materializeChoice(path string, fs *fieldSpec, raw any, present bool, parent map[string]any, consumed map[string]bool) (reflect.Value, error) {
	spec := fs.choice

	if !present {
		switch {
		case fs.def != nil && fs.def.construct:
			raw = map[string]any{}
		case fs.def != nil:
			raw = fs.def.node
		case fs.optional:
			return reflect.Value{}, nil
		default:
			return reflect.Value{}, fieldErrf(path, ErrMissingField, "")
		}
	}

	name, payload, err := d.splitChoice(path, fs, raw, parent, consumed)
	if err != nil {
		return reflect.Value{}, err
	}
	if name == "" && fs.optional {
		// A null value on an optional choice field leaves it unset.
		return reflect.Value{}, nil
	}

	src, ok := d.reg.group(spec.group)
	if !ok {
		return reflect.Value{}, fieldErrf(path, ErrSchema, "choice group %q is not registered", spec.group)
	}
	entry, err := src.resolve(d.reg, name)
	if err != nil {
		return reflect.Value{}, fieldErr(path, err)
	}

	fieldType := d.fieldStructType(fs)
	if !spec.component && fieldType.NumMethod() > 0 && !reflect.PointerTo(entry.typ).Implements(fieldType) {
		return reflect.Value{}, fieldErrf(path, ErrSchema, "variant %q (*%s) does not implement %s", name, entry.typ, fieldType)
	}

	// The discriminator stays in the payload only when the variant declares
	// a field for it.
	if !spec.outer {
		vsch, err := d.reg.schemaFor(entry.typ)
		if err != nil {
			return reflect.Value{}, fieldErr(path, err)
		}
		if vsch.field(spec.keyField) == nil {
			payload = withoutKey(payload, spec.keyField)
		}
	}

	mat, err := d.materialize(path, entry.typ, payload)
	if err != nil {
		return reflect.Value{}, err
	}
	cfg := mat.Addr()

	if spec.component {
		comp := Component{Name: entry.name, Config: cfg.Interface(), ctor: entry.ctor}
		return reflect.ValueOf(comp), nil
	}
	out := reflect.New(fieldType).Elem()
	out.Set(cfg)
	return out, nil
}

// fieldStructType returns the declared Go type of a choice field's storage.
func (d *decoder) fieldStructType(fs *fieldSpec) reflect.Type {
	return fs.typ.rtype
}

// splitChoice extracts the discriminator and the payload mapping from a
// choice node. A bare string is name-only selection with an empty payload; a
// mapping carries the discriminator under the key field, either inline or,
// for outer choices, in the parent mapping. A missing discriminator falls
// back to the field's declared default variant name.
func (d *decoder) splitChoice(path string, fs *fieldSpec, raw any, parent map[string]any, consumed map[string]bool) (string, map[string]any, error) {
	spec := fs.choice
	switch n := raw.(type) {
	case string:
		return n, map[string]any{}, nil

	case map[string]any:
		var kv any
		var ok bool
		keyPath := joinPath(path, spec.keyField)
		if spec.outer {
			// The discriminator sits beside the field, in the parent mapping.
			keyPath = joinPath(parentPath(path), spec.keyField)
			kv, ok = parent[spec.keyField]
			if ok {
				consumed[spec.keyField] = true
			}
		} else {
			kv, ok = n[spec.keyField]
		}
		if !ok {
			if def := d.defaultVariantName(fs); def != "" {
				return def, n, nil
			}
			return "", nil, fieldErrf(keyPath, ErrMissingField, "choice needs a variant name")
		}
		name, ok := kv.(string)
		if !ok {
			return "", nil, fieldErrf(keyPath, ErrTypeMismatch, "variant name must be a string, got %s", nodeKind(kv))
		}
		return name, n, nil

	case nil:
		if fs.optional {
			return "", nil, nil
		}
		return "", nil, fieldErrf(path, ErrTypeMismatch, "expected mapping or variant name, got null")

	default:
		return "", nil, fieldErrf(path, ErrTypeMismatch, "expected mapping or variant name, got %s", nodeKind(n))
	}
}

// defaultVariantName reports the variant a choice field falls back to when
// the discriminator is absent: a string-typed default literal.
func (d *decoder) defaultVariantName(fs *fieldSpec) string {
	if fs.def == nil || fs.def.construct {
		return ""
	}
	if name, ok := fs.def.node.(string); ok {
		return name
	}
	return ""
}

// withoutKey copies a mapping minus one key. The input is caller data and is
// never mutated.
func withoutKey(m map[string]any, key string) map[string]any {
	if _, ok := m[key]; !ok {
		return m
	}
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
