package haven

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// coerce converts one untyped node to the declared type expression. It never
// mutates node, never drops data, and reports failures as path-qualified
// TypeMismatch errors. Record expressions delegate to materialize.
func (d *decoder) coerce(path string, e *typeExpr, node any) (reflect.Value, error) {
	switch e.kind {
	case kindBool:
		return d.coerceBool(path, e, node)
	case kindInt:
		return d.coerceInt(path, e, node)
	case kindUint:
		return d.coerceUint(path, e, node)
	case kindFloat:
		return d.coerceFloat(path, e, node)
	case kindString:
		s, ok := node.(string)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		v := reflect.New(e.rtype).Elem()
		v.SetString(s)
		return v, nil
	case kindDuration:
		return d.coerceDuration(path, e, node)
	case kindText:
		return d.coerceText(path, e, node)
	case kindBytes:
		s, ok := node.(string)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		v := reflect.New(e.rtype).Elem()
		v.SetBytes([]byte(s))
		return v, nil
	case kindAny:
		v := reflect.New(anyType).Elem()
		if node != nil {
			v.Set(reflect.ValueOf(copyValue(node)))
		}
		return v, nil
	case kindOptional:
		if node == nil {
			return reflect.Zero(e.rtype), nil
		}
		ev, err := d.coerce(path, e.elem, node)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(e.rtype.Elem())
		p.Elem().Set(ev)
		return p, nil
	case kindUnion:
		return d.coerceUnion(path, e, node)
	case kindSequence:
		return d.coerceSequence(path, e, node)
	case kindTuple:
		return d.coerceTuple(path, e, node)
	case kindMapping:
		return d.coerceMapping(path, e, node)
	case kindRecord:
		m, ok := node.(map[string]any)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		return d.materialize(path, e.rtype, m)
	case kindChoice:
		// Choice fields resolve at the field level in materialize; a choice
		// expression reaching coerce means the schema was built wrong.
		return reflect.Value{}, fieldErrf(path, ErrSchema, "choice expression outside a record field")
	default:
		return reflect.Value{}, fieldErrf(path, ErrSchema, "invalid type expression")
	}
}

// mismatch builds the standard TypeMismatch error for a node that does not
// fit an expression.
func mismatch(path string, e *typeExpr, node any) error {
	return fieldErrf(path, ErrTypeMismatch, "expected %s, got %s", exprString(e), nodeKind(node))
}

func (d *decoder) coerceBool(path string, e *typeExpr, node any) (reflect.Value, error) {
	var b bool
	switch n := node.(type) {
	case bool:
		b = n
	case string:
		// The document grammar spells booleans as bare words; quoted
		// variants from override strings are honored too.
		switch n {
		case "true", "True":
			b = true
		case "false", "False":
			b = false
		default:
			return reflect.Value{}, mismatch(path, e, node)
		}
	default:
		return reflect.Value{}, mismatch(path, e, node)
	}
	v := reflect.New(e.rtype).Elem()
	v.SetBool(b)
	return v, nil
}

// intNode reads an integer node of any width. ok is false for non-integer
// nodes, including floats: truncation is never silent.
func intNode(node any) (int64, bool) {
	if node == nil {
		return 0, false
	}
	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > uint64(maxInt64) {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

const maxInt64 = int64(^uint64(0) >> 1)

func (d *decoder) coerceInt(path string, e *typeExpr, node any) (reflect.Value, error) {
	i, ok := intNode(node)
	if !ok {
		return reflect.Value{}, mismatch(path, e, node)
	}
	v := reflect.New(e.rtype).Elem()
	if v.OverflowInt(i) {
		return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "%d out of range for %s", i, e.rtype)
	}
	v.SetInt(i)
	return v, nil
}

func (d *decoder) coerceUint(path string, e *typeExpr, node any) (reflect.Value, error) {
	var u uint64
	if rv := reflect.ValueOf(node); node != nil && rv.Kind() >= reflect.Uint && rv.Kind() <= reflect.Uint64 {
		u = rv.Uint()
	} else {
		i, ok := intNode(node)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		if i < 0 {
			return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "negative value %d for unsigned %s", i, e.rtype)
		}
		u = uint64(i)
	}
	v := reflect.New(e.rtype).Elem()
	if v.OverflowUint(u) {
		return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "%d out of range for %s", u, e.rtype)
	}
	v.SetUint(u)
	return v, nil
}

func (d *decoder) coerceFloat(path string, e *typeExpr, node any) (reflect.Value, error) {
	var f float64
	switch n := node.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		// Integer literals widen to float fields.
		i, ok := intNode(node)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		f = float64(i)
	}
	v := reflect.New(e.rtype).Elem()
	if v.OverflowFloat(f) {
		return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "%v out of range for %s", f, e.rtype)
	}
	v.SetFloat(f)
	return v, nil
}

func (d *decoder) coerceDuration(path string, e *typeExpr, node any) (reflect.Value, error) {
	var dur time.Duration
	switch n := node.(type) {
	case string:
		parsed, err := time.ParseDuration(n)
		if err != nil {
			return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "invalid duration %q", n)
		}
		dur = parsed
	default:
		// Bare integers are nanoseconds, matching the YAML decoder contract.
		i, ok := intNode(node)
		if !ok {
			return reflect.Value{}, mismatch(path, e, node)
		}
		dur = time.Duration(i)
	}
	v := reflect.New(e.rtype).Elem()
	v.SetInt(int64(dur))
	return v, nil
}

func (d *decoder) coerceText(path string, e *typeExpr, node any) (reflect.Value, error) {
	s, ok := node.(string)
	if !ok {
		return reflect.Value{}, mismatch(path, e, node)
	}
	p := reflect.New(e.rtype)
	if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "invalid %s text %q: %v", e.rtype, s, err)
	}
	return p.Elem(), nil
}

// coerceUnion tries each alternative in declared order. Without strict
// matching the first success wins; with it, all alternatives are tried and a
// second success is an error.
func (d *decoder) coerceUnion(path string, e *typeExpr, node any) (reflect.Value, error) {
	var (
		match    reflect.Value
		matched  []string
		failures []string
	)
	for i := range e.alts {
		alt := &e.alts[i]
		v, err := d.coerce(path, alt, node)
		if err != nil {
			failures = append(failures, exprString(alt))
			continue
		}
		if !d.strictUnions {
			return boxAny(v), nil
		}
		if len(matched) == 0 {
			match = v
		}
		matched = append(matched, exprString(alt))
	}
	switch len(matched) {
	case 0:
		return reflect.Value{}, fieldErrf(path, ErrNoUnionMatch, "%s does not fit %s", nodeKind(node), strings.Join(failures, " | "))
	case 1:
		return boxAny(match), nil
	default:
		return reflect.Value{}, fieldErrf(path, ErrAmbiguousUnion, "fits %s", strings.Join(matched, " and "))
	}
}

// boxAny wraps a concrete value in an any-typed reflect.Value so it can be
// assigned to a union field.
func boxAny(v reflect.Value) reflect.Value {
	out := reflect.New(anyType).Elem()
	out.Set(v)
	return out
}

func (d *decoder) coerceSequence(path string, e *typeExpr, node any) (reflect.Value, error) {
	seq, ok := node.([]any)
	if !ok {
		return reflect.Value{}, mismatch(path, e, node)
	}
	out := reflect.MakeSlice(e.rtype, len(seq), len(seq))
	for i, n := range seq {
		ev, err := d.coerce(fmt.Sprintf("%s[%d]", path, i), e.elem, n)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func (d *decoder) coerceTuple(path string, e *typeExpr, node any) (reflect.Value, error) {
	seq, ok := node.([]any)
	if !ok {
		return reflect.Value{}, mismatch(path, e, node)
	}
	if len(seq) != e.arity {
		return reflect.Value{}, fieldErrf(path, ErrTypeMismatch, "expected %d elements, got %d", e.arity, len(seq))
	}
	out := reflect.New(e.rtype).Elem()
	for i, n := range seq {
		ev, err := d.coerce(fmt.Sprintf("%s[%d]", path, i), e.elem, n)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func (d *decoder) coerceMapping(path string, e *typeExpr, node any) (reflect.Value, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return reflect.Value{}, mismatch(path, e, node)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := reflect.MakeMapWithSize(e.rtype, len(m))
	for _, k := range keys {
		kv, err := d.coerceKey(path, e.key, k)
		if err != nil {
			return reflect.Value{}, err
		}
		vv, err := d.coerce(joinPath(path, k), e.elem, m[k])
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(kv, vv)
	}
	return out, nil
}

// coerceKey converts a mapping key, which always arrives as text, to the
// declared key type.
func (d *decoder) coerceKey(path string, e *typeExpr, key string) (reflect.Value, error) {
	v := reflect.New(e.rtype).Elem()
	switch e.kind {
	case kindString:
		v.SetString(key)
	case kindInt:
		i, err := strconv.ParseInt(key, 10, 64)
		if err != nil || v.OverflowInt(i) {
			return reflect.Value{}, fieldErrf(joinPath(path, key), ErrTypeMismatch, "invalid %s mapping key %q", e.rtype, key)
		}
		v.SetInt(i)
	case kindUint:
		u, err := strconv.ParseUint(key, 10, 64)
		if err != nil || v.OverflowUint(u) {
			return reflect.Value{}, fieldErrf(joinPath(path, key), ErrTypeMismatch, "invalid %s mapping key %q", e.rtype, key)
		}
		v.SetUint(u)
	default:
		return reflect.Value{}, fieldErrf(path, ErrSchema, "unsupported mapping key type %s", e.rtype)
	}
	return v, nil
}
