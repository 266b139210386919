package haven

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
)

// Permissive is an embeddable marker: a record embedding it accepts input
// keys that no field claims instead of failing with ErrUnexpectedField.
//
//	type Hooks struct {
//	    haven.Permissive
//	    Script string `haven:"script"`
//	}
type Permissive struct{}

// Defaulter is implemented by record types whose defaults come from a
// factory rather than field tags. SetDefaults runs on a freshly allocated
// record before input is applied, and every field of such a record counts as
// optional. Field-level default= tags still win over what SetDefaults left.
type Defaulter interface {
	SetDefaults()
}

// ================ type expressions ================

type kind uint8

const (
	kindInvalid kind = iota
	kindBool
	kindInt
	kindUint
	kindFloat
	kindString
	kindDuration
	kindText  // encoding.TextUnmarshaler scalar
	kindBytes // []byte from a string node
	kindAny
	kindOptional
	kindUnion
	kindSequence
	kindTuple
	kindMapping
	kindRecord
	kindChoice
)

// typeExpr is the recursive description of one declared field type. Record
// expressions keep only the reflect.Type; the sub-schema is resolved lazily
// on first use so recursive record types do not recurse at build time.
type typeExpr struct {
	kind  kind
	rtype reflect.Type // concrete Go type this expression produces
	elem  *typeExpr    // Optional/Sequence/Tuple element, Mapping value
	key   *typeExpr    // Mapping key
	alts  []typeExpr   // Union alternatives, in declared order
	arity int          // Tuple length
}

// exprString renders a type expression for error messages.
func exprString(e *typeExpr) string {
	switch e.kind {
	case kindBool, kindInt, kindUint, kindFloat, kindString, kindDuration, kindText, kindRecord:
		return e.rtype.String()
	case kindBytes:
		return "bytes"
	case kindAny:
		return "any"
	case kindOptional:
		return "*" + exprString(e.elem)
	case kindUnion:
		parts := make([]string, len(e.alts))
		for i := range e.alts {
			parts[i] = exprString(&e.alts[i])
		}
		return strings.Join(parts, " | ")
	case kindSequence:
		return "[]" + exprString(e.elem)
	case kindTuple:
		return fmt.Sprintf("[%d]%s", e.arity, exprString(e.elem))
	case kindMapping:
		return fmt.Sprintf("map[%s]%s", exprString(e.key), exprString(e.elem))
	case kindChoice:
		return "choice"
	default:
		return "invalid"
	}
}

// ================ schema ================

// schema is the immutable description of one record type: its fields in
// declaration order plus record-level markers. Built once per type per
// registry and shared after that.
type schema struct {
	rtype        reflect.Type
	fields       []fieldSpec
	byName       map[string]int
	permissive   bool
	hasDefaulter bool
	// outerKeys maps a discriminator key consumed from this record to the
	// choice field that consumes it, covering outer choice fields.
	outerKeys map[string]string
}

func (s *schema) field(name string) *fieldSpec {
	if i, ok := s.byName[name]; ok {
		return &s.fields[i]
	}
	return nil
}

// fieldSpec describes one field: document name, declared type, default, and
// choice metadata.
type fieldSpec struct {
	name     string
	index    int // struct field index
	typ      typeExpr
	optional bool
	def      *defaultSpec
	choice   *choiceSpec
}

// defaultSpec is a field default: either a parsed YAML literal re-coerced
// fresh per materialization, or a bare construct-the-zero-shape marker
// (empty mapping for records, empty sequence for slices, zero scalar).
type defaultSpec struct {
	node      any
	construct bool
}

// choiceSpec binds a field to a registered choice group.
type choiceSpec struct {
	group     string
	keyField  string
	outer     bool
	component bool // field is a haven.Component rather than an interface
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	componentType       = reflect.TypeOf(Component{})
	permissiveType      = reflect.TypeOf(Permissive{})
	anyType             = reflect.TypeOf((*any)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	defaulterType       = reflect.TypeOf((*Defaulter)(nil)).Elem()
)

// schemaErr builds an ErrSchema error naming the record and field.
func schemaErr(t reflect.Type, field, format string, args ...any) error {
	where := t.String()
	if field != "" {
		where += "." + field
	}
	return fmt.Errorf("%w: %s: %s", ErrSchema, where, fmt.Sprintf(format, args...))
}

// buildSchema reflects over a record type and produces its schema. Called
// once per type through the registry's single-flight cache.
func buildSchema(r *Registry, t reflect.Type) (*schema, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a record struct", ErrSchema, t)
	}
	s := &schema{
		rtype:        t,
		byName:       make(map[string]int),
		outerKeys:    make(map[string]string),
		hasDefaulter: reflect.PointerTo(t).Implements(defaulterType),
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous {
			if sf.Type == permissiveType {
				s.permissive = true
				continue
			}
			return nil, schemaErr(t, sf.Name, "embedded fields are not supported; declare a named field")
		}
		if !sf.IsExported() {
			continue
		}
		fs, err := buildField(r, t, sf, i)
		if err != nil {
			return nil, err
		}
		if fs == nil {
			continue // haven:"-"
		}
		if prev, dup := s.byName[fs.name]; dup {
			return nil, schemaErr(t, sf.Name, "duplicate field name %q (also on %s)", fs.name, t.Field(s.fields[prev].index).Name)
		}
		if s.hasDefaulter {
			fs.optional = true
		}
		s.byName[fs.name] = len(s.fields)
		s.fields = append(s.fields, *fs)
	}
	// Outer discriminators must be plain string fields when declared on the
	// record itself.
	for i := range s.fields {
		fs := &s.fields[i]
		if fs.choice == nil || !fs.choice.outer {
			continue
		}
		s.outerKeys[fs.choice.keyField] = fs.name
		if key := s.field(fs.choice.keyField); key != nil && key.typ.kind != kindString {
			return nil, schemaErr(t, t.Field(fs.index).Name, "outer key %q must be a string field", fs.choice.keyField)
		}
	}
	return s, nil
}

func buildField(r *Registry, owner reflect.Type, sf reflect.StructField, index int) (*fieldSpec, error) {
	tag, err := parseTag(sf.Tag.Get("haven"))
	if err != nil {
		return nil, schemaErr(owner, sf.Name, "%v", err)
	}
	if tag == nil {
		return nil, nil // skipped
	}
	fs := &fieldSpec{index: index, optional: tag.optional}
	fs.name = tag.name
	if fs.name == "" {
		fs.name = toSnake(sf.Name)
	}

	switch {
	case tag.choice != "" && tag.union != "":
		return nil, schemaErr(owner, sf.Name, "choice and union cannot be combined")

	case tag.choice != "":
		spec, expr, err := buildChoice(r, owner, sf, tag)
		if err != nil {
			return nil, err
		}
		fs.choice = spec
		fs.typ = expr

	case tag.union != "":
		if sf.Type != anyType {
			return nil, schemaErr(owner, sf.Name, "union fields must be declared as any, got %s", sf.Type)
		}
		alts, err := parseUnion(r, tag.union)
		if err != nil {
			return nil, schemaErr(owner, sf.Name, "%v", err)
		}
		fs.typ = typeExpr{kind: kindUnion, rtype: sf.Type, alts: alts}

	default:
		expr, err := exprFor(sf.Type)
		if err != nil {
			return nil, schemaErr(owner, sf.Name, "%v", err)
		}
		fs.typ = expr
	}

	if tag.key != "" && fs.choice == nil {
		return nil, schemaErr(owner, sf.Name, "key= applies only to choice fields")
	}
	if tag.outer && fs.choice == nil {
		return nil, schemaErr(owner, sf.Name, "outer applies only to choice fields")
	}
	if fs.typ.kind == kindOptional {
		fs.optional = true
	}

	if tag.hasDefault {
		def, err := buildDefault(r, owner, sf, fs, tag)
		if err != nil {
			return nil, err
		}
		fs.def = def
	}
	return fs, nil
}

// buildChoice validates a choice declaration: the group must be registered,
// and the field must be an interface (or haven.Component) able to hold every
// listed candidate.
func buildChoice(r *Registry, owner reflect.Type, sf reflect.StructField, tag *fieldTag) (*choiceSpec, typeExpr, error) {
	spec := &choiceSpec{group: tag.choice, keyField: tag.key, outer: tag.outer}
	if spec.keyField == "" {
		spec.keyField = "name"
	}
	src, ok := r.group(spec.group)
	if !ok {
		return nil, typeExpr{}, schemaErr(owner, sf.Name, "choice group %q is not registered", spec.group)
	}
	switch {
	case sf.Type == componentType:
		spec.component = true
	case sf.Type.Kind() == reflect.Interface:
		// Listed candidates are checkable now; lazy and discovered ones are
		// checked when they resolve.
		if listed, ok := src.(*listedSource); ok && sf.Type.NumMethod() > 0 {
			for _, e := range listed.entries {
				if !reflect.PointerTo(e.typ).Implements(sf.Type) {
					return nil, typeExpr{}, schemaErr(owner, sf.Name, "variant %q (*%s) does not implement %s", e.name, e.typ, sf.Type)
				}
			}
		}
	default:
		return nil, typeExpr{}, schemaErr(owner, sf.Name, "choice fields must be interfaces or haven.Component, got %s", sf.Type)
	}
	return spec, typeExpr{kind: kindChoice, rtype: sf.Type}, nil
}

// buildDefault parses and, where possible, type-checks a field default at
// schema build time so broken defaults fail before any document does.
func buildDefault(r *Registry, owner reflect.Type, sf reflect.StructField, fs *fieldSpec, tag *fieldTag) (*defaultSpec, error) {
	if tag.defaultExpr == "" {
		return &defaultSpec{construct: true}, nil
	}
	node, err := parseScalarLiteral(tag.defaultExpr)
	if err != nil {
		return nil, schemaErr(owner, sf.Name, "invalid default literal %q", tag.defaultExpr)
	}
	// Defaults that need a record (or a variant resolution) are checked on
	// first use instead; coercing them here could recurse into the schema
	// being built.
	if fs.choice == nil && !containsRecord(&fs.typ) {
		d := &decoder{reg: r}
		if _, err := d.coerce("", &fs.typ, node); err != nil {
			return nil, schemaErr(owner, sf.Name, "default literal %q does not fit %s: %v", tag.defaultExpr, exprString(&fs.typ), err)
		}
	}
	return &defaultSpec{node: node}, nil
}

func containsRecord(e *typeExpr) bool {
	switch e.kind {
	case kindRecord, kindChoice:
		return true
	case kindOptional, kindSequence, kindTuple:
		return containsRecord(e.elem)
	case kindMapping:
		return containsRecord(e.elem)
	case kindUnion:
		for i := range e.alts {
			if containsRecord(&e.alts[i]) {
				return true
			}
		}
	}
	return false
}

// exprFor derives the type expression for a plain (non-choice, non-union)
// Go type.
func exprFor(t reflect.Type) (typeExpr, error) {
	switch {
	case t == durationType:
		return typeExpr{kind: kindDuration, rtype: t}, nil
	case t == anyType:
		return typeExpr{kind: kindAny, rtype: t}, nil
	case t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(textUnmarshalerType):
		return typeExpr{kind: kindText, rtype: t}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return typeExpr{kind: kindBool, rtype: t}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return typeExpr{kind: kindInt, rtype: t}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return typeExpr{kind: kindUint, rtype: t}, nil
	case reflect.Float32, reflect.Float64:
		return typeExpr{kind: kindFloat, rtype: t}, nil
	case reflect.String:
		return typeExpr{kind: kindString, rtype: t}, nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return typeExpr{kind: kindBytes, rtype: t}, nil
		}
		elem, err := exprFor(t.Elem())
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{kind: kindSequence, rtype: t, elem: &elem}, nil

	case reflect.Array:
		elem, err := exprFor(t.Elem())
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{kind: kindTuple, rtype: t, elem: &elem, arity: t.Len()}, nil

	case reflect.Map:
		key, err := exprFor(t.Key())
		if err != nil {
			return typeExpr{}, err
		}
		switch key.kind {
		case kindString, kindInt, kindUint:
		default:
			return typeExpr{}, fmt.Errorf("mapping keys must be strings or integers, got %s", t.Key())
		}
		elem, err := exprFor(t.Elem())
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{kind: kindMapping, rtype: t, key: &key, elem: &elem}, nil

	case reflect.Struct:
		return typeExpr{kind: kindRecord, rtype: t}, nil

	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Pointer {
			return typeExpr{}, fmt.Errorf("pointer-to-pointer fields are not supported")
		}
		elem, err := exprFor(t.Elem())
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{kind: kindOptional, rtype: t, elem: &elem}, nil

	case reflect.Interface:
		return typeExpr{}, fmt.Errorf("interface fields need choice= or union= metadata (or be declared as any)")

	default:
		return typeExpr{}, fmt.Errorf("unsupported field type %s", t)
	}
}

// ================ union type references ================

// parseUnion parses "a|b|c" into alternative expressions, in declared order.
func parseUnion(r *Registry, expr string) ([]typeExpr, error) {
	parts := strings.Split(expr, "|")
	alts := make([]typeExpr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("union has an empty alternative")
		}
		alt, err := parseTypeRef(r, p)
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("union has no alternatives")
	}
	return alts, nil
}

// scalarRefs maps type names usable in union tags to their Go types.
var scalarRefs = map[string]reflect.Type{
	"bool":     reflect.TypeOf(false),
	"string":   reflect.TypeOf(""),
	"int":      reflect.TypeOf(int(0)),
	"int8":     reflect.TypeOf(int8(0)),
	"int16":    reflect.TypeOf(int16(0)),
	"int32":    reflect.TypeOf(int32(0)),
	"int64":    reflect.TypeOf(int64(0)),
	"uint":     reflect.TypeOf(uint(0)),
	"uint8":    reflect.TypeOf(uint8(0)),
	"uint16":   reflect.TypeOf(uint16(0)),
	"uint32":   reflect.TypeOf(uint32(0)),
	"uint64":   reflect.TypeOf(uint64(0)),
	"float32":  reflect.TypeOf(float32(0)),
	"float64":  reflect.TypeOf(float64(0)),
	"duration": durationType,
}

// parseTypeRef resolves one type reference from a union tag: a scalar name,
// []T, map[K]V, or the name of a type registered with AddType/AddTypes.
func parseTypeRef(r *Registry, ref string) (typeExpr, error) {
	switch {
	case strings.HasPrefix(ref, "[]"):
		elem, err := parseTypeRef(r, ref[2:])
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{kind: kindSequence, rtype: reflect.SliceOf(elem.rtype), elem: &elem}, nil

	case strings.HasPrefix(ref, "map["):
		end := strings.Index(ref, "]")
		if end < 0 {
			return typeExpr{}, fmt.Errorf("malformed map type %q", ref)
		}
		key, err := parseTypeRef(r, ref[4:end])
		if err != nil {
			return typeExpr{}, err
		}
		switch key.kind {
		case kindString, kindInt, kindUint:
		default:
			return typeExpr{}, fmt.Errorf("mapping keys must be strings or integers in %q", ref)
		}
		elem, err := parseTypeRef(r, ref[end+1:])
		if err != nil {
			return typeExpr{}, err
		}
		return typeExpr{
			kind:  kindMapping,
			rtype: reflect.MapOf(key.rtype, elem.rtype),
			key:   &key,
			elem:  &elem,
		}, nil
	}

	if t, ok := scalarRefs[ref]; ok {
		expr, err := exprFor(t)
		if err != nil {
			return typeExpr{}, err
		}
		return expr, nil
	}
	if e := r.lookupType(ref); e != nil {
		return typeExpr{kind: kindRecord, rtype: e.typ}, nil
	}
	return typeExpr{}, fmt.Errorf("unknown type %q in union (register it with AddType)", ref)
}

// ================ tag parsing ================

type fieldTag struct {
	name        string
	optional    bool
	outer       bool
	hasDefault  bool
	defaultExpr string
	choice      string
	key         string
	union       string
}

// parseTag parses a haven struct tag. A nil result means the field is
// skipped. Items are comma-separated, but commas inside brackets, braces,
// and quotes belong to the item, so default=[1, 2] works.
func parseTag(raw string) (*fieldTag, error) {
	if raw == "-" {
		return nil, nil
	}
	tag := &fieldTag{}
	items := splitTagItems(raw)
	for i, item := range items {
		if i == 0 && !strings.Contains(item, "=") && !isTagFlag(item) {
			tag.name = item
			continue
		}
		switch {
		case item == "":
			// trailing comma
		case item == "optional":
			tag.optional = true
		case item == "outer":
			tag.outer = true
		case item == "default":
			tag.hasDefault = true
		case strings.HasPrefix(item, "default="):
			tag.hasDefault = true
			tag.defaultExpr = item[len("default="):]
		case strings.HasPrefix(item, "choice="):
			tag.choice = item[len("choice="):]
		case strings.HasPrefix(item, "key="):
			tag.key = item[len("key="):]
		case strings.HasPrefix(item, "union="):
			tag.union = item[len("union="):]
		default:
			return nil, fmt.Errorf("unknown tag item %q", item)
		}
	}
	return tag, nil
}

func isTagFlag(item string) bool {
	return item == "optional" || item == "outer" || item == "default"
}

// splitTagItems splits a tag on commas at bracket depth zero.
func splitTagItems(raw string) []string {
	var items []string
	depth := 0
	quote := byte(0)
	start := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			items = append(items, raw[start:i])
			start = i + 1
		}
	}
	return append(items, raw[start:])
}

// toSnake derives the document key for an untagged field: NumLayers becomes
// num_layers, HTTPPort becomes http_port.
func toSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
