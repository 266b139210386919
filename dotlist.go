package haven

import (
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ================ dotlist grammar ================

// parseDotlistEntry splits one "path.to.field=value" assignment into its path
// segments and a parsed scalar. The value side uses YAML scalar grammar, so
// "null", "true", "0.5", quoted strings, and flow collections like "[1, 2]"
// all parse the way a document would.
func parseDotlistEntry(entry string) ([]string, any, error) {
	eq := strings.Index(entry, "=")
	if eq < 0 {
		return nil, nil, fieldErrf("", ErrParse, "override %q has no '='", entry)
	}
	key := strings.TrimSpace(entry[:eq])
	if key == "" {
		return nil, nil, fieldErrf("", ErrParse, "override %q has an empty path", entry)
	}
	segs := strings.Split(key, ".")
	for _, seg := range segs {
		if strings.TrimSpace(seg) == "" {
			return nil, nil, fieldErrf("", ErrParse, "override %q has an empty path segment", entry)
		}
	}
	rhs := strings.TrimSpace(entry[eq+1:])
	if rhs == "" {
		return nil, nil, fieldErrf("", ErrParse, "override %q has no value (use null to clear)", entry)
	}
	val, err := parseScalarLiteral(rhs)
	if err != nil {
		return nil, nil, fieldErrf(key, ErrParse, "override value %q: %v", rhs, err)
	}
	return segs, val, nil
}

// ================ path validation ================

// checkOverride validates one assignment against the schema and the current
// document: every intermediate segment must address a declared field or map
// key, the discriminator of a resolved choice cannot be reassigned, and the
// value must coerce to the addressed type.
func checkOverride(reg *Registry, strict bool, t reflect.Type, tree Tree, segs []string, val any) error {
	w := overrideWalker{reg: reg, strict: strict}
	return w.record(t, tree, "", "", segs, val)
}

type overrideWalker struct {
	reg    *Registry
	strict bool
}

// record validates the remaining path against the schema of a record type.
// protect names an injected discriminator that must not be reassigned.
func (w overrideWalker) record(t reflect.Type, tree map[string]any, path, protect string, segs []string, val any) error {
	sch, err := w.reg.schemaFor(t)
	if err != nil {
		return fieldErr(path, err)
	}
	seg := segs[0]
	spath := joinPath(path, seg)
	if seg == protect {
		return fieldErrf(spath, ErrInvalidPath, "selects the variant and cannot be overridden")
	}
	if field, ok := sch.outerKeys[seg]; ok {
		return fieldErrf(spath, ErrInvalidPath, "selects the variant of %q and cannot be overridden", field)
	}
	fs := sch.field(seg)
	if fs == nil {
		if sch.permissive {
			return nil
		}
		return fieldErrf(spath, ErrInvalidPath, "not a field of %s", t)
	}
	rest := segs[1:]
	if fs.choice != nil {
		if len(rest) == 0 {
			return fieldErrf(spath, ErrInvalidPath, "a choice field cannot be replaced wholesale; override its fields instead")
		}
		return w.choice(fs, tree, spath, rest, val)
	}
	if len(rest) == 0 {
		d := &decoder{reg: w.reg, strictUnions: w.strict}
		_, err := d.coerce(spath, &fs.typ, val)
		return err
	}
	sub, _ := tree[seg].(map[string]any)
	return w.expr(&fs.typ, sub, spath, rest, val)
}

// choice descends into a resolved choice field. The variant is read from the
// current document, since the schema alone cannot know which record the
// payload follows.
func (w overrideWalker) choice(fs *fieldSpec, tree map[string]any, path string, segs []string, val any) error {
	spec := fs.choice
	src, ok := w.reg.group(spec.group)
	if !ok {
		return fieldErrf(path, ErrSchema, "choice group %q is not registered", spec.group)
	}
	payload, _ := tree[fs.name].(map[string]any)
	var rawName any
	if spec.outer {
		rawName = tree[spec.keyField]
	} else if payload != nil {
		rawName = payload[spec.keyField]
	}
	name, _ := rawName.(string)
	if name == "" {
		return fieldErrf(path, ErrInvalidPath, "choice is unset; select a variant in the document, not through an override")
	}
	entry, err := src.resolve(w.reg, name)
	if err != nil {
		return fieldErr(path, err)
	}
	protect := ""
	if !spec.outer {
		protect = spec.keyField
	}
	return w.record(entry.typ, payload, path, protect, segs, val)
}

// expr validates the remaining path against a non-choice type expression.
// Mapping segments address keys; sequences cannot be addressed.
func (w overrideWalker) expr(x *typeExpr, tree map[string]any, path string, segs []string, val any) error {
	for x.kind == kindOptional {
		x = x.elem
	}
	switch x.kind {
	case kindRecord:
		return w.record(x.rtype, tree, path, "", segs, val)
	case kindMapping:
		seg := segs[0]
		spath := joinPath(path, seg)
		if len(segs) == 1 {
			d := &decoder{reg: w.reg, strictUnions: w.strict}
			_, err := d.coerce(spath, x.elem, val)
			return err
		}
		sub, _ := tree[seg].(map[string]any)
		return w.expr(x.elem, sub, spath, segs[1:], val)
	case kindAny:
		return nil
	case kindSequence, kindTuple:
		return fieldErrf(path, ErrInvalidPath, "cannot address elements of a sequence")
	default:
		return fieldErrf(joinPath(path, segs[0]), ErrInvalidPath, "%s has no nested fields", exprString(x))
	}
}

// ================ update operations ================

// Update returns a copy of cfg with the override tree merged in. Every
// override path is validated against the schema and every value against the
// addressed type before anything is applied; cfg itself is never mutated.
// The result is materialized fresh, so defaults and validation run against
// the merged document.
//
// The variant of a resolved choice field cannot be changed: assignments to a
// discriminator key fail with ErrInvalidPath.
func Update[T any](cfg *T, overrides Tree, opts ...Option) (*T, error) {
	o := newOptions(opts)
	tree, err := Encode(cfg, opts...)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeFor[T]()

	flat := Flatten(overrides)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs *multierror.Error
	for _, k := range keys {
		if err := checkOverride(o.registry, o.strictUnions, t, tree, strings.Split(k, "."), flat[k]); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	Merge(tree, overrides)
	return decodeTree[T](o, tree)
}

// UpdateFromDotlist applies "path.to.field=value" assignments to a
// materialized record, returning a new one. Entries apply in order, so a
// later assignment to the same path wins. All entries are validated before
// any is applied; on error the returned record is nil and cfg is untouched.
func UpdateFromDotlist[T any](cfg *T, entries []string, opts ...Option) (*T, error) {
	o := newOptions(opts)
	tree, err := Encode(cfg, opts...)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeFor[T]()

	type assign struct {
		segs []string
		val  any
	}
	assigns := make([]assign, 0, len(entries))
	var errs *multierror.Error
	for _, entry := range entries {
		segs, val, err := parseDotlistEntry(entry)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := checkOverride(o.registry, o.strictUnions, t, tree, segs, val); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		assigns = append(assigns, assign{segs, val})
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	for _, a := range assigns {
		setPath(tree, a.segs, a.val)
	}
	return decodeTree[T](o, tree)
}

// ApplyDotlist applies raw "path.to.key=value" assignments to a document
// that has not been materialized yet. No schema walk happens here: a
// pre-materialization override may introduce new keys and even switch a
// choice variant, since resolution has not run. Entries apply in order;
// assigning through a scalar replaces it with a mapping.
func ApplyDotlist(tree Tree, entries ...string) error {
	var errs *multierror.Error
	for _, entry := range entries {
		segs, val, err := parseDotlistEntry(entry)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		setPath(tree, segs, val)
	}
	return errs.ErrorOrNil()
}
