package haven

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry holds everything the engine shares across calls: built schemas,
// named record types, choice groups, and plugin registrations. The zero
// registry is not usable; construct one with NewRegistry or use the process
// default. All methods are safe for concurrent use; schemas build exactly
// once per record type even under concurrent first use.
//
// The process-wide default registry backs the package-level Register
// functions and every operation that is not given WithRegistry. Tests that
// need isolation construct their own.
type Registry struct {
	mu      sync.RWMutex
	schemas map[reflect.Type]*schemaEntry
	types   map[string]*variantEntry
	groups  map[string]ChoiceSource
	plugins map[string]map[string]*variantEntry
}

type schemaEntry struct {
	once   sync.Once
	schema *schema
	err    error
}

// variantEntry is one resolvable choice candidate: the record type to
// materialize and, when the variant was registered as a function, the
// constructor to couple with it.
type variantEntry struct {
	name string
	typ  reflect.Type
	ctor reflect.Value // zero when the variant has no constructor
}

// NewRegistry returns an empty, isolated registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[reflect.Type]*schemaEntry),
		types:   make(map[string]*variantEntry),
		groups:  make(map[string]ChoiceSource),
		plugins: make(map[string]map[string]*variantEntry),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when no
// WithRegistry option is given.
func DefaultRegistry() *Registry { return defaultRegistry }

// schemaFor returns the cached schema for a record type, building it on
// first use. Concurrent callers for the same type block on a single build.
func (r *Registry) schemaFor(t reflect.Type) (*schema, error) {
	r.mu.RLock()
	e := r.schemas[t]
	r.mu.RUnlock()
	if e == nil {
		r.mu.Lock()
		if e = r.schemas[t]; e == nil {
			e = &schemaEntry{}
			r.schemas[t] = e
		}
		r.mu.Unlock()
	}
	e.once.Do(func() {
		e.schema, e.err = buildSchema(r, t)
	})
	return e.schema, e.err
}

// AddType registers a record type or constructor function under an explicit
// name, making it resolvable by Refs choice sources and by union type
// references in field tags.
func (r *Registry) AddType(name string, impl any) error {
	entry, err := newVariantEntry(name, impl)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[name]; dup {
		return fmt.Errorf("type %q already registered", name)
	}
	r.types[name] = entry
	return nil
}

// AddTypes registers record types under their own Go type names.
func (r *Registry) AddTypes(impls ...any) error {
	for _, impl := range impls {
		t, err := recordTypeOf(impl)
		if err != nil {
			return err
		}
		if t.Name() == "" {
			return fmt.Errorf("cannot derive a name for anonymous type %s", t)
		}
		if err := r.AddType(t.Name(), impl); err != nil {
			return err
		}
	}
	return nil
}

// AddGroup registers a choice group under a name that haven struct tags
// reference with choice=<name>.
func (r *Registry) AddGroup(name string, src ChoiceSource) error {
	if src == nil {
		return fmt.Errorf("choice group %q has no source", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.groups[name]; dup {
		return fmt.Errorf("choice group %q already registered", name)
	}
	r.groups[name] = src
	return nil
}

// AddPlugin registers a variant under a plugin namespace. Packages providing
// variants call this from init so that a blank import is enough to make a
// variant discoverable. impl may be a record value, a pointer to one, or a
// constructor function whose first parameter is the record.
func (r *Registry) AddPlugin(namespace, name string, impl any) error {
	entry, err := newVariantEntry(name, impl)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.plugins[namespace]
	if ns == nil {
		ns = make(map[string]*variantEntry)
		r.plugins[namespace] = ns
	}
	if _, dup := ns[name]; dup {
		return fmt.Errorf("duplicate choice name %q in namespace %q", name, namespace)
	}
	ns[name] = entry
	return nil
}

func (r *Registry) lookupType(path string) *variantEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[path]
}

func (r *Registry) group(name string) (ChoiceSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.groups[name]
	return src, ok
}

func (r *Registry) pluginVariant(namespace, name string) (*variantEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[namespace][name]
	return e, ok
}

func (r *Registry) pluginNames(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins[namespace]))
	for name := range r.plugins[namespace] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ================ choice sources ================

// ChoiceSource enumerates the candidate variants of one choice group and
// resolves a discriminator value to a concrete record type. Sources are
// created with Types, Named, Refs, or Discover and bound to a single
// registry via AddGroup.
type ChoiceSource interface {
	resolve(r *Registry, name string) (*variantEntry, error)
	variantNames(r *Registry) []string
	// nameOf reports the registered name for a resolved record type, used
	// when dumping to recover the discriminator. ok is false when the type
	// is not (or not yet) part of the group.
	nameOf(r *Registry, t reflect.Type) (string, bool)
}

// Types builds a Listed choice source from record values or pointers; each
// variant is named after its Go type.
func Types(impls ...any) ChoiceSource {
	entries := make([]*variantEntry, 0, len(impls))
	for _, impl := range impls {
		t, err := recordTypeOf(impl)
		if err != nil {
			return badSource{err}
		}
		if t.Name() == "" {
			return badSource{fmt.Errorf("cannot derive a name for anonymous type %s", t)}
		}
		e, err := newVariantEntry(t.Name(), impl)
		if err != nil {
			return badSource{err}
		}
		entries = append(entries, e)
	}
	return &listedSource{entries: entries}
}

// Named builds a Listed choice source with explicit variant names. Values
// may be record values, pointers, or constructor functions whose first
// parameter is the record; constructors make the group usable for Component
// fields. Candidate order is the sorted name order.
func Named(variants map[string]any) ChoiceSource {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]*variantEntry, 0, len(names))
	for _, name := range names {
		e, err := newVariantEntry(name, variants[name])
		if err != nil {
			return badSource{err}
		}
		entries = append(entries, e)
	}
	return &listedSource{entries: entries}
}

// Refs builds a lazy choice source from registry type paths such as
// "models/GPT2Config". The variant name is the final path segment; the
// concrete type is looked up in the registry only when that variant is first
// selected, so candidates may be provided by packages that register
// themselves in init. A selected path with no registration fails with
// ErrPluginLoad.
func Refs(paths ...string) ChoiceSource {
	entries := make([]*refEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, &refEntry{name: refName(p), path: p})
	}
	return &refsSource{entries: entries}
}

// Discover builds a Plugin choice source over a namespace: the candidate set
// is whatever AddPlugin registered under that namespace, enumerated in
// lexicographic name order. A package that is imported but registers nothing
// simply contributes no variants.
func Discover(namespace string) ChoiceSource {
	return &discoverSource{namespace: namespace}
}

// refName derives a variant name from a registry path: the segment after the
// last slash.
func refName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// badSource defers a construction error to registration time so that Types
// and Named stay usable inline in AddGroup calls.
type badSource struct{ err error }

func (b badSource) resolve(*Registry, string) (*variantEntry, error) { return nil, b.err }
func (b badSource) variantNames(*Registry) []string { return nil }
func (b badSource) nameOf(*Registry, reflect.Type) (string, bool) { return "", false }

type listedSource struct {
	entries []*variantEntry
}

func (s *listedSource) resolve(_ *Registry, name string) (*variantEntry, error) {
	for _, e := range s.entries {
		if e.name == name {
			return e, nil
		}
	}
	return nil, unknownVariantErr(name, s.variantNames(nil))
}

func (s *listedSource) variantNames(*Registry) []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

func (s *listedSource) nameOf(_ *Registry, t reflect.Type) (string, bool) {
	for _, e := range s.entries {
		if e.typ == t {
			return e.name, true
		}
	}
	return "", false
}

type refEntry struct {
	name string
	path string

	once  sync.Once
	entry atomic.Pointer[variantEntry]
	err   error
}

type refsSource struct {
	entries []*refEntry
}

func (s *refsSource) resolve(r *Registry, name string) (*variantEntry, error) {
	for _, re := range s.entries {
		if re.name != name {
			continue
		}
		re.once.Do(func() {
			target := r.lookupType(re.path)
			if target == nil {
				re.err = fmt.Errorf("%w: no type registered at %q (missing import of the providing package?)", ErrPluginLoad, re.path)
				return
			}
			re.entry.Store(&variantEntry{name: re.name, typ: target.typ, ctor: target.ctor})
		})
		if re.err != nil {
			return nil, re.err
		}
		return re.entry.Load(), nil
	}
	return nil, unknownVariantErr(name, s.variantNames(r))
}

func (s *refsSource) variantNames(*Registry) []string {
	names := make([]string, len(s.entries))
	for i, re := range s.entries {
		names[i] = re.name
	}
	return names
}

func (s *refsSource) nameOf(_ *Registry, t reflect.Type) (string, bool) {
	for _, re := range s.entries {
		// Only variants that resolved at least once can hold a value.
		if e := re.entry.Load(); e != nil && e.typ == t {
			return re.name, true
		}
	}
	return "", false
}

type discoverSource struct {
	namespace string
}

func (s *discoverSource) resolve(r *Registry, name string) (*variantEntry, error) {
	if e, ok := r.pluginVariant(s.namespace, name); ok {
		return e, nil
	}
	return nil, unknownVariantErr(name, r.pluginNames(s.namespace))
}

func (s *discoverSource) variantNames(r *Registry) []string {
	return r.pluginNames(s.namespace)
}

func (s *discoverSource) nameOf(r *Registry, t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.plugins[s.namespace] {
		if e.typ == t {
			return name, true
		}
	}
	return "", false
}

func unknownVariantErr(name string, available []string) error {
	if len(available) == 0 {
		return fmt.Errorf("%w: %q (no variants available)", ErrUnknownVariant, name)
	}
	return fmt.Errorf("%w: %q (available: %s)", ErrUnknownVariant, name, strings.Join(available, ", "))
}

// recordTypeOf extracts the record struct type from a value, a pointer to
// one, or a constructor function whose first parameter is the record.
func recordTypeOf(impl any) (reflect.Type, error) {
	if impl == nil {
		return nil, fmt.Errorf("nil is not a record")
	}
	t := reflect.TypeOf(impl)
	switch t.Kind() {
	case reflect.Struct:
		return t, nil
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			return t.Elem(), nil
		}
	case reflect.Func:
		if t.NumIn() == 0 {
			return nil, fmt.Errorf("constructor %s must take its record as the first parameter", t)
		}
		in := t.In(0)
		if in.Kind() == reflect.Pointer {
			in = in.Elem()
		}
		if in.Kind() == reflect.Struct {
			return in, nil
		}
		return nil, fmt.Errorf("constructor %s must take a record struct as the first parameter", t)
	}
	return nil, fmt.Errorf("%s is not a record struct, pointer, or constructor", t)
}

// newVariantEntry builds a variant from a record value, pointer, or
// constructor function.
func newVariantEntry(name string, impl any) (*variantEntry, error) {
	typ, err := recordTypeOf(impl)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", name, err)
	}
	e := &variantEntry{name: name, typ: typ}
	if v := reflect.ValueOf(impl); v.Kind() == reflect.Func {
		e.ctor = v
	}
	return e, nil
}

// ================ process-default registration ================

// RegisterType registers a named type in the default registry. It is meant
// for init-time use and panics on misuse, like database/sql driver
// registration.
func RegisterType(name string, impl any) {
	if err := defaultRegistry.AddType(name, impl); err != nil {
		panic("haven: " + err.Error())
	}
}

// RegisterTypes registers record types in the default registry under their
// Go type names. Panics on misuse.
func RegisterTypes(impls ...any) {
	if err := defaultRegistry.AddTypes(impls...); err != nil {
		panic("haven: " + err.Error())
	}
}

// RegisterGroup registers a choice group in the default registry. Panics on
// misuse.
func RegisterGroup(name string, src ChoiceSource) {
	if err := defaultRegistry.AddGroup(name, src); err != nil {
		panic("haven: " + err.Error())
	}
}

// RegisterPlugin registers a plugin variant in the default registry. Panics
// on misuse.
func RegisterPlugin(namespace, name string, impl any) {
	if err := defaultRegistry.AddPlugin(namespace, name, impl); err != nil {
		panic("haven: " + err.Error())
	}
}
