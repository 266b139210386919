package haven

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// options collects the per-call knobs shared by load, decode, dump, and
// update operations.
type options struct {
	registry     *Registry
	strictUnions bool
	validate     bool
	omitAbsent   bool
	overrides    []Tree
	dotlist      []string
	fs           afero.Fs
	includeDir   string
	logger       zerolog.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		registry: defaultRegistry,
		fs:       afero.NewOsFs(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option adjusts one load, decode, dump, or update call.
type Option func(*options)

// WithRegistry uses an isolated registry instead of the process default.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithStrictUnions makes union coercion try every alternative and fail with
// ErrAmbiguousUnion when more than one fits. Without it the first declared
// alternative that accepts the value wins.
func WithStrictUnions() Option {
	return func(o *options) { o.strictUnions = true }
}

// WithValidation runs validate struct tags over the materialized record and
// fails the call when they do not hold.
func WithValidation() Option {
	return func(o *options) { o.validate = true }
}

// WithOmitAbsent drops unset optional fields from dumps instead of emitting
// them as null.
func WithOmitAbsent() Option {
	return func(o *options) { o.omitAbsent = true }
}

// WithOverrides merges override trees into the document before it is
// materialized, in the order given. Later trees win where they overlap.
func WithOverrides(overrides ...Tree) Option {
	return func(o *options) { o.overrides = append(o.overrides, overrides...) }
}

// WithDotlist applies "path.to.field=value" assignments to the document
// before it is materialized. Unlike Update, these run before resolution and
// may introduce new keys or select a different variant.
func WithDotlist(entries ...string) Option {
	return func(o *options) { o.dotlist = append(o.dotlist, entries...) }
}

// WithFS reads documents and includes through fsys instead of the host
// filesystem.
func WithFS(fsys afero.Fs) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithIncludeDir resolves relative include paths against dir instead of the
// including document's directory.
func WithIncludeDir(dir string) Option {
	return func(o *options) { o.includeDir = dir }
}

// WithLogger routes watcher and reload events to l. The default discards
// them.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// applyPre merges option-supplied overrides and dotlist assignments into a
// parsed document.
func (o *options) applyPre(tree Tree) error {
	for _, ov := range o.overrides {
		Merge(tree, ov)
	}
	return ApplyDotlist(tree, o.dotlist...)
}

// ================ load ================

// Load parses a YAML document and materializes it into a T. Missing required
// fields, undeclared keys, and coercion failures are collected across the
// whole document and reported together, each prefixed with its dotted path.
func Load[T any](data []byte, opts ...Option) (*T, error) {
	o := newOptions(opts)
	tree, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	if err := o.applyPre(tree); err != nil {
		return nil, err
	}
	return decodeTree[T](o, tree)
}

// LoadReader reads a YAML document from r and materializes it into a T.
func LoadReader[T any](r io.Reader, opts ...Option) (*T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return Load[T](data, opts...)
}

// LoadFile reads a YAML document from the filesystem and materializes it
// into a T. Include tags in the document resolve relative to its directory
// unless WithIncludeDir is given.
func LoadFile[T any](path string, opts ...Option) (*T, error) {
	o := newOptions(opts)
	tree, err := parseTreeFile(o.fs, path, o.includeDir)
	if err != nil {
		return nil, err
	}
	if err := o.applyPre(tree); err != nil {
		return nil, err
	}
	return decodeTree[T](o, tree)
}

// ================ dump ================

// Dump writes the YAML form of a record to w. The output reloads to a record
// equal to v: resolved choice fields carry their discriminator and unset
// optionals dump as null unless WithOmitAbsent is given.
func Dump(w io.Writer, v any, opts ...Option) error {
	tree, err := Encode(v, opts...)
	if err != nil {
		return err
	}
	return EmitTreeTo(w, tree)
}

// DumpString returns the YAML form of a record.
func DumpString(v any, opts ...Option) (string, error) {
	tree, err := Encode(v, opts...)
	if err != nil {
		return "", err
	}
	return EmitTree(tree)
}
