// Package haven materializes YAML configuration documents into plain Go
// structs. It provides schema-driven loading with type coercion, defaults,
// discriminated choice fields resolved through a registry, dotted-path
// overrides, and a dump that round-trips back to a loadable document.
//
// The package reflects a schema from struct declarations once per type,
// then materializes documents against it. Every error is qualified with the
// dotted path of the offending field, and a single load reports all field
// errors together rather than stopping at the first.
//
// # Basic Usage
//
// Declare a record struct, then load a document into it with [Load],
// [LoadFile], or [LoadReader]:
//
//	type ServerConfig struct {
//	    Host    string        `haven:"host,default=localhost"`
//	    Port    int           `haven:"port"`
//	    Timeout time.Duration `haven:"timeout,default=30s"`
//	    Debug   bool          `haven:"debug,optional"`
//	}
//
//	cfg, err := haven.Load[ServerConfig](data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Fields are required unless they are pointers, carry a default, or are
// marked optional. A missing required field, an undeclared document key, and
// a value of the wrong shape all fail the load.
//
// # Field Tags
//
// The haven tag names a field and attaches metadata:
//
//	haven:"<name>[,optional][,default=<literal>][,choice=<group>][,key=<field>][,outer][,union=<type>|<type>...]"
//
// An untagged field uses the snake_case form of its Go name (NumLayers
// becomes num_layers). A tag of "-" hides the field from the schema.
// Defaults are YAML literals, so default=[0.9, 0.999] declares a sequence
// default that is built fresh for every load.
//
// # Coercion
//
// Values coerce by shape, never by accident: integers widen to floats, but
// floats never truncate to integers, and only string fields accept strings.
// Durations accept Go duration strings ("250ms") and integer nanoseconds.
// Types implementing encoding.TextUnmarshaler, such as time.Time or
// netip.Addr, load from strings.
//
// # Choice Fields
//
// A choice field holds one of several record types, selected by a
// discriminator key in the document. Variants come from a registered group:
//
//	func init() {
//	    haven.RegisterGroup("optimizers", haven.Types(SGD{}, Adam{}))
//	}
//
//	type Optimizer interface{ isOptimizer() }
//
//	type TrainConfig struct {
//	    Optimizer Optimizer `haven:"optimizer,choice=optimizers"`
//	}
//
// The field is any interface the variants implement, or a [Component] when
// variants are registered as constructor functions. The document selects a
// variant with the key field ("name" unless key= says otherwise):
//
//	optimizer:
//	  name: Adam
//	  lr: 0.001
//
// A bare string is shorthand for selecting a variant with no further
// settings. Groups built with [Refs] resolve their types lazily against the
// registry, so variants can live in packages that register themselves in
// init and are pulled in with a blank import; [Discover] enumerates
// everything registered under a plugin namespace.
//
// # Overrides
//
// [Update] and [UpdateFromDotlist] derive a changed copy of a materialized
// record. Paths are validated against the schema, values against the
// addressed field type, and the variant of a resolved choice field can never
// be changed:
//
//	tuned, err := haven.UpdateFromDotlist(cfg, []string{
//	    "optimizer.lr=0.01",
//	    "trainer.max_steps=10000",
//	})
//
// [WithOverrides] and [WithDotlist] apply the same shapes before
// materialization instead, where new keys and variant selection are still
// open.
//
// # Dumping
//
// [Dump] and [DumpString] write a record back to YAML. The output reloads to
// an equal record: choice fields carry their discriminator and unset
// optional fields dump as null, or are omitted under [WithOmitAbsent].
//
// # Files, Includes, and Watching
//
// [LoadFile] reads through an afero filesystem ([WithFS] swaps it out, for
// tests or embedded trees) and resolves !include tags relative to the
// including document:
//
//	trainer: !include trainer/base.yaml
//
// [Holder] keeps the live record of a file, reloading it on filesystem
// changes while keeping the previous record whenever the new document fails
// to load.
package haven
