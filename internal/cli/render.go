package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/jonmorton/haven"
)

// RenderOptions holds configuration for the render command.
type RenderOptions struct {
	Files   []string // documents merged in order, later files win
	Set     []string // dotted overrides applied after the merge
	Output  string   // output path; "-" or empty writes to stdout
	Verbose bool

	// Fs and Stdout are swappable for tests. nil means the host filesystem
	// and os.Stdout.
	Fs     afero.Fs
	Stdout io.Writer
}

// RenderRun merges the given documents in order, resolves their includes,
// applies --set overrides, and writes the normalized result.
func RenderRun(opts RenderOptions) error {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := NewLogger(opts.Verbose)

	if len(opts.Files) == 0 {
		return fmt.Errorf("no input files (use -f)")
	}

	merged := haven.Tree{}
	for _, path := range opts.Files {
		tree, err := haven.ParseTreeFile(fs, path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug().Str("file", path).Int("keys", len(tree)).Msg("loaded document")
		haven.Merge(merged, tree)
	}

	if err := haven.ApplyDotlist(merged, opts.Set...); err != nil {
		return err
	}
	if len(opts.Set) > 0 {
		log.Debug().Int("overrides", len(opts.Set)).Msg("applied overrides")
	}

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	if opts.Output != "" && opts.Output != "-" {
		f, err := fs.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.Output, err)
		}
		defer f.Close()
		out = f
	}
	return haven.EmitTreeTo(out, merged)
}

// NewLogger builds the CLI logger: human-readable output on stderr, debug
// level under --verbose, warnings and errors only otherwise so stdout stays
// clean for piped output.
func NewLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
