package haven

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const includeTag = "!include"

// ParseTreeFile parses a YAML document from a filesystem, resolving !include
// tags. An include scalar names another document whose content replaces the
// tagged node:
//
//	trainer: !include trainer/base.yaml
//
// Relative include paths resolve against the including document's directory.
// Include cycles fail with ErrParse.
func ParseTreeFile(fsys afero.Fs, path string) (Tree, error) {
	return parseTreeFile(fsys, path, "")
}

// parseTreeFile is ParseTreeFile with an optional directory that overrides
// per-document relative resolution.
func parseTreeFile(fsys afero.Fs, path, includeDir string) (Tree, error) {
	ld := &includeLoader{fs: fsys, dir: includeDir}
	node, err := ld.load(path, nil)
	if err != nil {
		return nil, err
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return treeRoot(v)
}

type includeLoader struct {
	fs  afero.Fs
	dir string
}

// load parses one document and expands its includes. chain carries the
// include path from the root document, for cycle detection and reporting.
func (l *includeLoader) load(path string, chain []string) (*yaml.Node, error) {
	clean := filepath.Clean(path)
	for _, seen := range chain {
		if seen == clean {
			cycle := append(append([]string(nil), chain...), clean)
			return nil, fmt.Errorf("%w: include cycle: %s", ErrParse, strings.Join(cycle, " -> "))
		}
	}
	chain = append(chain, clean)

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
		}
		root = doc.Content[0]
	}
	if err := l.expand(root, filepath.Dir(path), chain); err != nil {
		return nil, err
	}
	return root, nil
}

// expand replaces every include node under n with the document it names.
func (l *includeLoader) expand(n *yaml.Node, baseDir string, chain []string) error {
	if n.Kind == yaml.ScalarNode && n.Tag == includeTag {
		target := n.Value
		if target == "" {
			return fmt.Errorf("%w: %s: !include needs a path", ErrParse, chain[len(chain)-1])
		}
		if !filepath.IsAbs(target) {
			dir := baseDir
			if l.dir != "" {
				dir = l.dir
			}
			target = filepath.Join(dir, target)
		}
		inc, err := l.load(target, chain)
		if err != nil {
			return err
		}
		*n = *inc
		return nil
	}
	for _, c := range n.Content {
		if err := l.expand(c, baseDir, chain); err != nil {
			return err
		}
	}
	return nil
}
