package haven

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ParseTree parses one YAML document into its untyped Tree form. An empty
// document yields an empty Tree; a document whose root is not a mapping is a
// parse error.
func ParseTree(data []byte) (Tree, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return treeRoot(v)
}

// treeRoot checks that a parsed document root is a mapping.
func treeRoot(v any) (Tree, error) {
	switch t := v.(type) {
	case nil:
		return Tree{}, nil
	case map[string]any:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: document root must be a mapping, got %s", ErrParse, nodeKind(v))
	}
}

// EmitTree renders a Tree as YAML text. Mapping keys are emitted in sorted
// order.
func EmitTree(t Tree) (string, error) {
	var buf bytes.Buffer
	if err := EmitTreeTo(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EmitTreeTo writes a Tree as YAML to w.
func EmitTreeTo(w io.Writer, t Tree) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("emit tree: %w", err)
	}
	return enc.Close()
}

// parseScalarLiteral parses a single YAML value from text. This is the
// grammar dotlist right-hand sides and tag defaults share with the document
// format: bare words, numbers, booleans, null, and flow sequences/mappings.
func parseScalarLiteral(text string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: invalid literal %q: %v", ErrParse, text, err)
	}
	return v, nil
}

// nodeKind names the kind of an untyped node for error messages.
func nodeKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "sequence"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}
