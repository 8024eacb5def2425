//go:build cgo

package extract

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"pytrace/internal/errors"
	"pytrace/internal/marker"
)

// IsAvailable reports whether tree-sitter parsing is compiled in.
func IsAvailable() bool {
	return true
}

// frame is one pending node of the walk.
type frame struct {
	node       *sitter.Node
	scope      []string
	decorators []*sitter.Node
}

// Extract parses source and returns one record per annotated declaration in
// source order. path is only used for error messages and records.
func (e *Extractor) Extract(ctx context.Context, path string, source []byte) ([]marker.ExtractionRecord, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		bad := firstError(root)
		return nil, syntaxError(path, int(bad.StartPoint().Row)+1, int(bad.StartPoint().Column)+1)
	}

	eval := newEvaluator(source, e.limits)
	var records []marker.ExtractionRecord

	stack := []frame{{node: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := f.node
		scope := f.scope

		switch node.Type() {
		case "decorated_definition":
			def := node.ChildByFieldName("definition")
			var decorators []*sitter.Node
			for _, c := range namedChildren(node) {
				if c.Type() == "decorator" {
					decorators = append(decorators, c)
				}
			}
			if def != nil {
				stack = append(stack, frame{node: def, scope: scope, decorators: decorators})
			}
			continue
		case "function_definition", "class_definition":
			name := node.ChildByFieldName("name")
			scope = append(append([]string(nil), scope...), name.Content(source))
			if len(f.decorators) > 0 {
				rec, ok, err := e.record(eval, path, node, scope, f.decorators)
				if err != nil {
					return nil, err
				}
				if ok {
					records = append(records, rec)
				}
			}
		}

		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			c := node.NamedChild(i)
			if c == nil || c.Type() == "decorator" {
				continue
			}
			stack = append(stack, frame{node: c, scope: scope})
		}
	}
	return records, nil
}

func firstError(root *sitter.Node) *sitter.Node {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "ERROR" || n.IsMissing() {
			return n
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if c := n.Child(i); c != nil && (c.HasError() || c.IsMissing()) {
				stack = append(stack, c)
			}
		}
	}
	return root
}

// record builds the ExtractionRecord for a declaration, or reports false
// when none of its decorators is a marker.
func (e *Extractor) record(eval *evaluator, path string, node *sitter.Node, scope []string, decorators []*sitter.Node) (marker.ExtractionRecord, bool, error) {
	function := strings.Join(scope, ".")
	line := int(node.StartPoint().Row) + 1
	rec := marker.ExtractionRecord{
		Location: marker.Location{
			FilePath:      path,
			FunctionName:  function,
			LineNumber:    line,
			EndLineNumber: int(node.EndPoint().Row) + 1,
			SourceCode:    node.Content(eval.src),
		},
	}

	seen := make(map[string]bool)
	for _, d := range decorators {
		call := markerCall(d, eval.src, e.decoratorName)
		if call == nil {
			continue
		}
		m, err := e.parseMarker(eval, call, path, line, function)
		if err != nil {
			return rec, false, err
		}
		if seen[m.Key] {
			return rec, false, invalid(errors.KeyMustBeUnique, path, line, function)
		}
		seen[m.Key] = true
		rec.Markers = append(rec.Markers, m)
	}
	return rec, len(rec.Markers) > 0, nil
}

// markerCall returns the call expression of a decorator applying name.
func markerCall(decorator *sitter.Node, src []byte, name string) *sitter.Node {
	for _, c := range namedChildren(decorator) {
		if c.Type() != "call" {
			return nil
		}
		fn := c.ChildByFieldName("function")
		if fn != nil && fn.Content(src) == name {
			return c
		}
		return nil
	}
	return nil
}

func (e *Extractor) parseMarker(eval *evaluator, call *sitter.Node, path string, line int, function string) (marker.Marker, error) {
	m := marker.Marker{Metadata: marker.Metadata{}}

	args := call.ChildByFieldName("arguments")
	if args == nil || args.Type() != "argument_list" {
		// a bare generator argument carries no key
		return m, invalid(errors.KeyMustBeSpecified, path, line, function)
	}

	var positional []*sitter.Node
	var keyNode *sitter.Node
	for _, c := range namedChildren(args) {
		switch c.Type() {
		case "keyword_argument":
			name := c.ChildByFieldName("name").Content(eval.src)
			value := c.ChildByFieldName("value")
			if name == "key" {
				if keyNode != nil {
					return m, invalid(errors.KeyOnlyOnce, path, line, function)
				}
				keyNode = value
				continue
			}
			// Python rejects a repeated keyword at compile time
			if _, seen := m.Metadata[name]; seen {
				pos := c.StartPoint()
				return m, syntaxError(path, int(pos.Row)+1, int(pos.Column)+1)
			}
			m.Metadata[name] = eval.Resolve(value)
		case "dictionary_splat":
			text := c.Content(eval.src)
			m.Metadata[text] = marker.Raw(text)
		default:
			positional = append(positional, c)
		}
	}

	if len(positional) > 1 {
		return m, invalid(errors.OnlyOneArg, path, line, function)
	}
	if len(positional) == 1 {
		if keyNode != nil {
			return m, invalid(errors.KeyOnlyOnce, path, line, function)
		}
		keyNode = positional[0]
	}
	if keyNode == nil {
		return m, invalid(errors.KeyMustBeSpecified, path, line, function)
	}

	key, ok := literalKey(unwrapParens(keyNode), eval.src)
	if !ok {
		return m, invalid(errors.KeyMustBeString, path, line, function)
	}
	m.Key = key
	return m, nil
}

// literalKey accepts plain and implicitly concatenated str literals.
func literalKey(n *sitter.Node, src []byte) (string, bool) {
	var parts []*sitter.Node
	switch n.Type() {
	case "string":
		parts = []*sitter.Node{n}
	case "concatenated_string":
		parts = namedChildren(n)
	default:
		return "", false
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type() != "string" {
			return "", false
		}
		lit, err := decodeStringLiteral(p.Content(src))
		if err != nil || lit.Bytes || lit.Format {
			return "", false
		}
		sb.WriteString(lit.Value)
	}
	return sb.String(), true
}
