//go:build cgo

package extract

import (
	"errors"

	sitter "github.com/smacker/go-tree-sitter"

	"pytrace/internal/marker"
)

// scope binds comprehension variables.
type scope struct {
	vars   map[string]marker.Value
	parent *scope
}

func (s *scope) lookup(name string) (marker.Value, bool) {
	for ; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return marker.Value{}, false
}

func (s *scope) child() *scope {
	return &scope{vars: make(map[string]marker.Value), parent: s}
}

// evaluator resolves expression nodes of one file.
type evaluator struct {
	src    []byte
	limits Limits
	budget int
}

func newEvaluator(src []byte, limits Limits) *evaluator {
	return &evaluator{src: src, limits: limits}
}

func (e *evaluator) text(n *sitter.Node) string { return n.Content(e.src) }

// namedChildren returns the named children of n, comments excluded.
func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" || c.Type() == "line_continuation" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func unwrapParens(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" {
		kids := namedChildren(n)
		if len(kids) != 1 {
			return n
		}
		n = kids[0]
	}
	return n
}

// Resolve turns a metadata argument into a Value. Container displays are
// resolved element by element so one unresolvable element becomes raw in
// place; anything else resolves fully or becomes raw as a whole.
func (e *evaluator) Resolve(n *sitter.Node) marker.Value {
	n = unwrapParens(n)
	switch n.Type() {
	case "list", "tuple", "set":
		var items []marker.Value
		for _, c := range namedChildren(n) {
			if c.Type() == "list_splat" {
				expanded, err := e.splat(c, nil)
				if err != nil {
					items = append(items, marker.Raw(e.text(c)))
					continue
				}
				items = append(items, expanded...)
				continue
			}
			items = append(items, e.Resolve(c))
		}
		v := marker.Value{Kind: kindOf(n.Type()), Items: items}
		if v.Kind == marker.KindSet && v.Complete() {
			if set, err := makeSet(items); err == nil {
				return set
			}
			return marker.Raw(e.text(n))
		}
		if v.Items == nil {
			v.Items = []marker.Value{}
		}
		return v
	case "dictionary":
		var entries []marker.Entry
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "pair":
				entries = append(entries, marker.Entry{
					Key:   e.Resolve(c.ChildByFieldName("key")),
					Value: e.Resolve(c.ChildByFieldName("value")),
				})
			case "dictionary_splat":
				expanded, err := e.dictSplat(c, nil)
				if err != nil {
					src := marker.Raw(e.text(c))
					entries = append(entries, marker.Entry{Key: src, Value: src})
					continue
				}
				entries = append(entries, expanded...)
			}
		}
		v := marker.Dict(entries...)
		if v.Complete() {
			if d, err := makeDict(entries); err == nil {
				return d
			}
			return marker.Raw(e.text(n))
		}
		if v.Entries == nil {
			v.Entries = []marker.Entry{}
		}
		return v
	}

	e.budget = e.limits.MaxIterations
	v, err := e.eval(n, nil)
	if err != nil {
		return marker.Raw(e.text(n))
	}
	return v
}

func kindOf(nodeType string) marker.Kind {
	switch nodeType {
	case "tuple":
		return marker.KindTuple
	case "set":
		return marker.KindSet
	}
	return marker.KindList
}

// eval resolves n strictly: any unresolvable part fails the whole node.
func (e *evaluator) eval(n *sitter.Node, env *scope) (marker.Value, error) {
	if n == nil {
		return marker.Value{}, notStatic("missing node")
	}
	switch n.Type() {
	case "string", "concatenated_string":
		return e.evalString(n)
	case "integer":
		i, err := parseIntLiteral(e.text(n))
		if err != nil {
			return marker.Value{}, err
		}
		return intValue(i), nil
	case "float":
		f, err := parseFloatLiteral(e.text(n))
		if err != nil {
			return marker.Value{}, err
		}
		return marker.Float(f), nil
	case "true":
		return marker.Bool(true), nil
	case "false":
		return marker.Bool(false), nil
	case "none":
		return marker.None(), nil
	case "parenthesized_expression":
		kids := namedChildren(n)
		if len(kids) != 1 {
			return marker.Value{}, notStatic("parenthesized %d expressions", len(kids))
		}
		return e.eval(kids[0], env)
	case "identifier":
		if v, ok := env.lookup(e.text(n)); ok {
			return v, nil
		}
		return marker.Value{}, notStatic("name %s", e.text(n))
	case "list", "tuple", "set":
		items, err := e.evalItems(n, env)
		if err != nil {
			return marker.Value{}, err
		}
		if n.Type() == "set" {
			return makeSet(items)
		}
		return marker.Value{Kind: kindOf(n.Type()), Items: items}, nil
	case "dictionary":
		var entries []marker.Entry
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "pair":
				k, err := e.eval(c.ChildByFieldName("key"), env)
				if err != nil {
					return marker.Value{}, err
				}
				v, err := e.eval(c.ChildByFieldName("value"), env)
				if err != nil {
					return marker.Value{}, err
				}
				entries = append(entries, marker.Entry{Key: k, Value: v})
			case "dictionary_splat":
				expanded, err := e.dictSplat(c, env)
				if err != nil {
					return marker.Value{}, err
				}
				entries = append(entries, expanded...)
			default:
				return marker.Value{}, notStatic("dict element %s", c.Type())
			}
		}
		return makeDict(entries)
	case "unary_operator":
		v, err := e.eval(n.ChildByFieldName("argument"), env)
		if err != nil {
			return marker.Value{}, err
		}
		return unaryOp(n.ChildByFieldName("operator").Type(), v)
	case "not_operator":
		v, err := e.eval(n.ChildByFieldName("argument"), env)
		if err != nil {
			return marker.Value{}, err
		}
		return unaryOp("not", v)
	case "binary_operator":
		a, err := e.eval(n.ChildByFieldName("left"), env)
		if err != nil {
			return marker.Value{}, err
		}
		b, err := e.eval(n.ChildByFieldName("right"), env)
		if err != nil {
			return marker.Value{}, err
		}
		return binaryOp(n.ChildByFieldName("operator").Type(), a, b, e.limits)
	case "boolean_operator":
		a, err := e.eval(n.ChildByFieldName("left"), env)
		if err != nil {
			return marker.Value{}, err
		}
		op := n.ChildByFieldName("operator").Type()
		if (op == "or") == a.Truthy() {
			return a, nil
		}
		return e.eval(n.ChildByFieldName("right"), env)
	case "comparison_operator":
		return e.evalComparison(n, env)
	case "conditional_expression":
		kids := namedChildren(n)
		if len(kids) != 3 {
			return marker.Value{}, notStatic("conditional expression")
		}
		cond, err := e.eval(kids[1], env)
		if err != nil {
			return marker.Value{}, err
		}
		if cond.Truthy() {
			return e.eval(kids[0], env)
		}
		return e.eval(kids[2], env)
	case "subscript":
		container, err := e.eval(n.ChildByFieldName("value"), env)
		if err != nil {
			return marker.Value{}, err
		}
		key, err := e.eval(n.ChildByFieldName("subscript"), env)
		if err != nil {
			return marker.Value{}, err
		}
		return index(container, key)
	case "call":
		return e.evalCall(n, env)
	case "list_comprehension", "set_comprehension", "dictionary_comprehension":
		return e.evalComprehension(n, env)
	}
	return marker.Value{}, notStatic("%s expression", n.Type())
}

func (e *evaluator) evalString(n *sitter.Node) (marker.Value, error) {
	parts := []*sitter.Node{n}
	if n.Type() == "concatenated_string" {
		parts = namedChildren(n)
	}
	var out string
	var isBytes bool
	for i, p := range parts {
		lit, err := decodeStringLiteral(e.text(p))
		if err != nil {
			return marker.Value{}, notStatic("%v", err)
		}
		if i > 0 && lit.Bytes != isBytes {
			return marker.Value{}, notStatic("mixing bytes and str")
		}
		isBytes = lit.Bytes
		out += lit.Value
	}
	if isBytes {
		return marker.Bytes(out), nil
	}
	return marker.String(out), nil
}

func (e *evaluator) evalItems(n *sitter.Node, env *scope) ([]marker.Value, error) {
	items := []marker.Value{}
	for _, c := range namedChildren(n) {
		if c.Type() == "list_splat" {
			expanded, err := e.splat(c, env)
			if err != nil {
				return nil, err
			}
			items = append(items, expanded...)
			continue
		}
		v, err := e.eval(c, env)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// splat expands *iterable.
func (e *evaluator) splat(n *sitter.Node, env *scope) ([]marker.Value, error) {
	kids := namedChildren(n)
	if len(kids) != 1 {
		return nil, notStatic("splat")
	}
	return e.iterable(kids[0], env)
}

// dictSplat expands **mapping.
func (e *evaluator) dictSplat(n *sitter.Node, env *scope) ([]marker.Entry, error) {
	kids := namedChildren(n)
	if len(kids) != 1 {
		return nil, notStatic("dict splat")
	}
	v, err := e.eval(kids[0], env)
	if err != nil {
		return nil, err
	}
	if v.Kind != marker.KindDict {
		return nil, notStatic("** of %s", v.Kind)
	}
	return v.Entries, nil
}

func (e *evaluator) evalComparison(n *sitter.Node, env *scope) (marker.Value, error) {
	var operands []marker.Value
	var operators []string
	pending := ""
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		if c.IsNamed() {
			if len(operands) > 0 {
				operators = append(operators, pending)
			}
			pending = ""
			v, err := e.eval(c, env)
			if err != nil {
				return marker.Value{}, err
			}
			operands = append(operands, v)
			continue
		}
		if pending != "" {
			pending += " "
		}
		pending += c.Type()
	}
	if len(operands) < 2 || len(operators) != len(operands)-1 {
		return marker.Value{}, notStatic("comparison")
	}
	for i, op := range operators {
		ok, err := compare(op, operands[i], operands[i+1])
		if err != nil {
			return marker.Value{}, err
		}
		if !ok {
			return marker.Bool(false), nil
		}
	}
	return marker.Bool(true), nil
}

// callArgs evaluates the positional and keyword arguments of a call.
func (e *evaluator) callArgs(n *sitter.Node, env *scope) ([]marker.Value, map[string]marker.Value, error) {
	args := n.ChildByFieldName("arguments")
	if args == nil || args.Type() != "argument_list" {
		return nil, nil, notStatic("call arguments")
	}
	var positional []marker.Value
	keywords := map[string]marker.Value{}
	for _, c := range namedChildren(args) {
		switch c.Type() {
		case "keyword_argument":
			v, err := e.eval(c.ChildByFieldName("value"), env)
			if err != nil {
				return nil, nil, err
			}
			keywords[e.text(c.ChildByFieldName("name"))] = v
		case "list_splat", "dictionary_splat":
			return nil, nil, notStatic("splat in call")
		default:
			v, err := e.eval(c, env)
			if err != nil {
				return nil, nil, err
			}
			positional = append(positional, v)
		}
	}
	return positional, keywords, nil
}

// intArgs binds positional and keyword int arguments to names.
func intArgs(names []string, required int, positional []marker.Value, keywords map[string]marker.Value) ([]int64, error) {
	if len(positional) > len(names) {
		return nil, notStatic("too many arguments")
	}
	out := make([]int64, len(names))
	for i, name := range names {
		var v marker.Value
		var ok bool
		if i < len(positional) {
			v, ok = positional[i], true
			if _, dup := keywords[name]; dup {
				return nil, notStatic("argument %s given twice", name)
			}
		} else {
			v, ok = keywords[name]
		}
		if !ok {
			if i < required {
				return nil, notStatic("missing argument %s", name)
			}
			continue
		}
		if v.Kind != marker.KindInt {
			return nil, notStatic("argument %s is %s", name, v.Kind)
		}
		n, _ := bigInt(v)
		if !n.IsInt64() {
			return nil, notStatic("argument %s out of range", name)
		}
		out[i] = n.Int64()
	}
	for k := range keywords {
		found := false
		for _, name := range names {
			found = found || name == k
		}
		if !found {
			return nil, notStatic("unexpected argument %s", k)
		}
	}
	return out, nil
}

var dateTimeArgs = []string{"year", "month", "day", "hour", "minute", "second", "microsecond"}

func (e *evaluator) evalCall(n *sitter.Node, env *scope) (marker.Value, error) {
	fn := e.text(n.ChildByFieldName("function"))
	switch fn {
	case "date", "datetime.date", "datetime", "datetime.datetime", "Decimal", "decimal.Decimal",
		"list", "tuple", "set", "frozenset", "dict":
	default:
		return marker.Value{}, notStatic("call to %s", fn)
	}

	if fn == "list" || fn == "tuple" || fn == "set" || fn == "frozenset" {
		return e.evalConversion(fn, n, env)
	}

	positional, keywords, err := e.callArgs(n, env)
	if err != nil {
		return marker.Value{}, err
	}

	switch fn {
	case "date", "datetime.date":
		parts, err := intArgs(dateTimeArgs[:3], 3, positional, keywords)
		if err != nil {
			return marker.Value{}, err
		}
		return makeDate(parts[0], parts[1], parts[2])
	case "datetime", "datetime.datetime":
		parts, err := intArgs(dateTimeArgs, 3, positional, keywords)
		if err != nil {
			return marker.Value{}, err
		}
		var p [7]int64
		copy(p[:], parts)
		return makeDateTime(p)
	case "Decimal", "decimal.Decimal":
		if len(keywords) > 0 || len(positional) > 1 {
			return marker.Value{}, notStatic("Decimal arguments")
		}
		if len(positional) == 0 {
			return marker.Decimal("0"), nil
		}
		return makeDecimal(positional[0])
	case "dict":
		var entries []marker.Entry
		if len(positional) > 1 {
			return marker.Value{}, notStatic("dict arguments")
		}
		if len(positional) == 1 {
			src := positional[0]
			switch src.Kind {
			case marker.KindDict:
				entries = append(entries, src.Entries...)
			case marker.KindList, marker.KindTuple:
				for _, pair := range src.Items {
					if (pair.Kind != marker.KindTuple && pair.Kind != marker.KindList) || len(pair.Items) != 2 {
						return marker.Value{}, notStatic("dict from %s", pair.Kind)
					}
					entries = append(entries, marker.Entry{Key: pair.Items[0], Value: pair.Items[1]})
				}
			default:
				return marker.Value{}, notStatic("dict from %s", src.Kind)
			}
		}
		for _, k := range sortedKeys(keywords) {
			entries = append(entries, marker.Entry{Key: marker.String(k), Value: keywords[k]})
		}
		return makeDict(entries)
	}
	return marker.Value{}, notStatic("call to %s", fn)
}

// evalConversion handles list(...), tuple(...) and set(...).
func (e *evaluator) evalConversion(fn string, n *sitter.Node, env *scope) (marker.Value, error) {
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return marker.Value{}, notStatic("call arguments")
	}
	var items []marker.Value
	if args.Type() == "generator_expression" {
		var err error
		if items, err = e.comprehensionItems(args, env); err != nil {
			return marker.Value{}, err
		}
	} else {
		kids := namedChildren(args)
		switch len(kids) {
		case 0:
			items = []marker.Value{}
		case 1:
			if kids[0].Type() == "keyword_argument" || kids[0].Type() == "list_splat" || kids[0].Type() == "dictionary_splat" {
				return marker.Value{}, notStatic("%s arguments", fn)
			}
			var err error
			if items, err = e.iterable(kids[0], env); err != nil {
				return marker.Value{}, err
			}
		default:
			return marker.Value{}, notStatic("%s arguments", fn)
		}
	}
	switch fn {
	case "tuple":
		return marker.Tuple(items...), nil
	case "set", "frozenset":
		return makeSet(items)
	}
	return marker.List(items...), nil
}

// iterable yields the items of n, treating range(...) calls specially.
func (e *evaluator) iterable(n *sitter.Node, env *scope) ([]marker.Value, error) {
	n = unwrapParens(n)
	if n.Type() == "call" && e.text(n.ChildByFieldName("function")) == "range" {
		positional, keywords, err := e.callArgs(n, env)
		if err != nil {
			return nil, err
		}
		if len(keywords) > 0 {
			return nil, notStatic("range keywords")
		}
		return rangeItems(positional, e.limits)
	}
	v, err := e.eval(n, env)
	if err != nil {
		return nil, err
	}
	return iterate(v)
}

func (e *evaluator) evalComprehension(n *sitter.Node, env *scope) (marker.Value, error) {
	if n.Type() == "dictionary_comprehension" {
		body := n.ChildByFieldName("body")
		if body == nil || body.Type() != "pair" {
			return marker.Value{}, notStatic("dict comprehension body")
		}
		var entries []marker.Entry
		err := e.comprehend(e.clauses(n), env, func(inner *scope) error {
			k, err := e.eval(body.ChildByFieldName("key"), inner)
			if err != nil {
				return err
			}
			v, err := e.eval(body.ChildByFieldName("value"), inner)
			if err != nil {
				return err
			}
			entries = append(entries, marker.Entry{Key: k, Value: v})
			return nil
		})
		if err != nil {
			return marker.Value{}, err
		}
		return makeDict(entries)
	}

	items, err := e.comprehensionItems(n, env)
	if err != nil {
		return marker.Value{}, err
	}
	if n.Type() == "set_comprehension" {
		return makeSet(items)
	}
	return marker.List(items...), nil
}

func (e *evaluator) comprehensionItems(n *sitter.Node, env *scope) ([]marker.Value, error) {
	body := n.ChildByFieldName("body")
	items := []marker.Value{}
	err := e.comprehend(e.clauses(n), env, func(inner *scope) error {
		v, err := e.eval(body, inner)
		if err != nil {
			return err
		}
		items = append(items, v)
		return nil
	})
	return items, err
}

// clauses returns the for/if clauses of a comprehension in order.
func (e *evaluator) clauses(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "for_in_clause" || c.Type() == "if_clause" {
			out = append(out, c)
		}
	}
	return out
}

var errBudget = errors.New("iteration budget exhausted")

// comprehend runs the clause chain and calls emit for every binding that
// passes all filters.
func (e *evaluator) comprehend(clauses []*sitter.Node, env *scope, emit func(*scope) error) error {
	if len(clauses) == 0 {
		return emit(env)
	}
	clause, rest := clauses[0], clauses[1:]

	if clause.Type() == "if_clause" {
		kids := namedChildren(clause)
		if len(kids) != 1 {
			return notStatic("if clause")
		}
		cond, err := e.eval(kids[0], env)
		if err != nil {
			return err
		}
		if !cond.Truthy() {
			return nil
		}
		return e.comprehend(rest, env, emit)
	}

	left := clause.ChildByFieldName("left")
	var right []*sitter.Node
	seenIn := false
	count := int(clause.ChildCount())
	for i := 0; i < count; i++ {
		c := clause.Child(i)
		if c == nil {
			continue
		}
		switch {
		case !c.IsNamed() && c.Type() == "async":
			return notStatic("async comprehension")
		case !c.IsNamed() && c.Type() == "in":
			seenIn = true
		case seenIn && c.IsNamed() && c.Type() != "comment":
			right = append(right, c)
		}
	}
	if left == nil || len(right) == 0 {
		return notStatic("for clause")
	}

	var items []marker.Value
	if len(right) == 1 {
		var err error
		if items, err = e.iterable(right[0], env); err != nil {
			return err
		}
	} else {
		for _, r := range right {
			v, err := e.eval(r, env)
			if err != nil {
				return err
			}
			items = append(items, v)
		}
	}

	for _, item := range items {
		e.budget--
		if e.budget < 0 {
			return notStatic("%v", errBudget)
		}
		inner := env.child()
		if err := e.bind(left, item, inner); err != nil {
			return err
		}
		if err := e.comprehend(rest, inner, emit); err != nil {
			return err
		}
	}
	return nil
}

// bind assigns item to a comprehension target, unpacking tuples.
func (e *evaluator) bind(target *sitter.Node, item marker.Value, env *scope) error {
	target = unwrapParens(target)
	switch target.Type() {
	case "identifier":
		env.vars[e.text(target)] = item
		return nil
	case "tuple_pattern", "list_pattern", "pattern_list", "tuple", "list":
		targets := namedChildren(target)
		values, err := iterate(item)
		if err != nil {
			return err
		}
		if len(values) != len(targets) {
			return notStatic("cannot unpack %d values into %d targets", len(values), len(targets))
		}
		for i, t := range targets {
			if err := e.bind(t, values[i], env); err != nil {
				return err
			}
		}
		return nil
	}
	return notStatic("assignment target %s", target.Type())
}
