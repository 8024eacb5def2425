package extract

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"pytrace/internal/marker"
)

// errNotStatic marks a value the evaluator cannot compute without running
// code. It is never surfaced to callers; the value becomes raw instead.
var errNotStatic = errors.New("not statically resolvable")

func notStatic(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errNotStatic, fmt.Sprintf(format, args...))
}

// parseIntLiteral parses a Python integer token.
func parseIntLiteral(text string) (*big.Int, error) {
	if strings.HasSuffix(text, "j") || strings.HasSuffix(text, "J") {
		return nil, notStatic("imaginary literal %s", text)
	}
	n, ok := new(big.Int).SetString(text, 0)
	if !ok {
		// Python allows redundant leading zeros in "00" style literals.
		if strings.Trim(strings.ReplaceAll(text, "_", ""), "0") == "" {
			return new(big.Int), nil
		}
		return nil, notStatic("integer literal %s", text)
	}
	return n, nil
}

// parseFloatLiteral parses a Python float token.
func parseFloatLiteral(text string) (float64, error) {
	if strings.HasSuffix(text, "j") || strings.HasSuffix(text, "J") {
		return 0, notStatic("imaginary literal %s", text)
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	if err != nil {
		// too large a literal is inf in Python
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || numErr.Err != strconv.ErrRange {
			return 0, notStatic("float literal %s", text)
		}
	}
	return f, nil
}

func intValue(n *big.Int) marker.Value { return marker.Int(n.String()) }

// bigInt returns the integer value of an int or bool.
func bigInt(v marker.Value) (*big.Int, bool) {
	switch v.Kind {
	case marker.KindInt:
		n, ok := new(big.Int).SetString(v.Text, 10)
		return n, ok
	case marker.KindBool:
		if v.Bool {
			return big.NewInt(1), true
		}
		return new(big.Int), true
	}
	return nil, false
}

// float returns the float value of an int, bool or float.
func float(v marker.Value) (float64, bool) {
	switch v.Kind {
	case marker.KindFloat:
		f, err := strconv.ParseFloat(v.Text, 64)
		return f, err == nil
	case marker.KindInt, marker.KindBool:
		n, ok := bigInt(v)
		if !ok {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	return 0, false
}

func isIntLike(v marker.Value) bool { return v.Kind == marker.KindInt || v.Kind == marker.KindBool }

func isNumber(v marker.Value) bool { return isIntLike(v) || v.Kind == marker.KindFloat }

func isSequence(v marker.Value) bool {
	switch v.Kind {
	case marker.KindString, marker.KindBytes, marker.KindList, marker.KindTuple:
		return true
	}
	return false
}

func floatResult(f float64) (marker.Value, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return marker.Value{}, notStatic("float overflow")
	}
	return marker.Float(f), nil
}

// unaryOp applies -, +, ~ or not.
func unaryOp(op string, v marker.Value) (marker.Value, error) {
	if op == "not" {
		return marker.Bool(!v.Truthy()), nil
	}
	if isIntLike(v) {
		n, _ := bigInt(v)
		switch op {
		case "-":
			return intValue(n.Neg(n)), nil
		case "+":
			return intValue(n), nil
		case "~":
			return intValue(n.Not(n)), nil
		}
	}
	if v.Kind == marker.KindFloat {
		f, _ := float(v)
		switch op {
		case "-":
			return marker.Float(-f), nil
		case "+":
			return v, nil
		}
	}
	return marker.Value{}, notStatic("unary %s on %s", op, v.Kind)
}

// binaryOp applies a Python binary operator to two resolved values.
func binaryOp(op string, a, b marker.Value, lim Limits) (marker.Value, error) {
	if isNumber(a) && isNumber(b) {
		if isIntLike(a) && isIntLike(b) {
			if a.Kind == marker.KindBool && b.Kind == marker.KindBool {
				switch op {
				case "&":
					return marker.Bool(a.Bool && b.Bool), nil
				case "|":
					return marker.Bool(a.Bool || b.Bool), nil
				case "^":
					return marker.Bool(a.Bool != b.Bool), nil
				}
			}
			x, _ := bigInt(a)
			y, _ := bigInt(b)
			return intOp(op, x, y, lim)
		}
		x, _ := float(a)
		y, _ := float(b)
		return floatOp(op, x, y)
	}

	switch op {
	case "+":
		if a.Kind == b.Kind {
			switch a.Kind {
			case marker.KindString, marker.KindBytes:
				if len(a.Text)+len(b.Text) > lim.MaxSequence {
					return marker.Value{}, notStatic("string too long")
				}
				return marker.Value{Kind: a.Kind, Text: a.Text + b.Text}, nil
			case marker.KindList, marker.KindTuple:
				if len(a.Items)+len(b.Items) > lim.MaxSequence {
					return marker.Value{}, notStatic("sequence too long")
				}
				items := append(append([]marker.Value{}, a.Items...), b.Items...)
				return marker.Value{Kind: a.Kind, Items: items}, nil
			}
		}
	case "*":
		if isSequence(a) && isIntLike(b) {
			return repeat(a, b, lim)
		}
		if isIntLike(a) && isSequence(b) {
			return repeat(b, a, lim)
		}
	case "-", "&", "|", "^":
		if a.Kind == marker.KindSet && b.Kind == marker.KindSet {
			return setOp(op, a, b)
		}
		if op == "|" && a.Kind == marker.KindDict && b.Kind == marker.KindDict {
			return makeDict(append(append([]marker.Entry{}, a.Entries...), b.Entries...))
		}
	}
	return marker.Value{}, notStatic("%s %s %s", a.Kind, op, b.Kind)
}

func intOp(op string, x, y *big.Int, lim Limits) (marker.Value, error) {
	z := new(big.Int)
	switch op {
	case "+":
		return intValue(z.Add(x, y)), nil
	case "-":
		return intValue(z.Sub(x, y)), nil
	case "*":
		if x.BitLen()+y.BitLen() > lim.MaxIntBits {
			return marker.Value{}, notStatic("integer too large")
		}
		return intValue(z.Mul(x, y)), nil
	case "/":
		if y.Sign() == 0 {
			return marker.Value{}, notStatic("division by zero")
		}
		q, _ := new(big.Rat).SetFrac(x, y).Float64()
		return floatResult(q)
	case "//", "%":
		if y.Sign() == 0 {
			return marker.Value{}, notStatic("division by zero")
		}
		q, r := new(big.Int).QuoRem(x, y, new(big.Int))
		if r.Sign() != 0 && (r.Sign() < 0) != (y.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
			r.Add(r, y)
		}
		if op == "//" {
			return intValue(q), nil
		}
		return intValue(r), nil
	case "**":
		if y.Sign() < 0 {
			fx, _ := new(big.Float).SetInt(x).Float64()
			fy, _ := new(big.Float).SetInt(y).Float64()
			if fx == 0 {
				return marker.Value{}, notStatic("zero to a negative power")
			}
			return floatResult(math.Pow(fx, fy))
		}
		// 0, 1 and -1 stay small for any exponent.
		if x.BitLen() > 1 && (!y.IsInt64() || y.Int64() > int64(lim.MaxIntBits) || int64(x.BitLen()-1)*y.Int64() > int64(lim.MaxIntBits)) {
			return marker.Value{}, notStatic("integer too large")
		}
		return intValue(z.Exp(x, y, nil)), nil
	case "<<", ">>":
		if y.Sign() < 0 {
			return marker.Value{}, notStatic("negative shift count")
		}
		if !y.IsInt64() {
			return marker.Value{}, notStatic("shift too large")
		}
		if op == ">>" {
			return intValue(z.Rsh(x, uint(y.Int64()))), nil
		}
		if int64(x.BitLen())+y.Int64() > int64(lim.MaxIntBits) {
			return marker.Value{}, notStatic("integer too large")
		}
		return intValue(z.Lsh(x, uint(y.Int64()))), nil
	case "&":
		return intValue(z.And(x, y)), nil
	case "|":
		return intValue(z.Or(x, y)), nil
	case "^":
		return intValue(z.Xor(x, y)), nil
	}
	return marker.Value{}, notStatic("int %s int", op)
}

func floatOp(op string, x, y float64) (marker.Value, error) {
	switch op {
	case "+":
		return floatResult(x + y)
	case "-":
		return floatResult(x - y)
	case "*":
		return floatResult(x * y)
	case "/":
		if y == 0 {
			return marker.Value{}, notStatic("division by zero")
		}
		return floatResult(x / y)
	case "//":
		if y == 0 {
			return marker.Value{}, notStatic("division by zero")
		}
		return floatResult(math.Floor(x / y))
	case "%":
		if y == 0 {
			return marker.Value{}, notStatic("division by zero")
		}
		r := math.Mod(x, y)
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return floatResult(r)
	case "**":
		if x < 0 && y != math.Trunc(y) {
			return marker.Value{}, notStatic("complex result")
		}
		if x == 0 && y < 0 {
			return marker.Value{}, notStatic("zero to a negative power")
		}
		return floatResult(math.Pow(x, y))
	}
	return marker.Value{}, notStatic("float %s float", op)
}

func repeat(seq, count marker.Value, lim Limits) (marker.Value, error) {
	n, _ := bigInt(count)
	if n.Sign() <= 0 {
		return marker.Value{Kind: seq.Kind, Items: []marker.Value{}}, nil
	}
	size := len(seq.Text) + len(seq.Items)
	if !n.IsInt64() || n.Int64()*int64(size) > int64(lim.MaxSequence) {
		return marker.Value{}, notStatic("repetition too long")
	}
	times := int(n.Int64())
	switch seq.Kind {
	case marker.KindString, marker.KindBytes:
		return marker.Value{Kind: seq.Kind, Text: strings.Repeat(seq.Text, times)}, nil
	}
	items := make([]marker.Value, 0, len(seq.Items)*times)
	for i := 0; i < times; i++ {
		items = append(items, seq.Items...)
	}
	return marker.Value{Kind: seq.Kind, Items: items}, nil
}

func setOp(op string, a, b marker.Value) (marker.Value, error) {
	inB := make(map[string]bool, len(b.Items))
	for _, item := range b.Items {
		k, ok := hashKey(item)
		if !ok {
			return marker.Value{}, notStatic("unhashable set item")
		}
		inB[k] = true
	}
	inA := make(map[string]bool, len(a.Items))
	var items []marker.Value
	for _, item := range a.Items {
		k, _ := hashKey(item)
		inA[k] = true
		switch op {
		case "-", "^":
			if !inB[k] {
				items = append(items, item)
			}
		case "&":
			if inB[k] {
				items = append(items, item)
			}
		case "|":
			items = append(items, item)
		}
	}
	if op == "|" || op == "^" {
		for _, item := range b.Items {
			k, _ := hashKey(item)
			if !inA[k] {
				items = append(items, item)
			}
		}
	}
	return makeSet(items)
}

// hashKey returns a key equal for values Python considers equal and
// hashable. Unhashable values report false.
func hashKey(v marker.Value) (string, bool) {
	switch v.Kind {
	case marker.KindNone:
		return "none", true
	case marker.KindBool, marker.KindInt:
		n, _ := bigInt(v)
		return "n:" + n.String(), true
	case marker.KindFloat:
		f, _ := float(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			n, _ := new(big.Float).SetFloat64(f).Int(nil)
			return "n:" + n.String(), true
		}
		return "f:" + v.Text, true
	case marker.KindString:
		return "s:" + v.Text, true
	case marker.KindBytes:
		return "b:" + v.Text, true
	case marker.KindDate, marker.KindDateTime:
		return v.Kind.String() + ":" + v.Text, true
	case marker.KindDecimal:
		if r, ok := new(big.Rat).SetString(v.Text); ok {
			if r.IsInt() {
				return "n:" + r.Num().String(), true
			}
			return "dec:" + r.String(), true
		}
		return "dec:" + v.Text, true
	case marker.KindTuple:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			k, ok := hashKey(item)
			if !ok {
				return "", false
			}
			parts[i] = k
		}
		return "t(" + strings.Join(parts, ",") + ")", true
	}
	return "", false
}

// makeSet deduplicates items, keeping first occurrences.
func makeSet(items []marker.Value) (marker.Value, error) {
	seen := make(map[string]bool, len(items))
	out := make([]marker.Value, 0, len(items))
	for _, item := range items {
		k, ok := hashKey(item)
		if !ok {
			return marker.Value{}, notStatic("unhashable set item %s", item.Kind)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return marker.Set(out...), nil
}

// makeDict applies Python's rule for repeated keys: the first position is
// kept and the last value wins.
func makeDict(entries []marker.Entry) (marker.Value, error) {
	index := make(map[string]int, len(entries))
	out := make([]marker.Entry, 0, len(entries))
	for _, e := range entries {
		k, ok := hashKey(e.Key)
		if !ok {
			return marker.Value{}, notStatic("unhashable dict key %s", e.Key.Kind)
		}
		if i, seen := index[k]; seen {
			out[i].Value = e.Value
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return marker.Dict(out...), nil
}

// equal implements Python ==.
func equal(a, b marker.Value) bool {
	if isNumber(a) && isNumber(b) {
		if isIntLike(a) && isIntLike(b) {
			x, _ := bigInt(a)
			y, _ := bigInt(b)
			return x.Cmp(y) == 0
		}
		x, _ := float(a)
		y, _ := float(b)
		return x == y
	}
	if a.Kind == marker.KindDecimal || b.Kind == marker.KindDecimal {
		ka, oka := hashKey(a)
		kb, okb := hashKey(b)
		return oka && okb && ka == kb
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case marker.KindNone:
		return true
	case marker.KindList, marker.KindTuple:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case marker.KindSet:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for _, item := range a.Items {
			if !contains(b, item) {
				return false
			}
		}
		return true
	case marker.KindDict:
		if len(a.Entries) != len(b.Entries) {
			return false
		}
		for _, e := range a.Entries {
			v, ok := lookup(b, e.Key)
			if !ok || !equal(v, e.Value) {
				return false
			}
		}
		return true
	}
	return a.Text == b.Text
}

func lookup(dict marker.Value, key marker.Value) (marker.Value, bool) {
	for _, e := range dict.Entries {
		if equal(e.Key, key) {
			return e.Value, true
		}
	}
	return marker.Value{}, false
}

func contains(container, item marker.Value) bool {
	switch container.Kind {
	case marker.KindList, marker.KindTuple, marker.KindSet:
		for _, x := range container.Items {
			if equal(x, item) {
				return true
			}
		}
	case marker.KindDict:
		_, ok := lookup(container, item)
		return ok
	}
	return false
}

// compare implements one link of a Python comparison chain.
func compare(op string, a, b marker.Value) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=", "<>":
		return !equal(a, b), nil
	case "in", "not in":
		var found bool
		switch b.Kind {
		case marker.KindString, marker.KindBytes:
			if a.Kind != b.Kind {
				return false, notStatic("in on mismatched types")
			}
			found = strings.Contains(b.Text, a.Text)
		case marker.KindList, marker.KindTuple, marker.KindSet, marker.KindDict:
			found = contains(b, a)
		default:
			return false, notStatic("in on %s", b.Kind)
		}
		return found == (op == "in"), nil
	case "is", "is not":
		singleton := func(v marker.Value) bool { return v.Kind == marker.KindNone || v.Kind == marker.KindBool }
		if !singleton(a) && !singleton(b) {
			return false, notStatic("identity of %s", a.Kind)
		}
		same := a.Kind == b.Kind && (a.Kind == marker.KindNone || a.Bool == b.Bool)
		return same == (op == "is"), nil
	case "<", "<=", ">", ">=":
		c, err := order(a, b)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, notStatic("comparison %s", op)
}

func order(a, b marker.Value) (int, error) {
	if isNumber(a) && isNumber(b) {
		if isIntLike(a) && isIntLike(b) {
			x, _ := bigInt(a)
			y, _ := bigInt(b)
			return x.Cmp(y), nil
		}
		x, _ := float(a)
		y, _ := float(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	if a.Kind != b.Kind {
		return 0, notStatic("ordering %s and %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case marker.KindString, marker.KindBytes, marker.KindDate, marker.KindDateTime:
		return strings.Compare(a.Text, b.Text), nil
	case marker.KindDecimal:
		x, okx := new(big.Rat).SetString(a.Text)
		y, oky := new(big.Rat).SetString(b.Text)
		if !okx || !oky {
			return 0, notStatic("ordering decimals")
		}
		return x.Cmp(y), nil
	case marker.KindList, marker.KindTuple:
		for i := 0; i < len(a.Items) && i < len(b.Items); i++ {
			if equal(a.Items[i], b.Items[i]) {
				continue
			}
			return order(a.Items[i], b.Items[i])
		}
		return len(a.Items) - len(b.Items), nil
	}
	return 0, notStatic("ordering %s", a.Kind)
}

// iterate returns the items Python would yield when iterating v.
func iterate(v marker.Value) ([]marker.Value, error) {
	switch v.Kind {
	case marker.KindList, marker.KindTuple, marker.KindSet:
		return v.Items, nil
	case marker.KindDict:
		keys := make([]marker.Value, len(v.Entries))
		for i, e := range v.Entries {
			keys[i] = e.Key
		}
		return keys, nil
	case marker.KindString:
		var items []marker.Value
		for _, r := range v.Text {
			items = append(items, marker.String(string(r)))
		}
		return items, nil
	case marker.KindBytes:
		items := make([]marker.Value, len(v.Text))
		for i := 0; i < len(v.Text); i++ {
			items[i] = marker.Int64(int64(v.Text[i]))
		}
		return items, nil
	}
	return nil, notStatic("iterating %s", v.Kind)
}

// rangeItems expands range(start, stop, step).
func rangeItems(args []marker.Value, lim Limits) ([]marker.Value, error) {
	if len(args) == 0 || len(args) > 3 {
		return nil, notStatic("range with %d arguments", len(args))
	}
	nums := make([]*big.Int, len(args))
	for i, a := range args {
		n, ok := bigInt(a)
		if !ok {
			return nil, notStatic("range argument %s", a.Kind)
		}
		nums[i] = n
	}
	start, stop, step := new(big.Int), nums[0], big.NewInt(1)
	if len(nums) >= 2 {
		start, stop = nums[0], nums[1]
	}
	if len(nums) == 3 {
		step = nums[2]
	}
	if step.Sign() == 0 {
		return nil, notStatic("range step is zero")
	}

	var items []marker.Value
	for i := new(big.Int).Set(start); (step.Sign() > 0 && i.Cmp(stop) < 0) || (step.Sign() < 0 && i.Cmp(stop) > 0); i.Add(i, step) {
		if len(items) >= lim.MaxIterations {
			return nil, notStatic("range too long")
		}
		items = append(items, intValue(i))
	}
	return items, nil
}

// index implements subscription with a single key.
func index(container, key marker.Value) (marker.Value, error) {
	if container.Kind == marker.KindDict {
		v, ok := lookup(container, key)
		if !ok {
			return marker.Value{}, notStatic("missing key")
		}
		return v, nil
	}
	n, ok := bigInt(key)
	if !ok || !n.IsInt64() {
		return marker.Value{}, notStatic("index %s", key.Kind)
	}
	i := int(n.Int64())

	var items []marker.Value
	switch container.Kind {
	case marker.KindList, marker.KindTuple:
		items = container.Items
	case marker.KindString, marker.KindBytes:
		var err error
		if items, err = iterate(container); err != nil {
			return marker.Value{}, err
		}
	default:
		return marker.Value{}, notStatic("subscript of %s", container.Kind)
	}
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return marker.Value{}, notStatic("index out of range")
	}
	return items[i], nil
}

// makeDate builds datetime.date(year, month, day).
func makeDate(year, month, day int64) (marker.Value, error) {
	t, err := validDate(year, month, day, 0, 0, 0, 0)
	if err != nil {
		return marker.Value{}, err
	}
	return marker.Date(t.Format("2006-01-02")), nil
}

// makeDateTime builds a naive datetime.datetime in isoformat().
func makeDateTime(parts [7]int64) (marker.Value, error) {
	t, err := validDate(parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6])
	if err != nil {
		return marker.Value{}, err
	}
	iso := t.Format("2006-01-02T15:04:05")
	if parts[6] != 0 {
		iso += fmt.Sprintf(".%06d", parts[6])
	}
	return marker.DateTime(iso), nil
}

func validDate(y, mo, d, h, mi, s, us int64) (time.Time, error) {
	if y < 1 || y > 9999 || mo < 1 || mo > 12 || d < 1 || d > 31 ||
		h < 0 || h > 23 || mi < 0 || mi > 59 || s < 0 || s > 59 || us < 0 || us > 999999 {
		return time.Time{}, notStatic("date out of range")
	}
	t := time.Date(int(y), time.Month(mo), int(d), int(h), int(mi), int(s), int(us)*1000, time.UTC)
	if t.Day() != int(d) {
		return time.Time{}, notStatic("day out of range for month")
	}
	return t, nil
}

// makeDecimal builds decimal.Decimal from a string or int.
func makeDecimal(arg marker.Value) (marker.Value, error) {
	switch arg.Kind {
	case marker.KindInt:
		return marker.Decimal(arg.Text), nil
	case marker.KindString:
		text := strings.TrimSpace(strings.ReplaceAll(arg.Text, "_", ""))
		switch strings.ToLower(strings.TrimLeft(text, "+-")) {
		case "inf", "infinity", "nan", "snan":
			return marker.Decimal(text), nil
		}
		if _, ok := new(big.Float).SetString(text); !ok || strings.ContainsAny(text, "xXpP") {
			return marker.Value{}, notStatic("invalid decimal literal %q", arg.Text)
		}
		return marker.Decimal(text), nil
	}
	return marker.Value{}, notStatic("Decimal from %s", arg.Kind)
}

func sortedKeys(m map[string]marker.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
