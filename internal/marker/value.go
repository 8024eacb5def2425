package marker

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindDate
	KindDateTime
	KindDecimal
	KindList
	KindTuple
	KindSet
	KindDict
	// KindRaw is an expression that could only be resolved by running code.
	KindRaw
)

var kindNames = map[Kind]string{
	KindNone:     "none",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "str",
	KindBytes:    "bytes",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindDecimal:  "decimal",
	KindList:     "list",
	KindTuple:    "tuple",
	KindSet:      "set",
	KindDict:     "dict",
	KindRaw:      "raw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindFromString is the inverse of Kind.String.
func KindFromString(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Value is a metadata value. It is exactly one of a literal, a composite of
// other values, or an opaque RawExpression carrying the source text that
// could not be resolved statically.
//
// Scalar payloads live in Text so numbers keep their exact textual form:
// ints are canonical base-10, decimals keep their digits, dates are ISO 8601.
type Value struct {
	Kind    Kind
	Text    string
	Bool    bool
	Items   []Value
	Entries []Entry
}

// Entry is one key/value pair of a dict Value.
type Entry struct {
	Key   Value
	Value Value
}

func None() Value                 { return Value{Kind: KindNone} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func String(s string) Value       { return Value{Kind: KindString, Text: s} }
func Bytes(s string) Value        { return Value{Kind: KindBytes, Text: s} }
func Int(text string) Value       { return Value{Kind: KindInt, Text: text} }
func Date(iso string) Value       { return Value{Kind: KindDate, Text: iso} }
func DateTime(iso string) Value   { return Value{Kind: KindDateTime, Text: iso} }
func Decimal(text string) Value   { return Value{Kind: KindDecimal, Text: text} }
func Raw(source string) Value     { return Value{Kind: KindRaw, Text: source} }
func List(items ...Value) Value   { return Value{Kind: KindList, Items: items} }
func Tuple(items ...Value) Value  { return Value{Kind: KindTuple, Items: items} }
func Set(items ...Value) Value    { return Value{Kind: KindSet, Items: items} }
func Dict(entries ...Entry) Value { return Value{Kind: KindDict, Entries: entries} }

// Int64 builds an int Value from a machine integer.
func Int64(i int64) Value { return Int(strconv.FormatInt(i, 10)) }

// Float builds a float Value using the shortest text that round-trips.
func Float(f float64) Value { return Value{Kind: KindFloat, Text: FormatFloat(f)} }

// FormatFloat renders f so it always reads back as a float. Infinities
// and NaN use Python's spelling.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// IsLiteral reports whether v is a scalar literal.
func (v Value) IsLiteral() bool {
	return !v.IsComposite() && !v.IsOpaque()
}

// IsComposite reports whether v is a list, tuple, set or dict.
func (v Value) IsComposite() bool {
	switch v.Kind {
	case KindList, KindTuple, KindSet, KindDict:
		return true
	}
	return false
}

// IsOpaque reports whether v is a RawExpression.
func (v Value) IsOpaque() bool { return v.Kind == KindRaw }

// Complete reports whether v contains no RawExpression at any depth.
func (v Value) Complete() bool {
	switch v.Kind {
	case KindRaw:
		return false
	case KindList, KindTuple, KindSet:
		for _, item := range v.Items {
			if !item.Complete() {
				return false
			}
		}
	case KindDict:
		for _, e := range v.Entries {
			if !e.Key.Complete() || !e.Value.Complete() {
				return false
			}
		}
	}
	return true
}

// Truthy follows Python truthiness for resolved values.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return strings.TrimLeft(strings.TrimPrefix(v.Text, "-"), "0") != ""
	case KindFloat:
		f, _ := strconv.ParseFloat(v.Text, 64)
		return f != 0
	case KindString, KindBytes:
		return v.Text != ""
	case KindList, KindTuple, KindSet:
		return len(v.Items) > 0
	case KindDict:
		return len(v.Entries) > 0
	}
	return true
}

// Interface converts the value into plain Go data suitable for
// generic encoders. Raw values become a {"rawExpression": source} object.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNone:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return json.Number(v.Text)
	case KindFloat:
		// JSON has no spelling for inf and nan
		if f, err := strconv.ParseFloat(v.Text, 64); err == nil && (math.IsInf(f, 0) || math.IsNaN(f)) {
			return v.Text
		}
		return json.Number(v.Text)
	case KindList, KindTuple, KindSet:
		out := make([]interface{}, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.Interface()
		}
		return out
	case KindDict:
		if v.stringKeyed() {
			out := make(map[string]interface{}, len(v.Entries))
			for _, e := range v.Entries {
				out[e.Key.Text] = e.Value.Interface()
			}
			return out
		}
		out := make([]interface{}, len(v.Entries))
		for i, e := range v.Entries {
			out[i] = []interface{}{e.Key.Interface(), e.Value.Interface()}
		}
		return out
	case KindRaw:
		return map[string]interface{}{"rawExpression": v.Text}
	default:
		return v.Text
	}
}

func (v Value) stringKeyed() bool {
	for _, e := range v.Entries {
		if e.Key.Kind != KindString {
			return false
		}
	}
	return true
}

// MarshalJSON renders the value for reports. Numbers keep their exact text.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalYAML renders the value for YAML reports.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.yamlValue(), nil
}

func (v Value) yamlValue() interface{} {
	switch v.Kind {
	case KindInt:
		if i, err := strconv.ParseInt(v.Text, 10, 64); err == nil {
			return i
		}
		return v.Text
	case KindFloat:
		f, _ := strconv.ParseFloat(v.Text, 64)
		return f
	case KindList, KindTuple, KindSet:
		out := make([]interface{}, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.yamlValue()
		}
		return out
	case KindDict:
		if v.stringKeyed() {
			out := make(map[string]interface{}, len(v.Entries))
			for _, e := range v.Entries {
				out[e.Key.Text] = e.Value.yamlValue()
			}
			return out
		}
		out := make([]interface{}, len(v.Entries))
		for i, e := range v.Entries {
			out[i] = []interface{}{e.Key.yamlValue(), e.Value.yamlValue()}
		}
		return out
	default:
		return v.Interface()
	}
}

// String renders the value roughly as Python source, for humans.
func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb)
	return sb.String()
}

func (v Value) write(sb *strings.Builder) {
	switch v.Kind {
	case KindNone:
		sb.WriteString("None")
	case KindBool:
		if v.Bool {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case KindInt, KindFloat:
		sb.WriteString(v.Text)
	case KindString:
		sb.WriteString(strconv.Quote(v.Text))
	case KindBytes:
		sb.WriteString("b" + strconv.Quote(v.Text))
	case KindDate:
		sb.WriteString("date(" + v.Text + ")")
	case KindDateTime:
		sb.WriteString("datetime(" + v.Text + ")")
	case KindDecimal:
		sb.WriteString("Decimal(" + strconv.Quote(v.Text) + ")")
	case KindList, KindTuple, KindSet:
		openTok, closeTok := "[", "]"
		if v.Kind == KindTuple {
			openTok, closeTok = "(", ")"
		} else if v.Kind == KindSet {
			openTok, closeTok = "{", "}"
		}
		sb.WriteString(openTok)
		for i, item := range v.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.write(sb)
		}
		if v.Kind == KindTuple && len(v.Items) == 1 {
			sb.WriteString(",")
		}
		sb.WriteString(closeTok)
	case KindDict:
		sb.WriteString("{")
		for i, e := range v.Entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.write(sb)
			sb.WriteString(": ")
			e.Value.write(sb)
		}
		sb.WriteString("}")
	case KindRaw:
		sb.WriteString("RawExpression(" + strconv.Quote(v.Text) + ")")
	}
}
