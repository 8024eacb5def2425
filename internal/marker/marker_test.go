package marker

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_Complete(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  bool
	}{
		{"string", String("x"), true},
		{"raw", Raw("f'{x}'"), false},
		{"list of literals", List(String("a"), Int64(1)), true},
		{"list with raw", List(String("a"), Raw("x")), false},
		{"nested dict with raw", Dict(Entry{Key: String("k"), Value: List(Raw("y"))}), false},
		{"raw dict key", Dict(Entry{Key: Raw("k"), Value: None()}), false},
		{"empty set", Set(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.Complete())
		})
	}
}

func TestValue_Variant(t *testing.T) {
	assert.True(t, String("a").IsLiteral())
	assert.True(t, Tuple().IsComposite())
	assert.True(t, Raw("x").IsOpaque())
	assert.False(t, Raw("x").IsLiteral())
}

func TestValue_MarshalJSON(t *testing.T) {
	meta := Metadata{
		"big":     Int("123456789012345678901234567890"),
		"float":   Float(1.0),
		"date":    Date("2020-01-01"),
		"decimal": Decimal("1.10"),
		"raw":     Raw("f'{var} something'"),
		"dict":    Dict(Entry{Key: String("key"), Value: String("value")}),
		"pairs":   Dict(Entry{Key: Int64(1), Value: Bool(true)}),
		"none":    None(),
	}

	data, err := json.Marshal(meta)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"big": 123456789012345678901234567890,
		"float": 1.0,
		"date": "2020-01-01",
		"decimal": "1.10",
		"raw": {"rawExpression": "f'{var} something'"},
		"dict": {"key": "value"},
		"pairs": [[1, true]],
		"none": null
	}`, string(data))
	assert.Contains(t, string(data), "123456789012345678901234567890")
}

func TestValue_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(Metadata{"info": List(String("a"), Int64(2))})
	require.NoError(t, err)
	assert.Equal(t, "info:\n    - a\n    - 2\n", string(out))
}

func TestValue_Truthy(t *testing.T) {
	assert.False(t, Int("0").Truthy())
	assert.False(t, Int("-0").Truthy())
	assert.True(t, Int("-3").Truthy())
	assert.False(t, Float(0).Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, List(None()).Truthy())
	assert.False(t, None().Truthy())
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.0", FormatFloat(1))
	assert.Equal(t, "0.1", FormatFloat(0.1))
	assert.Equal(t, "1e+21", FormatFloat(1e21))
	assert.Equal(t, "inf", FormatFloat(math.Inf(1)))
	assert.Equal(t, "-inf", FormatFloat(math.Inf(-1)))
	assert.Equal(t, "nan", FormatFloat(math.NaN()))

	data, err := json.Marshal(Metadata{"big": Float(math.Inf(1))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"big": "inf"}`, string(data))
}

func TestFlatten(t *testing.T) {
	loc := Location{FilePath: "a.py", FunctionName: "foo", LineNumber: 3, EndLineNumber: 4, SourceCode: "def foo():\n    pass"}
	records := []ExtractionRecord{{
		Location: loc,
		Markers: []Marker{
			{Key: "KEY 1", Metadata: Metadata{}},
			{Key: "KEY 2", Metadata: Metadata{"info": Raw("x")}},
		},
	}}

	reports := Flatten(records)
	require.Len(t, reports, 2)
	assert.Equal(t, "KEY 1", reports[0].Key)
	assert.True(t, reports[0].IsComplete)
	assert.Equal(t, "KEY 2", reports[1].Key)
	assert.False(t, reports[1].IsComplete)
	assert.Equal(t, loc, reports[1].Location)
	assert.Nil(t, reports[0].History)
	assert.False(t, records[0].Complete())
}

func TestSortByKey(t *testing.T) {
	reports := []TraceabilityReport{{Key: "b"}, {Key: "a"}, {Key: "c"}}
	SortByKey(reports)
	assert.Equal(t, "a", reports[0].Key)
	assert.Equal(t, "c", reports[2].Key)
}

func TestMetadata_Keys(t *testing.T) {
	m := Metadata{"z": None(), "a": None()}
	assert.Equal(t, []string{"a", "z"}, m.Keys())
}
