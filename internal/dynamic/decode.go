package dynamic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"pytrace/internal/marker"
)

// typedValue is the loader's tagged encoding of one Python value.
type typedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

type typedMarker struct {
	Key      string                `json:"key"`
	Metadata map[string]typedValue `json:"metadata"`
}

type loaderOutput struct {
	Markers map[string][]typedMarker `json:"markers"`
}

// decodeOutput converts the loader's JSON document into registry entries.
func decodeOutput(data []byte) (map[string][]marker.Marker, error) {
	var out loaderOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode loader output: %w", err)
	}
	entries := make(map[string][]marker.Marker, len(out.Markers))
	for name, tms := range out.Markers {
		markers := make([]marker.Marker, 0, len(tms))
		for _, tm := range tms {
			m := marker.Marker{Key: tm.Key, Metadata: make(marker.Metadata, len(tm.Metadata))}
			for k, tv := range tm.Metadata {
				v, err := decodeValue(tv)
				if err != nil {
					return nil, fmt.Errorf("%s %s: %w", name, k, err)
				}
				m.Metadata[k] = v
			}
			markers = append(markers, m)
		}
		entries[name] = markers
	}
	return entries, nil
}

func decodeValue(tv typedValue) (marker.Value, error) {
	text := func() (string, error) {
		var s string
		err := json.Unmarshal(tv.V, &s)
		return s, err
	}
	items := func() ([]marker.Value, error) {
		var raw []typedValue
		if err := json.Unmarshal(tv.V, &raw); err != nil {
			return nil, err
		}
		out := make([]marker.Value, 0, len(raw))
		for _, r := range raw {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	switch tv.T {
	case "none":
		return marker.None(), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(tv.V, &b); err != nil {
			return marker.Value{}, err
		}
		return marker.Bool(b), nil
	case "int", "float", "str", "date", "datetime", "decimal", "raw", "bytes":
		s, err := text()
		if err != nil {
			return marker.Value{}, err
		}
		switch tv.T {
		case "int":
			return marker.Int(s), nil
		case "float":
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				// inf and nan keep Python's spelling
				return marker.Value{Kind: marker.KindFloat, Text: s}, nil
			}
			return marker.Float(f), nil
		case "str":
			return marker.String(s), nil
		case "date":
			return marker.Date(s), nil
		case "datetime":
			return marker.DateTime(s), nil
		case "decimal":
			return marker.Decimal(s), nil
		case "bytes":
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return marker.Value{}, err
			}
			return marker.Bytes(string(b)), nil
		}
		return marker.Raw(s), nil
	case "list", "tuple", "set":
		vs, err := items()
		if err != nil {
			return marker.Value{}, err
		}
		switch tv.T {
		case "tuple":
			return marker.Tuple(vs...), nil
		case "set":
			return marker.Set(vs...), nil
		}
		return marker.List(vs...), nil
	case "dict":
		var pairs [][2]typedValue
		if err := json.Unmarshal(tv.V, &pairs); err != nil {
			return marker.Value{}, err
		}
		entries := make([]marker.Entry, 0, len(pairs))
		for _, p := range pairs {
			k, err := decodeValue(p[0])
			if err != nil {
				return marker.Value{}, err
			}
			v, err := decodeValue(p[1])
			if err != nil {
				return marker.Value{}, err
			}
			entries = append(entries, marker.Entry{Key: k, Value: v})
		}
		return marker.Dict(entries...), nil
	}
	return marker.Value{}, fmt.Errorf("unknown value type %q", tv.T)
}
