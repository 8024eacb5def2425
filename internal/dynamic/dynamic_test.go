package dynamic

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/errors"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
)

type fakeLoader struct {
	calls   atomic.Int32
	entries map[string][]marker.Marker
	err     error
}

func (f *fakeLoader) Load(_ context.Context, _, _ string) (map[string][]marker.Marker, error) {
	f.calls.Add(1)
	return f.entries, f.err
}

func TestResolver_Resolve(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "pkg", "mod.py")

	want := []marker.Marker{{Key: "A key", Metadata: marker.Metadata{"a": marker.String("Variable value")}}}
	loader := &fakeLoader{entries: map[string][]marker.Marker{"foo": want}}
	rec := &observe.Recorder{}
	r := NewResolver(loader, root, WithObserver(rec))

	got, err := r.Resolve(context.Background(), file, "foo")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = r.Resolve(context.Background(), file, "bar.foo")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.TargetNotFound))

	assert.Equal(t, int32(1), loader.calls.Load(), "module loaded once")
	assert.Equal(t, 1, rec.Count(observe.DynamicLoad))
	assert.Equal(t, 1, rec.Count(observe.TargetNotFound))

	markers, ok := r.registry.Lookup("pkg.mod.foo")
	require.True(t, ok)
	assert.Equal(t, want, markers)
}

func TestResolver_LoadFailureIsRemembered(t *testing.T) {
	root := t.TempDir()
	loader := &fakeLoader{err: fmt.Errorf("boom")}
	r := NewResolver(loader, root)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), filepath.Join(root, "mod.py"), "foo")
		assert.EqualError(t, err, "boom")
	}
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestResolver_OutsideProjectRoot(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(&fakeLoader{}, filepath.Join(root, "src"))

	_, err := r.Resolve(context.Background(), filepath.Join(root, "other", "mod.py"), "foo")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigInvalid))
}

func TestRegistry_ConcurrentLoadsShareOneCall(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int32
	load := func(context.Context) (map[string][]marker.Marker, error) {
		calls.Add(1)
		return map[string][]marker.Marker{"f": {{Key: "K"}}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Load(context.Background(), "m", load))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	done, err := reg.Loaded("m")
	assert.True(t, done)
	assert.NoError(t, err)
	m, ok := reg.Lookup("m.f")
	require.True(t, ok)
	assert.Equal(t, "K", m[0].Key)
}

func TestRegistry_LookupBeforeLoad(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup("x.y")
	assert.False(t, ok)
	done, _ := reg.Loaded("x")
	assert.False(t, done)
}

func TestDecodeOutput(t *testing.T) {
	data := []byte(`{"markers": {"C.m": [{"key": "K", "metadata": {
		"s": {"t": "str", "v": "x"},
		"i": {"t": "int", "v": "123456789012345678901234567890"},
		"f": {"t": "float", "v": "1.5"},
		"n": {"t": "none"},
		"b": {"t": "bool", "v": true},
		"by": {"t": "bytes", "v": "AP8="},
		"d": {"t": "date", "v": "2020-01-01"},
		"dt": {"t": "datetime", "v": "2020-01-01T10:00:00"},
		"dec": {"t": "decimal", "v": "1.0"},
		"l": {"t": "list", "v": [{"t": "int", "v": "1"}]},
		"tu": {"t": "tuple", "v": []},
		"se": {"t": "set", "v": [{"t": "str", "v": "a"}]},
		"di": {"t": "dict", "v": [[{"t": "str", "v": "k"}, {"t": "int", "v": "2"}]]},
		"r": {"t": "raw", "v": "<object>"}
	}}]}}`)

	entries, err := decodeOutput(data)
	require.NoError(t, err)
	require.Len(t, entries["C.m"], 1)
	md := entries["C.m"][0].Metadata

	assert.Equal(t, marker.String("x"), md["s"])
	assert.Equal(t, marker.Int("123456789012345678901234567890"), md["i"])
	assert.Equal(t, marker.Float(1.5), md["f"])
	assert.Equal(t, marker.None(), md["n"])
	assert.Equal(t, marker.Bool(true), md["b"])
	assert.Equal(t, marker.Bytes("\x00\xff"), md["by"])
	assert.Equal(t, marker.Date("2020-01-01"), md["d"])
	assert.Equal(t, marker.DateTime("2020-01-01T10:00:00"), md["dt"])
	assert.Equal(t, marker.Decimal("1.0"), md["dec"])
	assert.Equal(t, marker.List(marker.Int64(1)), md["l"])
	assert.Equal(t, marker.Tuple(), md["tu"])
	assert.Equal(t, marker.Set(marker.String("a")), md["se"])
	assert.Equal(t, marker.Dict(marker.Entry{Key: marker.String("k"), Value: marker.Int64(2)}), md["di"])
	assert.Equal(t, marker.Raw("<object>"), md["r"])
	assert.False(t, entries["C.m"][0].Complete())
}

func TestDecodeOutput_Errors(t *testing.T) {
	_, err := decodeOutput([]byte("not json"))
	assert.Error(t, err)

	_, err = decodeOutput([]byte(`{"markers": {"f": [{"key": "K", "metadata": {"x": {"t": "complex"}}}]}}`))
	assert.Error(t, err)
}

const decoratorModule = `
def traceability(key, /, **kwargs):
    def wrapper(func):
        existing = list(getattr(func, "__traceability__", []))
        func.__traceability__ = [{"key": key, "metadata": kwargs}] + existing
        return func
    return wrapper
`

const dynamicModule = `
import datetime
from decorators import traceability

VALUE = "Variable value"
print("side effect on stdout")


@traceability("A key", a=VALUE, when=datetime.date(2020, 1, 1), items=[VALUE, 1])
def foo():
    pass


class Holder:
    @traceability("B key", b=VALUE.upper())
    def method(self):
        pass


def outer():
    @traceability("C key", c=VALUE)
    def inner():
        pass
`

func TestPythonLoader(t *testing.T) {
	if _, err := exec.LookPath(DefaultPython); err != nil {
		t.Skip("python3 not available")
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "decorators.py"), []byte(decoratorModule), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "__init__.py"), nil, 0o644))
	file := filepath.Join(root, "pkg", "mod.py")
	require.NoError(t, os.WriteFile(file, []byte(dynamicModule), 0o644))

	loader := NewPythonLoader("", "", root)
	assert.True(t, loader.Available())
	r := NewResolver(loader, root)

	markers, err := r.Resolve(context.Background(), file, "foo")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "A key", markers[0].Key)
	assert.Equal(t, marker.Metadata{
		"a":     marker.String("Variable value"),
		"when":  marker.Date("2020-01-01"),
		"items": marker.List(marker.String("Variable value"), marker.Int64(1)),
	}, markers[0].Metadata)

	markers, err = r.Resolve(context.Background(), file, "Holder.method")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, marker.String("VARIABLE VALUE"), markers[0].Metadata["b"])

	_, err = r.Resolve(context.Background(), file, "outer.inner")
	assert.True(t, errors.HasCode(err, errors.TargetNotFound))
}

func TestPythonLoader_ImportError(t *testing.T) {
	if _, err := exec.LookPath(DefaultPython); err != nil {
		t.Skip("python3 not available")
	}

	root := t.TempDir()
	file := filepath.Join(root, "broken.py")
	require.NoError(t, os.WriteFile(file, []byte("raise RuntimeError('nope')\n"), 0o644))

	_, err := NewPythonLoader("", "", root).Load(context.Background(), file, "broken")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.DynamicLoadFailed))
}
