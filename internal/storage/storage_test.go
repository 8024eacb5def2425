package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/marker"
)

func setupTestStore(t *testing.T) (*SnapshotStore, *DB) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), ".pytrace", "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSnapshotStore(db)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store, db
}

func TestOpen_CreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "cache.db")
	db, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, dbPath, db.Path())

	version, err := db.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_MigratesVersionOne(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(dbPath, nil)
	require.NoError(t, err)
	_, err = db.conn.Exec("UPDATE schema_version SET version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "abc", "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := &Snapshot{Records: []marker.ExtractionRecord{{
		Location: marker.Location{
			FunctionName:  "Outer.method",
			LineNumber:    4,
			EndLineNumber: 6,
			SourceCode:    "def method(self):\n    pass",
		},
		Markers: []marker.Marker{{
			Key: "KEY-1",
			Metadata: marker.Metadata{
				"owner": marker.String("qa"),
				"tags":  marker.List(marker.Int("1"), marker.None(), marker.Raw("x + 1")),
				"map":   marker.Dict(marker.Entry{Key: marker.Int("2"), Value: marker.Bool(true)}),
			},
		}},
	}}}
	require.NoError(t, store.Put(ctx, "abc", "fp", snap))

	got, ok, err := store.Get(ctx, "abc", "fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Records, 1)
	assert.Equal(t, snap.Records[0].Location, got.Records[0].Location)
	assert.Equal(t, "KEY-1", got.Records[0].Markers[0].Key)
	meta := got.Records[0].Markers[0].Metadata
	assert.Equal(t, `[1, None, RawExpression("x + 1")]`, meta["tags"].String())
	assert.False(t, meta["tags"].Complete())
	assert.Equal(t, marker.KindDict, meta["map"].Kind)

	_, ok, err = store.Get(ctx, "abc", "other")
	require.NoError(t, err)
	assert.False(t, ok, "fingerprint is part of the key")
}

func TestSnapshotStore_InvalidAndReplace(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b1", "fp", &Snapshot{Invalid: "SYNTAX_ERROR"}))
	got, ok, err := store.Get(ctx, "b1", "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SYNTAX_ERROR", got.Invalid)
	assert.Empty(t, got.Records)

	require.NoError(t, store.Put(ctx, "b1", "fp", &Snapshot{}))
	got, _, err = store.Get(ctx, "b1", "fp")
	require.NoError(t, err)
	assert.Empty(t, got.Invalid)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSnapshotStore_CorruptPayloadIsMiss(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	_, err := db.conn.Exec(`INSERT INTO snapshots (blob, fingerprint, payload, created_at) VALUES ('bad', 'fp', x'00ff', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "bad", "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotStore_Prune(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "new", "fp", &Snapshot{}))
	_, err := db.conn.Exec(`INSERT INTO snapshots (blob, fingerprint, payload, created_at) VALUES ('old', 'fp', x'00', '2000-01-01T00:00:00Z')`)
	require.NoError(t, err)

	removed, err := store.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
