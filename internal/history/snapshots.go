package history

import (
	"context"
	stderrors "errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"pytrace/internal/backends/git"
	"pytrace/internal/errors"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
	"pytrace/internal/storage"
)

// DefaultLRUSize is the number of parsed blobs kept in memory
const DefaultLRUSize = 512

// SnapshotStore persists parsed blobs across runs
type SnapshotStore interface {
	Get(ctx context.Context, blob, fingerprint string) (*storage.Snapshot, bool, error)
	Put(ctx context.Context, blob, fingerprint string, snap *storage.Snapshot) error
}

// snapshots parses historical blobs, serving repeats from an in-memory LRU
// and then from the optional persistent store.
type snapshots struct {
	walker      git.CommitWalker
	extractor   Extractor
	fingerprint string
	mem         *lru.Cache[string, *storage.Snapshot]
	store       SnapshotStore
	observer    observe.Observer

	parsed int
	hits   int
}

func newSnapshots(walker git.CommitWalker, extractor Extractor, fingerprint string, size int, store SnapshotStore, observer observe.Observer) (*snapshots, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	mem, err := lru.New[string, *storage.Snapshot](size)
	if err != nil {
		return nil, err
	}
	return &snapshots{
		walker:      walker,
		extractor:   extractor,
		fingerprint: fingerprint,
		mem:         mem,
		store:       store,
		observer:    observer,
	}, nil
}

// records returns the declarations in blob as if it lived at path. ok is
// false when the blob could not be parsed.
func (s *snapshots) records(ctx context.Context, blob, path string) (recs []marker.ExtractionRecord, ok bool, err error) {
	snap, err := s.lookup(ctx, blob, path)
	if err != nil {
		return nil, false, err
	}
	if snap.Invalid != "" {
		return nil, false, nil
	}
	if len(snap.Records) == 0 {
		return nil, true, nil
	}
	out := make([]marker.ExtractionRecord, len(snap.Records))
	for i, rec := range snap.Records {
		rec.FilePath = path
		out[i] = rec
	}
	return out, true, nil
}

func (s *snapshots) lookup(ctx context.Context, blob, path string) (*storage.Snapshot, error) {
	if snap, ok := s.mem.Get(blob); ok {
		s.hits++
		return snap, nil
	}
	if s.store != nil {
		snap, ok, err := s.store.Get(ctx, blob, s.fingerprint)
		if err != nil {
			return nil, err
		}
		if ok {
			s.hits++
			s.mem.Add(blob, snap)
			return snap, nil
		}
	}

	snap, err := s.parse(ctx, blob, path)
	if err != nil {
		return nil, err
	}
	s.parsed++
	s.mem.Add(blob, snap)
	if s.store != nil {
		if err := s.store.Put(ctx, blob, s.fingerprint, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// parse extracts a blob. Unparsable files and marker misuse in history are
// recorded as invalid snapshots rather than failing the walk.
func (s *snapshots) parse(ctx context.Context, blob, path string) (*storage.Snapshot, error) {
	content, err := s.walker.Blob(ctx, blob)
	if err != nil {
		return nil, err
	}
	records, err := s.extractor.Extract(ctx, path, content)
	if err == nil {
		for i := range records {
			records[i].FilePath = ""
		}
		return &storage.Snapshot{Records: records}, nil
	}

	var te *errors.TraceError
	if stderrors.As(err, &te) && (te.Code == errors.SyntaxError || errors.IsInvalidTraceability(err)) {
		s.observer.OnEvent(ctx, observe.Event{
			Kind:    observe.FileSkipped,
			Level:   observe.LevelDebug,
			Message: "ignoring unparsable historical file",
			Path:    path,
			Err:     err,
		})
		return &storage.Snapshot{Invalid: string(te.Code)}, nil
	}
	return nil, err
}
