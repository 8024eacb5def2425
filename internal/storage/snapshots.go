package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"pytrace/internal/marker"
)

// Snapshot is the parsed state of one historical blob. Records carry no
// FilePath; the same blob may live at several paths over time.
type Snapshot struct {
	Records []marker.ExtractionRecord
	// Invalid holds the error code when the blob could not be parsed
	Invalid string
}

// SnapshotStore reads and writes snapshots as zstd-compressed gob
type SnapshotStore struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSnapshotStore creates a store backed by db
func NewSnapshotStore(db *DB) (*SnapshotStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &SnapshotStore{db: db, enc: enc, dec: dec}, nil
}

// Get returns the snapshot stored for blob under fingerprint
func (s *SnapshotStore) Get(ctx context.Context, blob, fingerprint string) (*Snapshot, bool, error) {
	var payload []byte
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT payload FROM snapshots
		WHERE blob = ? AND fingerprint = ?
	`, blob, fingerprint).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot lookup failed: %w", err)
	}

	snap, err := s.decode(payload)
	if err != nil {
		// A corrupt row is treated as a miss and replaced on the next Put
		s.db.logger.Warn("Discarding unreadable snapshot", "blob", blob, "error", err.Error())
		return nil, false, nil
	}
	return snap, true, nil
}

// Put stores snap for blob under fingerprint, replacing any previous value
func (s *SnapshotStore) Put(ctx context.Context, blob, fingerprint string, snap *Snapshot) error {
	payload, err := s.encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (blob, fingerprint, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, blob, fingerprint, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Count returns the number of stored snapshots
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Prune deletes snapshots created before cutoff and returns how many went
func (s *SnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE created_at < ?",
			cutoff.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Close releases the codec resources. The DB is closed by its owner.
func (s *SnapshotStore) Close() {
	_ = s.enc.Close()
	s.dec.Close()
}

func (s *SnapshotStore) encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.enc.EncodeAll(buf.Bytes(), nil), nil
}

func (s *SnapshotStore) decode(payload []byte) (*Snapshot, error) {
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
