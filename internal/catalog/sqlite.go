package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Snapshot files are single SQLite databases with one row per bucket holding
// that bucket's JSON payload.
const (
	bucketMeta         = "meta"
	bucketInteractions = "interactions"
	bucketRanges       = "reference_ranges"
	bucketOrderSets    = "order_sets"
)

type snapshotMeta struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

func openFile(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return db, nil
}

// WriteFile stores snap at path, replacing the buckets of an existing file.
func WriteFile(path string, snap *Snapshot) (retErr error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := openFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	buckets := []struct {
		name  string
		value interface{}
	}{
		{bucketMeta, snapshotMeta{Version: snap.Version, ExportedAt: snap.ExportedAt}},
		{bucketInteractions, snap.Interactions},
		{bucketRanges, snap.ReferenceRanges},
		{bucketOrderSets, snap.OrderSets},
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		data, err := json.Marshal(b.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?)
			ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, b.name, data); err != nil {
			return fmt.Errorf("upsert %s: %w", b.name, err)
		}
	}
	return tx.Commit()
}

// ReadFile loads the snapshot stored at path.
func ReadFile(path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	db, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{}
	var meta snapshotMeta
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var target interface{}
		switch bucket {
		case bucketMeta:
			target, found = &meta, true
		case bucketInteractions:
			target = &snap.Interactions
		case bucketRanges:
			target = &snap.ReferenceRanges
		case bucketOrderSets:
			target = &snap.OrderSets
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("snapshot %s has no %s bucket", path, bucketMeta)
	}
	snap.Version, snap.ExportedAt = meta.Version, meta.ExportedAt
	return snap, nil
}

// ObjectKey names a snapshot in object storage by its export time.
func ObjectKey(prefix string, snap *Snapshot) string {
	name := "catalog-" + strconv.FormatInt(snap.ExportedAt.UTC().Unix(), 10) + ".db"
	if prefix == "" {
		return name
	}
	return filepath.ToSlash(filepath.Join(prefix, name))
}
