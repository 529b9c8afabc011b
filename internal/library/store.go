// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/opentouch/touchstream/internal/container"
)

// Store persists the recording index in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the index database at dbPath and applies the schema.
// WAL mode and a busy timeout suit the read-heavy listing workload.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("library: open index db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("library: ping index db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("library: migrate index db: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the catalog database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS roots (
		id TEXT PRIMARY KEY,
		last_scan_time TEXT,
		last_scan_status TEXT NOT NULL DEFAULT 'never'
			CHECK(last_scan_status IN ('never', 'running', 'ok', 'degraded', 'failed')),
		recording_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS recordings (
		root_id TEXT NOT NULL,
		rel_path TEXT NOT NULL,
		name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		scan_time INTEGER NOT NULL,
		group_name TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		duration_seconds REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ok' CHECK(status IN ('ok', 'unreadable')),
		PRIMARY KEY (root_id, rel_path)
	);

	CREATE TABLE IF NOT EXISTS streams (
		root_id TEXT NOT NULL,
		rel_path TEXT NOT NULL,
		sensor TEXT NOT NULL,
		stream TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (root_id, rel_path, sensor, stream)
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_group ON recordings(group_name);
	CREATE INDEX IF NOT EXISTS idx_recordings_mod ON recordings(root_id, mod_time);
	CREATE INDEX IF NOT EXISTS idx_streams_recording ON streams(root_id, rel_path);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertRoot registers a root, keeping its scan state if already present.
func (s *Store) UpsertRoot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO roots (id, last_scan_status) VALUES (?, 'never')
	ON CONFLICT(id) DO NOTHING
	`, id)
	return err
}

// Roots lists every registered root.
func (s *Store) Roots(ctx context.Context) ([]Root, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, last_scan_time, last_scan_status, recording_count
	FROM roots ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var roots []Root
	for rows.Next() {
		r, err := scanRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// Root returns one root, or nil when unknown.
func (s *Store) Root(ctx context.Context, id string) (*Root, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, last_scan_time, last_scan_status, recording_count
	FROM roots WHERE id = ?
	`, id)
	r, err := scanRoot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoot(row rowScanner) (Root, error) {
	var r Root
	var lastScan sql.NullString
	if err := row.Scan(&r.ID, &lastScan, &r.LastScanStatus, &r.Recordings); err != nil {
		return Root{}, err
	}
	if lastScan.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastScan.String); err == nil {
			r.LastScanTime = &t
		}
	}
	return r, nil
}

// SetRootStatus updates a root's scan state and recording count.
func (s *Store) SetRootStatus(ctx context.Context, id string, status RootStatus, scanTime time.Time, recordings int) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE roots SET last_scan_status = ?, last_scan_time = ?, recording_count = ?
	WHERE id = ?
	`, status.String(), scanTime.UTC().Format(time.RFC3339Nano), recordings, id)
	return err
}

// BeginTx starts the transaction a scan batches its upserts in.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// UpsertRecording writes one recording and replaces its stream rows.
func (s *Store) UpsertRecording(ctx context.Context, tx *sql.Tx, rec Recording) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO recordings
		(root_id, rel_path, name, size_bytes, mod_time, scan_time,
		 group_name, chunk_count, duration_seconds, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(root_id, rel_path) DO UPDATE SET
		name = excluded.name,
		size_bytes = excluded.size_bytes,
		mod_time = excluded.mod_time,
		scan_time = excluded.scan_time,
		group_name = excluded.group_name,
		chunk_count = excluded.chunk_count,
		duration_seconds = excluded.duration_seconds,
		status = excluded.status
	`,
		rec.RootID, rec.RelPath, rec.Name, rec.SizeBytes,
		rec.ModTime.UTC().Format(time.RFC3339Nano),
		rec.ScanTime.UnixNano(),
		rec.GroupName, rec.ChunkCount, rec.DurationSeconds, rec.Status.String(),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM streams WHERE root_id = ? AND rel_path = ?`,
		rec.RootID, rec.RelPath); err != nil {
		return err
	}
	for _, st := range rec.Streams {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO streams (root_id, rel_path, sensor, stream, kind)
		VALUES (?, ?, ?, ?, ?)
		`, rec.RootID, rec.RelPath, st.Sensor, st.Stream, string(st.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// PruneStale removes recordings a full scan did not touch: their files are
// gone. Returns the number of pruned recordings.
func (s *Store) PruneStale(ctx context.Context, tx *sql.Tx, rootID string, scanTime time.Time) (int, error) {
	cutoff := scanTime.UnixNano()
	if _, err := tx.ExecContext(ctx, `
	DELETE FROM streams WHERE root_id = ? AND rel_path IN
		(SELECT rel_path FROM recordings WHERE root_id = ? AND scan_time < ?)
	`, rootID, rootID, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM recordings WHERE root_id = ? AND scan_time < ?`, rootID, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Recordings lists a root's recordings ordered by path, with the total count
// for pagination.
func (s *Store) Recordings(ctx context.Context, rootID string, limit, offset int) ([]Recording, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recordings WHERE root_id = ?`, rootID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT root_id, rel_path, name, size_bytes, mod_time, scan_time,
	       group_name, chunk_count, duration_seconds, status
	FROM recordings
	WHERE root_id = ?
	ORDER BY rel_path
	LIMIT ? OFFSET ?
	`, rootID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

// Recording returns one recording with its streams, or nil when unindexed.
func (s *Store) Recording(ctx context.Context, rootID, relPath string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT root_id, rel_path, name, size_bytes, mod_time, scan_time,
	       group_name, chunk_count, duration_seconds, status
	FROM recordings
	WHERE root_id = ? AND rel_path = ?
	`, rootID, relPath)

	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	streams, err := s.streamsOf(ctx, rootID, relPath)
	if err != nil {
		return nil, err
	}
	rec.Streams = streams
	return &rec, nil
}

func scanRecording(row rowScanner) (Recording, error) {
	var rec Recording
	var modTime string
	var scanNanos int64
	err := row.Scan(
		&rec.RootID, &rec.RelPath, &rec.Name, &rec.SizeBytes,
		&modTime, &scanNanos,
		&rec.GroupName, &rec.ChunkCount, &rec.DurationSeconds, &rec.Status,
	)
	if err != nil {
		return Recording{}, err
	}
	rec.ModTime, _ = time.Parse(time.RFC3339Nano, modTime)
	rec.ScanTime = time.Unix(0, scanNanos).UTC()
	return rec, nil
}

func (s *Store) streamsOf(ctx context.Context, rootID, relPath string) ([]StreamInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT sensor, stream, kind FROM streams
	WHERE root_id = ? AND rel_path = ?
	ORDER BY sensor, stream
	`, rootID, relPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var streams []StreamInfo
	for rows.Next() {
		var st StreamInfo
		var kind string
		if err := rows.Scan(&st.Sensor, &st.Stream, &kind); err != nil {
			return nil, err
		}
		st.Kind = container.Kind(kind)
		streams = append(streams, st)
	}
	return streams, rows.Err()
}
