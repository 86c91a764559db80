// Package sqlite stores chunk metadata in a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/log_service"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteMetadataIndex keeps one row per chunk keyed by id.
type SQLiteMetadataIndex struct {
	db *sql.DB
	ls log_service.LogService
}

// Open creates or opens the database at path and applies the schema.
// Failures wrap metadata_index.ErrIndexUnavailable.
func Open(path string, ls log_service.LogService) (*SQLiteMetadataIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", metadata_index.ErrIndexUnavailable, path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", metadata_index.ErrIndexUnavailable, path, err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", metadata_index.ErrIndexUnavailable, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", metadata_index.ErrIndexUnavailable, err)
	}

	ls.Info(log_service.LogEvent{
		Message:  "Metadata index opened",
		Metadata: map[string]any{"backend": "sqlite", "path": path},
	})

	return &SQLiteMetadataIndex{db: db, ls: ls}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (mi *SQLiteMetadataIndex) Put(ctx context.Context, record chunk.ChunkRecord) error {
	_, err := mi.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, blob_name, relative_start_time, seq) VALUES (?, ?, ?, ?)`,
		record.ID, record.BlobName, record.RelativeStartTime, int64(record.Seq),
	)
	if err != nil {
		mi.ls.Error(log_service.LogEvent{
			Message:  "Failed to put metadata record",
			Metadata: map[string]any{"chunkID": record.ID, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexWriteFailed, err)
	}
	return nil
}

func (mi *SQLiteMetadataIndex) Delete(ctx context.Context, id string) error {
	res, err := mi.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexWriteFailed, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexWriteFailed, err)
	}
	if n == 0 {
		return metadata_index.ErrRecordNotFound
	}
	return nil
}

func (mi *SQLiteMetadataIndex) ListAll(ctx context.Context) ([]chunk.ChunkRecord, error) {
	rows, err := mi.db.QueryContext(ctx,
		`SELECT id, blob_name, relative_start_time, seq FROM chunks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
	}
	defer rows.Close()

	var records []chunk.ChunkRecord
	for rows.Next() {
		var (
			r   chunk.ChunkRecord
			seq int64
		)
		if err := rows.Scan(&r.ID, &r.BlobName, &r.RelativeStartTime, &seq); err != nil {
			return nil, fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
		}
		r.Seq = uint64(seq)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
	}
	return records, nil
}

func (mi *SQLiteMetadataIndex) Close() error {
	if mi.db == nil {
		return nil
	}
	err := mi.db.Close()
	mi.db = nil
	return err
}

var _ metadata_index.MetadataIndex = (*SQLiteMetadataIndex)(nil)
