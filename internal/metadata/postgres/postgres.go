// Package postgres provides the PostgreSQL-backed metadata store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/files"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/metrics"
)

// Store is a PostgreSQL metadata store. It enforces the uniqueness of
// (owner_id, folder_path, filename) among non-deleted rows through a
// partial unique index; InsertFile translates violations into the
// tagged conflict outcome so callers can retry.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and verifies connectivity.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	paths, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range paths {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

const fileColumns = `id, owner_id, filename, content_type, size_bytes, folder_path,
	remote_object_id, remote_url, remote_secure_url, created_at, updated_at, deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(r rowScanner) (*files.FileRecord, error) {
	var rec files.FileRecord
	var deletedAt sql.NullTime
	if err := r.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &rec.ContentType,
		&rec.SizeBytes, &rec.FolderPath, &rec.RemoteObjectID, &rec.RemoteURL,
		&rec.RemoteSecureURL, &rec.CreatedAt, &rec.UpdatedAt, &rec.Deleted,
		&deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	return &rec, nil
}

// GetOwner returns the owner row, or nil when unknown.
func (s *Store) GetOwner(ctx context.Context, ownerID string) (*files.Owner, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_owner", time.Since(start)) }()

	var o files.Owner
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, active FROM owners WHERE id = $1`, ownerID).
		Scan(&o.ID, &o.Username, &o.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query owner: %w", err)
	}
	return &o, nil
}

// InsertFile creates a row. A violation of the partial unique index on
// (owner_id, folder_path, filename) reports InsertConflict instead of
// an error; everything else is an infrastructure failure.
func (s *Store) InsertFile(ctx context.Context, rec *files.FileRecord) (files.InsertOutcome, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_file", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, owner_id, filename, content_type, size_bytes, folder_path,
		  remote_object_id, remote_url, remote_secure_url, created_at, updated_at, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE)`,
		rec.ID, rec.OwnerID, rec.Filename, rec.ContentType, rec.SizeBytes,
		rec.FolderPath, rec.RemoteObjectID, rec.RemoteURL, rec.RemoteSecureURL,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return files.InsertConflict, nil
		}
		return files.InsertOK, fmt.Errorf("insert file: %w", err)
	}
	return files.InsertOK, nil
}

// UpdateFile persists all mutable fields of rec in one statement.
func (s *Store) UpdateFile(ctx context.Context, rec *files.FileRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_file", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET filename = $2, content_type = $3, size_bytes = $4,
		  folder_path = $5, remote_object_id = $6, remote_url = $7,
		  remote_secure_url = $8, updated_at = $9
		 WHERE id = $1`,
		rec.ID, rec.Filename, rec.ContentType, rec.SizeBytes, rec.FolderPath,
		rec.RemoteObjectID, rec.RemoteURL, rec.RemoteSecureURL, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update file %s: no such row", rec.ID)
	}
	return nil
}

// DeleteFile removes a row outright. Used to revert reservations and to
// purge tombstones.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_file", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// SoftDeleteFile tombstones a finalized row.
func (s *Store) SoftDeleteFile(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("soft_delete_file", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted = TRUE, deleted_at = $2, updated_at = $2
		 WHERE id = $1 AND NOT deleted`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete file: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("soft delete file %s: no such row", id)
	}
	return nil
}

// RestoreFile clears a tombstone, optionally renaming the record.
func (s *Store) RestoreFile(ctx context.Context, id, filename string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("restore_file", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted = FALSE, deleted_at = NULL, filename = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted`, id, filename)
	if err != nil {
		return fmt.Errorf("restore file: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("restore file %s: no such row", id)
	}
	return nil
}

// FindByID returns any row, including tombstoned ones, by id.
func (s *Store) FindByID(ctx context.Context, id string) (*files.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_by_id", time.Since(start)) }()

	rec, err := scanFileRecord(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	return rec, nil
}

// FindByOwnerAndID returns a non-deleted row scoped to its owner.
func (s *Store) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*files.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_by_owner_and_id", time.Since(start)) }()

	rec, err := scanFileRecord(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE id = $1 AND owner_id = $2 AND NOT deleted`, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	return rec, nil
}

// FindByName returns the non-deleted row at (owner, folder, filename),
// skipping excludeID when non-empty.
func (s *Store) FindByName(ctx context.Context, ownerID, folderPath, filename, excludeID string) (*files.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_by_name", time.Since(start)) }()

	rec, err := scanFileRecord(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE owner_id = $1 AND folder_path = $2 AND filename = $3
		   AND NOT deleted AND ($4 = '' OR id <> $4)`,
		ownerID, folderPath, filename, excludeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query file by name: %w", err)
	}
	return rec, nil
}

// ListByFolder returns an owner's non-deleted rows at exactly folderPath.
func (s *Store) ListByFolder(ctx context.Context, ownerID, folderPath string) ([]*files.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_by_folder", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE owner_id = $1 AND folder_path = $2 AND NOT deleted
		 ORDER BY filename`, ownerID, folderPath)
	if err != nil {
		return nil, fmt.Errorf("list folder: %w", err)
	}
	defer rows.Close()

	var recs []*files.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListFolderPaths returns the distinct non-root folder paths among an
// owner's non-deleted rows.
func (s *Store) ListFolderPaths(ctx context.Context, ownerID string) ([]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_folder_paths", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT folder_path FROM files
		 WHERE owner_id = $1 AND folder_path <> '' AND NOT deleted
		 ORDER BY folder_path`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folder paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan folder path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// subtreePredicate matches rows at folder or any strict descendant.
// The empty folder is the root, whose subtree is everything.
const subtreePredicate = `($2 = '' OR folder_path = $2 OR folder_path LIKE $2 || '/%')`

// CountInSubtree counts an owner's non-deleted rows in the subtree.
func (s *Store) CountInSubtree(ctx context.Context, ownerID, folderPath string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("count_in_subtree", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files
		 WHERE owner_id = $1 AND NOT deleted AND `+subtreePredicate,
		ownerID, folderPath).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subtree: %w", err)
	}
	return count, nil
}

// FolderStats aggregates an owner's non-deleted rows in the subtree
// rooted at folderPath.
func (s *Store) FolderStats(ctx context.Context, ownerID, folderPath string) (*files.FolderStats, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("folder_stats", time.Since(start)) }()

	stats := &files.FolderStats{
		Path:          folderPath,
		ByContentType: make(map[string]int64),
		ChildFolders:  make(map[string]int64),
	}

	var earliest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), MIN(created_at)
		 FROM files WHERE owner_id = $1 AND NOT deleted AND `+subtreePredicate,
		ownerID, folderPath).
		Scan(&stats.FileCount, &stats.TotalSize, &earliest)
	if err != nil {
		return nil, fmt.Errorf("aggregate folder: %w", err)
	}
	if earliest.Valid {
		stats.EarliestCreatedAt = earliest.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_type, COUNT(*) FROM files
		 WHERE owner_id = $1 AND NOT deleted AND `+subtreePredicate+`
		 GROUP BY content_type`, ownerID, folderPath)
	if err != nil {
		return nil, fmt.Errorf("aggregate content types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ct string
		var n int64
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, fmt.Errorf("scan content type: %w", err)
		}
		stats.ByContentType[ct] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	childRows, err := s.db.QueryContext(ctx,
		`SELECT folder_path, COUNT(*) FROM files
		 WHERE owner_id = $1 AND NOT deleted AND folder_path <> $2 AND `+subtreePredicate+`
		 GROUP BY folder_path`, ownerID, folderPath)
	if err != nil {
		return nil, fmt.Errorf("aggregate child folders: %w", err)
	}
	defer childRows.Close()
	for childRows.Next() {
		var p string
		var n int64
		if err := childRows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("scan child folder: %w", err)
		}
		if child, ok := files.DirectChild(folderPath, p); ok {
			stats.ChildFolders[child] += n
		}
	}
	return stats, childRows.Err()
}
