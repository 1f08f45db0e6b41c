package files

import (
	"context"
	"time"
)

// InsertOutcome tags the result of a reservation insert so the caller
// can loop on conflicts without exception-style control flow.
type InsertOutcome int

const (
	// InsertOK means the row was created.
	InsertOK InsertOutcome = iota
	// InsertConflict means the store's uniqueness constraint rejected
	// the row: a concurrent writer won the race for the same name.
	InsertConflict
)

// MetadataStore is the relational persistence consumed by this core.
// Lookups return (nil, nil) when nothing matches; only infrastructure
// failures surface as errors.
type MetadataStore interface {
	// GetOwner returns the owner row, or nil when unknown.
	GetOwner(ctx context.Context, ownerID string) (*Owner, error)

	// InsertFile creates a row, reporting a uniqueness violation on
	// (owner, folder, filename) as InsertConflict rather than an error.
	InsertFile(ctx context.Context, rec *FileRecord) (InsertOutcome, error)

	// UpdateFile persists all mutable fields of rec in one statement.
	UpdateFile(ctx context.Context, rec *FileRecord) error

	// DeleteFile removes a row outright. Used to revert reservations.
	DeleteFile(ctx context.Context, id string) error

	// SoftDeleteFile tombstones a finalized row.
	SoftDeleteFile(ctx context.Context, id string, at time.Time) error

	// RestoreFile clears a tombstone, optionally renaming the record.
	RestoreFile(ctx context.Context, id, filename string) error

	// FindByID returns any row (including tombstoned) by id.
	FindByID(ctx context.Context, id string) (*FileRecord, error)

	// FindByOwnerAndID returns a non-deleted row scoped to its owner.
	FindByOwnerAndID(ctx context.Context, ownerID, id string) (*FileRecord, error)

	// FindByName returns the non-deleted row at (owner, folder,
	// filename), skipping excludeID when non-empty.
	FindByName(ctx context.Context, ownerID, folderPath, filename, excludeID string) (*FileRecord, error)

	// ListByFolder returns an owner's non-deleted rows at exactly folderPath.
	ListByFolder(ctx context.Context, ownerID, folderPath string) ([]*FileRecord, error)

	// ListFolderPaths returns the distinct non-root folder paths among
	// an owner's non-deleted rows.
	ListFolderPaths(ctx context.Context, ownerID string) ([]string, error)

	// CountInSubtree counts an owner's non-deleted rows at folderPath
	// or any strict descendant of it.
	CountInSubtree(ctx context.Context, ownerID, folderPath string) (int64, error)

	// FolderStats aggregates an owner's non-deleted rows in the subtree
	// rooted at folderPath.
	FolderStats(ctx context.Context, ownerID, folderPath string) (*FolderStats, error)
}
