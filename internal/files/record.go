// Package files implements the consistency core between the metadata
// store and the remote object store: reservation-first uploads with
// compensation, deterministic filename collision resolution, virtual
// folders, and moves with URL regeneration.
package files

import "time"

// FileRecord is the metadata row for one stored object. Among
// non-deleted records, (OwnerID, FolderPath, Filename) is unique,
// enforced by the metadata store.
type FileRecord struct {
	ID              string
	OwnerID         string
	Filename        string
	ContentType     string
	SizeBytes       int64
	FolderPath      string // normalized absolute virtual path, "" = root
	RemoteObjectID  string
	RemoteURL       string
	RemoteSecureURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Deleted         bool
	DeletedAt       *time.Time
}

// Owner is the minimal owner registry entry consulted before writes.
type Owner struct {
	ID       string
	Username string
	Active   bool
}

// FolderStats aggregates the non-deleted files at a folder path and its
// descendants. EarliestCreatedAt is the zero time for an empty folder.
type FolderStats struct {
	Path              string
	FileCount         int64
	TotalSize         int64
	ByContentType     map[string]int64
	ChildFolders      map[string]int64 // direct child path -> file count in its subtree
	EarliestCreatedAt time.Time
}
