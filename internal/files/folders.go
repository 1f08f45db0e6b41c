package files

import (
	"context"
	"sort"
)

// Folders are virtual: a path "exists" only while at least one
// non-deleted record sits at it or below it. Nothing here writes rows.

// ListFolders returns an owner's folder paths. With parent == "" every
// distinct path is returned; otherwise only direct children of parent
// (strict prefix plus exactly one more segment).
func (s *Service) ListFolders(ctx context.Context, ownerID, parent string) ([]string, error) {
	if _, err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	parentPath := NormalizeFolderPath(parent)
	if err := ValidateFolderPath(parentPath, false); err != nil {
		return nil, err
	}

	paths, err := s.store.ListFolderPaths(ctx, ownerID)
	if err != nil {
		return nil, storagef(err, "list folders for owner %s", ownerID)
	}

	if parent == "" && parentPath == "" {
		sort.Strings(paths)
		return paths, nil
	}

	seen := make(map[string]struct{})
	var children []string
	for _, p := range paths {
		child, ok := DirectChild(parentPath, p)
		if !ok || child == parentPath {
			continue
		}
		if _, dup := seen[child]; dup {
			continue
		}
		seen[child] = struct{}{}
		children = append(children, child)
	}
	sort.Strings(children)
	return children, nil
}

// GetFolderStats aggregates the subtree rooted at folderPath.
func (s *Service) GetFolderStats(ctx context.Context, ownerID, folderPath string) (*FolderStats, error) {
	if _, err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	folder := NormalizeFolderPath(folderPath)
	if err := ValidateFolderPath(folder, false); err != nil {
		return nil, err
	}
	stats, err := s.store.FolderStats(ctx, ownerID, folder)
	if err != nil {
		return nil, storagef(err, "aggregate folder %q", folder)
	}
	stats.Path = folder
	return stats, nil
}

// DeleteFolder verifies emptiness. A folder with zero associated files
// is already "gone" (it is virtual), so deletion is a no-op success; a
// folder still holding files is rejected.
func (s *Service) DeleteFolder(ctx context.Context, ownerID, folderPath string) error {
	if _, err := s.requireOwner(ctx, ownerID); err != nil {
		return err
	}
	folder := NormalizeFolderPath(folderPath)
	if err := ValidateFolderPath(folder, true); err != nil {
		return err
	}

	count, err := s.store.CountInSubtree(ctx, ownerID, folder)
	if err != nil {
		return storagef(err, "count files in folder %q", folder)
	}
	if count > 0 {
		return validationf("cannot delete non-empty folder %q (%d files)", folder, count)
	}
	return nil
}
