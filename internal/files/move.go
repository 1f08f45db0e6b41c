package files

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/events"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/remote"
)

// Move relocates a finalized file to a new virtual folder. The remote
// object is moved first; metadata is updated in a single statement only
// after the remote side fully succeeded, so a remote failure leaves the
// record untouched.
//
// A move into a folder that already holds the same filename auto-renames
// the moved file rather than failing.
func (s *Service) Move(ctx context.Context, ownerID, fileID, newFolderPath string) (*FileRecord, error) {
	log := logging.WithContext(ctx)

	rec, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	folder := NormalizeFolderPath(newFolderPath)
	if err := ValidateFolderPath(folder, false); err != nil {
		return nil, err
	}
	if folder == rec.FolderPath {
		return rec, nil
	}

	name, err := s.ResolveFilename(ctx, ownerID, folder, rec.Filename, rec.ID)
	if err != nil {
		return nil, storagef(err, "resolve destination filename for %s", fileID)
	}

	// The content type was recorded at upload time, so the adapter can
	// skip a redundant classification lookup.
	hint := remote.TypeFromContentType(rec.ContentType)

	// Destinations are keyed by a fresh object id, never the filename.
	// Filename uniqueness only holds among non-deleted records, and
	// tombstoned files keep their remote objects; a name-derived key
	// could collide with a tombstone's object and overwrite it.
	destPath := objectDestPath(ownerID, folder, uuid.NewString())
	result, err := s.remote.Move(ctx, rec.RemoteObjectID, destPath, hint)
	if err != nil {
		return nil, storagef(err, "move object %s", rec.RemoteObjectID)
	}
	if result == nil || result.ObjectID == "" {
		return nil, storagef(nil, "remote store returned an empty move result for %s", rec.RemoteObjectID)
	}

	// Some object classes come back without URLs. The pre-move URLs are
	// not valid for the new location, so regenerate instead of reusing.
	url, secureURL := result.URL, result.SecureURL
	if url == "" {
		url = s.regenerateURL(ctx, result.ObjectID, false, hint)
	}
	if secureURL == "" {
		secureURL = s.regenerateURL(ctx, result.ObjectID, true, hint)
	}

	rec.FolderPath = folder
	rec.Filename = name
	rec.RemoteObjectID = result.ObjectID
	rec.RemoteURL = url
	rec.RemoteSecureURL = secureURL
	rec.UpdatedAt = s.now()
	if err := s.store.UpdateFile(ctx, rec); err != nil {
		return nil, storagef(err, "persist move of %s", fileID)
	}

	log.Info("file moved",
		zap.String("file_id", rec.ID),
		zap.String("folder", rec.FolderPath),
		zap.String("filename", rec.Filename))
	s.publish(events.EventMoved, rec)
	return rec, nil
}

// regenerateURL asks the remote store for a fresh delivery URL. Failure
// is tolerated: the object id already changed successfully, so the move
// proceeds with the field left empty.
func (s *Service) regenerateURL(ctx context.Context, objectID string, secure bool, hint remote.ResourceType) string {
	url, err := s.remote.GetURL(ctx, objectID, secure, hint)
	if err != nil {
		logging.WithContext(ctx).Warn("could not regenerate delivery URL after move",
			zap.String("object_id", objectID),
			zap.Bool("secure", secure),
			zap.Error(err))
		return ""
	}
	return url
}
