package files

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/events"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/remote"
)

// maxReserveAttempts bounds the reservation retry loop when concurrent
// writers keep winning the same name.
const maxReserveAttempts = 5

// Service coordinates the metadata store and the remote object store.
// All consistency decisions live here; both collaborators are consumed
// through narrow interfaces.
type Service struct {
	store       MetadataStore
	remote      remote.ObjectStore
	broadcaster *events.Broadcaster
	now         func() time.Time
}

// NewService creates a Service. broadcaster may be nil when change
// events are not wanted.
func NewService(store MetadataStore, objStore remote.ObjectStore, broadcaster *events.Broadcaster) *Service {
	return &Service{
		store:       store,
		remote:      objStore,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// requireOwner resolves an owner id to an existing, active owner.
func (s *Service) requireOwner(ctx context.Context, ownerID string) (*Owner, error) {
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err != nil {
		return nil, storagef(err, "look up owner %s", ownerID)
	}
	if owner == nil || !owner.Active {
		return nil, notFound("owner", ownerID)
	}
	return owner, nil
}

// Get returns a non-deleted file scoped to its owner.
func (s *Service) Get(ctx context.Context, ownerID, fileID string) (*FileRecord, error) {
	rec, err := s.store.FindByOwnerAndID(ctx, ownerID, fileID)
	if err != nil {
		return nil, storagef(err, "look up file %s", fileID)
	}
	if rec == nil {
		return nil, notFound("file", fileID)
	}
	return rec, nil
}

// List returns an owner's non-deleted files at exactly folderPath.
func (s *Service) List(ctx context.Context, ownerID, folderPath string) ([]*FileRecord, error) {
	if _, err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	folder := NormalizeFolderPath(folderPath)
	if err := ValidateFolderPath(folder, false); err != nil {
		return nil, err
	}
	recs, err := s.store.ListByFolder(ctx, ownerID, folder)
	if err != nil {
		return nil, storagef(err, "list folder %q", folder)
	}
	return recs, nil
}

// Delete tombstones a file. The remote object is kept so the record can
// be restored; Purge removes both sides for good.
func (s *Service) Delete(ctx context.Context, ownerID, fileID string) error {
	rec, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteFile(ctx, rec.ID, s.now()); err != nil {
		return storagef(err, "delete file %s", fileID)
	}
	s.publish(events.EventDeleted, rec)
	return nil
}

// Restore clears a file's tombstone. If its name has since been taken
// in the same scope, the restored record is auto-renamed.
func (s *Service) Restore(ctx context.Context, ownerID, fileID string) (*FileRecord, error) {
	rec, err := s.store.FindByID(ctx, fileID)
	if err != nil {
		return nil, storagef(err, "look up file %s", fileID)
	}
	if rec == nil || rec.OwnerID != ownerID {
		return nil, notFound("file", fileID)
	}
	if !rec.Deleted {
		return rec, nil
	}

	name, err := s.ResolveFilename(ctx, ownerID, rec.FolderPath, rec.Filename, rec.ID)
	if err != nil {
		return nil, storagef(err, "resolve filename for restore of %s", fileID)
	}
	if err := s.store.RestoreFile(ctx, rec.ID, name); err != nil {
		return nil, storagef(err, "restore file %s", fileID)
	}

	rec.Filename = name
	rec.Deleted = false
	rec.DeletedAt = nil
	rec.UpdatedAt = s.now()
	s.publish(events.EventRestored, rec)
	return rec, nil
}

// Purge removes a tombstoned file's row and its remote object.
func (s *Service) Purge(ctx context.Context, ownerID, fileID string) error {
	rec, err := s.store.FindByID(ctx, fileID)
	if err != nil {
		return storagef(err, "look up file %s", fileID)
	}
	if rec == nil || rec.OwnerID != ownerID {
		return notFound("file", fileID)
	}
	if !rec.Deleted {
		return validationf("file %s is not deleted", fileID)
	}
	if err := s.store.DeleteFile(ctx, rec.ID); err != nil {
		return storagef(err, "purge file %s", fileID)
	}
	if err := s.remote.Delete(ctx, rec.RemoteObjectID); err != nil {
		logging.WithContext(ctx).Warn("purge left a remote object behind",
			zap.String("file_id", rec.ID),
			zap.String("object_id", rec.RemoteObjectID),
			zap.Error(err))
	}
	return nil
}

// Download streams a file's content from the remote store.
func (s *Service) Download(ctx context.Context, ownerID, fileID string) (io.ReadCloser, *FileRecord, error) {
	rec, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		return nil, nil, err
	}
	body, _, err := s.remote.Download(ctx, rec.RemoteObjectID)
	if err != nil {
		return nil, nil, storagef(err, "download object %s", rec.RemoteObjectID)
	}
	return body, rec, nil
}

func (s *Service) publish(eventType string, rec *FileRecord) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.FileEvent{
		Type:       eventType,
		OwnerID:    rec.OwnerID,
		FileID:     rec.ID,
		Filename:   rec.Filename,
		FolderPath: rec.FolderPath,
		Size:       rec.SizeBytes,
	})
}

// objectDestPath derives the remote destination for a new object.
func objectDestPath(ownerID, folderPath, objectID string) string {
	if folderPath == "" {
		return fmt.Sprintf("%s/%s", ownerID, objectID)
	}
	return fmt.Sprintf("%s%s/%s", ownerID, folderPath, objectID)
}
