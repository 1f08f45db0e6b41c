package files

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/events"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/metrics"
)

// UploadRequest carries everything needed to store a new file.
// DesiredFilename, when set, overrides Filename as the stored name;
// Filename must still be present.
type UploadRequest struct {
	OwnerID         string
	FolderPath      string
	Filename        string
	DesiredFilename string
	ContentType     string
	Data            []byte
}

// Upload stores a new file: reserve a unique name in the metadata
// store, upload the bytes remotely, then finalize the row with the real
// object id and URLs. Partial failures are compensated so that no
// finalized record ever points at a missing remote object and no remote
// object outlives its tracking row.
//
// The row is reserved before the remote call on purpose: a failed
// remote call leaves only a transient metadata row, which is cleaned up
// here, never an untracked remote object.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*FileRecord, error) {
	log := logging.WithContext(ctx)

	if _, err := s.requireOwner(ctx, req.OwnerID); err != nil {
		return nil, err
	}
	if req.Filename == "" {
		return nil, validationf("filename is required")
	}
	if len(req.Data) == 0 {
		return nil, validationf("file content is required")
	}
	if req.ContentType == "" {
		return nil, validationf("content type is required")
	}

	folder := NormalizeFolderPath(req.FolderPath)
	if err := ValidateFolderPath(folder, false); err != nil {
		return nil, err
	}

	desired := req.Filename
	if req.DesiredFilename != "" {
		desired = req.DesiredFilename
	}
	name, err := SanitizeFilename(desired)
	if err != nil {
		return nil, err
	}

	rec, err := s.reserve(ctx, req, folder, name)
	if err != nil {
		metrics.RecordUpload(0, false)
		return nil, err
	}

	destPath := objectDestPath(req.OwnerID, folder, uuid.NewString())
	result, err := s.remote.Upload(ctx, bytes.NewReader(req.Data), int64(len(req.Data)), req.ContentType, destPath)
	if err == nil && (result == nil || result.ObjectID == "") {
		err = storagef(nil, "remote store returned an empty upload result")
	}
	if err != nil {
		s.compensateReservation(ctx, rec, "upload")
		metrics.RecordUpload(0, false)
		return nil, storagef(err, "upload %q", rec.Filename)
	}

	rec.RemoteObjectID = result.ObjectID
	rec.RemoteURL = result.URL
	rec.RemoteSecureURL = result.SecureURL
	rec.UpdatedAt = s.now()
	if err := s.store.UpdateFile(ctx, rec); err != nil {
		s.compensateReservation(ctx, rec, "finalize")
		if delErr := s.remote.Delete(ctx, result.ObjectID); delErr != nil {
			metrics.RecordCompensation("finalize_remote", false)
			log.Error("failed to delete remote object after finalize failure",
				zap.String("object_id", result.ObjectID),
				zap.Error(delErr))
		} else {
			metrics.RecordCompensation("finalize_remote", true)
		}
		metrics.RecordUpload(0, false)
		return nil, storagef(err, "finalize %q", rec.Filename)
	}

	metrics.RecordUpload(rec.SizeBytes, true)
	log.Info("file uploaded",
		zap.String("file_id", rec.ID),
		zap.String("owner_id", rec.OwnerID),
		zap.String("filename", rec.Filename),
		zap.String("folder", rec.FolderPath),
		zap.Int64("size", rec.SizeBytes))
	s.publish(events.EventCreated, rec)
	return rec, nil
}

// reserve inserts the metadata row ahead of the remote call, retrying
// with a freshly resolved name whenever the store reports a conflict.
// Exhausting the retries is a storage condition, not a validation one:
// the input was fine, contention prevented completion.
func (s *Service) reserve(ctx context.Context, req UploadRequest, folder, name string) (*FileRecord, error) {
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		resolved, err := s.ResolveFilename(ctx, req.OwnerID, folder, name, "")
		if err != nil {
			return nil, storagef(err, "resolve filename %q", name)
		}

		now := s.now()
		rec := &FileRecord{
			ID:          uuid.NewString(),
			OwnerID:     req.OwnerID,
			Filename:    resolved,
			ContentType: req.ContentType,
			SizeBytes:   int64(len(req.Data)),
			FolderPath:  folder,
			// Placeholders satisfy not-null constraints until finalize.
			RemoteObjectID: "pending-" + uuid.NewString(),
			RemoteURL:      "pending://upload",
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		outcome, err := s.store.InsertFile(ctx, rec)
		if err != nil {
			return nil, storagef(err, "reserve filename %q", resolved)
		}
		if outcome == InsertConflict {
			metrics.RecordFilenameRetry()
			logging.WithContext(ctx).Debug("filename reservation lost race, retrying",
				zap.String("filename", resolved),
				zap.Int("attempt", attempt))
			continue
		}
		return rec, nil
	}
	return nil, storagef(nil, "could not reserve a unique filename for %q after %d attempts", name, maxReserveAttempts)
}

// compensateReservation deletes a reserved row after a failure. Its own
// failure is recorded and logged but never replaces the original error.
func (s *Service) compensateReservation(ctx context.Context, rec *FileRecord, stage string) {
	if err := s.store.DeleteFile(ctx, rec.ID); err != nil {
		metrics.RecordCompensation(stage, false)
		logging.WithContext(ctx).Error("failed to revert file reservation",
			zap.String("file_id", rec.ID),
			zap.String("stage", stage),
			zap.Error(err))
		return
	}
	metrics.RecordCompensation(stage, true)
}
