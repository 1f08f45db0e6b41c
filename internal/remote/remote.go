// Package remote defines the contract for the remote object store that
// holds file content and serves delivery URLs. Metadata is handled
// separately by the postgres store.
package remote

import (
	"context"
	"io"
	"strings"
)

// ResourceType classifies a stored object for URL building and delivery.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

// UploadResult is the remote store's answer to a successful upload.
type UploadResult struct {
	ObjectID  string
	URL       string
	SecureURL string
}

// MoveResult is the remote store's answer to a successful relocation.
// URL fields may be empty for object classes the delivery layer does not
// address directly; callers regenerate them via GetURL.
type MoveResult struct {
	ObjectID  string
	URL       string
	SecureURL string
}

// ResourceDetails describes a stored object.
type ResourceDetails struct {
	Format       string
	ResourceType ResourceType
}

// ObjectStore is the interface to the remote object store.
//
// Implementations own their resource-type cache; callers pass a hint
// where they already know the classification to avoid a redundant
// lookup.
type ObjectStore interface {
	// Upload stores body under destPath and returns the new object id
	// and delivery URLs.
	Upload(ctx context.Context, body io.Reader, size int64, contentType, destPath string) (*UploadResult, error)

	// Move relocates an object to destPath. hint may be empty.
	Move(ctx context.Context, objectID, destPath string, hint ResourceType) (*MoveResult, error)

	// GetURL builds a delivery URL for an existing object. hint may be empty.
	GetURL(ctx context.Context, objectID string, secure bool, hint ResourceType) (string, error)

	// GetResourceDetails returns format and classification for an object.
	GetResourceDetails(ctx context.Context, objectID string) (*ResourceDetails, error)

	// Delete removes an object.
	Delete(ctx context.Context, objectID string) error

	// Download streams an object's content and returns its size.
	Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error)
}

// TypeFromContentType classifies a MIME content type. Audio rides the
// video pipeline, everything unrecognized is raw.
func TypeFromContentType(contentType string) ResourceType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return ResourceImage
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return ResourceVideo
	default:
		return ResourceRaw
	}
}
