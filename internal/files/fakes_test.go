package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stowage/stowage/internal/remote"
)

// memStore is an in-memory MetadataStore with the same uniqueness
// semantics as the Postgres partial index.
type memStore struct {
	mu     sync.Mutex
	owners map[string]*Owner
	files  map[string]*FileRecord

	// forcedConflicts makes the next N inserts report InsertConflict
	// regardless of actual uniqueness, to simulate lost races.
	forcedConflicts int

	insertErr error
	updateErr error
	deleteErr error

	deleteCalls []string
}

func newMemStore() *memStore {
	return &memStore{
		owners: map[string]*Owner{
			"owner-1": {ID: "owner-1", Username: "alice", Active: true},
			"owner-2": {ID: "owner-2", Username: "bob", Active: true},
			"owner-x": {ID: "owner-x", Username: "carol", Active: false},
		},
		files: make(map[string]*FileRecord),
	}
}

func (m *memStore) GetOwner(ctx context.Context, ownerID string) (*Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[ownerID], nil
}

func (m *memStore) InsertFile(ctx context.Context, rec *FileRecord) (InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return InsertOK, m.insertErr
	}
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		return InsertConflict, nil
	}
	for _, f := range m.files {
		if !f.Deleted && f.OwnerID == rec.OwnerID && f.FolderPath == rec.FolderPath && f.Filename == rec.Filename {
			return InsertConflict, nil
		}
	}
	cp := *rec
	m.files[rec.ID] = &cp
	return InsertOK, nil
}

func (m *memStore) UpdateFile(ctx context.Context, rec *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.files[rec.ID]; !ok {
		return errors.New("no such row")
	}
	cp := *rec
	m.files[rec.ID] = &cp
	return nil
}

func (m *memStore) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, id)
	return nil
}

func (m *memStore) SoftDeleteFile(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return errors.New("no such row")
	}
	f.Deleted = true
	f.DeletedAt = &at
	return nil
}

func (m *memStore) RestoreFile(ctx context.Context, id, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return errors.New("no such row")
	}
	f.Deleted = false
	f.DeletedAt = nil
	f.Filename = filename
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.Deleted || f.OwnerID != ownerID {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) FindByName(ctx context.Context, ownerID, folderPath, filename, excludeID string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Deleted || f.OwnerID != ownerID || f.FolderPath != folderPath || f.Filename != filename {
			continue
		}
		if excludeID != "" && f.ID == excludeID {
			continue
		}
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) ListByFolder(ctx context.Context, ownerID, folderPath string) ([]*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FileRecord
	for _, f := range m.files {
		if f.Deleted || f.OwnerID != ownerID || f.FolderPath != folderPath {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ListFolderPaths(ctx context.Context, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, f := range m.files {
		if f.Deleted || f.OwnerID != ownerID || f.FolderPath == "" {
			continue
		}
		if _, dup := seen[f.FolderPath]; dup {
			continue
		}
		seen[f.FolderPath] = struct{}{}
		out = append(out, f.FolderPath)
	}
	return out, nil
}

func (m *memStore) CountInSubtree(ctx context.Context, ownerID, folderPath string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.files {
		if f.Deleted || f.OwnerID != ownerID {
			continue
		}
		if isSubtreePath(folderPath, f.FolderPath) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FolderStats(ctx context.Context, ownerID, folderPath string) (*FolderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &FolderStats{
		ByContentType: make(map[string]int64),
		ChildFolders:  make(map[string]int64),
	}
	for _, f := range m.files {
		if f.Deleted || f.OwnerID != ownerID || !isSubtreePath(folderPath, f.FolderPath) {
			continue
		}
		stats.FileCount++
		stats.TotalSize += f.SizeBytes
		stats.ByContentType[f.ContentType]++
		if stats.EarliestCreatedAt.IsZero() || f.CreatedAt.Before(stats.EarliestCreatedAt) {
			stats.EarliestCreatedAt = f.CreatedAt
		}
		if child, ok := DirectChild(folderPath, f.FolderPath); ok {
			stats.ChildFolders[child]++
		}
	}
	return stats, nil
}

func (m *memStore) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.files {
		if !f.Deleted {
			n++
		}
	}
	return n
}

func (m *memStore) get(id string) *FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil
	}
	cp := *f
	return &cp
}

// fakeRemote is an in-memory remote.ObjectStore with failure injection.
type fakeRemote struct {
	mu      sync.Mutex
	objects map[string][]byte

	uploadErr error
	moveErr   error
	getURLErr error

	// omitMoveURLs makes Move return a result without delivery URLs,
	// like the raw-object path of the real adapter.
	omitMoveURLs bool

	deleteCalls []string
	getURLCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: make(map[string][]byte)}
}

func (f *fakeRemote) urlFor(objectID string, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://cdn.test/raw/upload/" + objectID
}

func (f *fakeRemote) Upload(ctx context.Context, body io.Reader, size int64, contentType, destPath string) (*remote.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(destPath, "/")
	f.objects[key] = data
	return &remote.UploadResult{
		ObjectID:  key,
		URL:       f.urlFor(key, false),
		SecureURL: f.urlFor(key, true),
	}, nil
}

func (f *fakeRemote) Move(ctx context.Context, objectID, destPath string, hint remote.ResourceType) (*remote.MoveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	data, ok := f.objects[objectID]
	if !ok {
		return nil, errors.New("no such object: " + objectID)
	}
	newKey := strings.TrimPrefix(destPath, "/")
	f.objects[newKey] = data
	delete(f.objects, objectID)
	result := &remote.MoveResult{ObjectID: newKey}
	if !f.omitMoveURLs {
		result.URL = f.urlFor(newKey, false)
		result.SecureURL = f.urlFor(newKey, true)
	}
	return result, nil
}

func (f *fakeRemote) GetURL(ctx context.Context, objectID string, secure bool, hint remote.ResourceType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getURLCalls++
	if f.getURLErr != nil {
		return "", f.getURLErr
	}
	return f.urlFor(objectID, secure), nil
}

func (f *fakeRemote) GetResourceDetails(ctx context.Context, objectID string) (*remote.ResourceDetails, error) {
	return &remote.ResourceDetails{Format: "bin", ResourceType: remote.ResourceRaw}, nil
}

func (f *fakeRemote) Delete(ctx context.Context, objectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, objectID)
	delete(f.objects, objectID)
	return nil
}

func (f *fakeRemote) Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectID]
	if !ok {
		return nil, 0, errors.New("no such object: " + objectID)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func newTestService() (*Service, *memStore, *fakeRemote) {
	store := newMemStore()
	rem := newFakeRemote()
	return NewService(store, rem, nil), store, rem
}

// seedFile uploads one file through the service and returns its record.
func seedFile(t *testing.T, svc *Service, owner, folder, name string) *FileRecord {
	t.Helper()
	rec, err := svc.Upload(context.Background(), UploadRequest{
		OwnerID:     owner,
		FolderPath:  folder,
		Filename:    name,
		ContentType: "text/plain",
		Data:        []byte("content of " + name),
	})
	if err != nil {
		t.Fatalf("seed upload %s: %v", name, err)
	}
	return rec
}
