package files

import (
	"context"
	"io"
	"testing"
)

func TestGetWrongOwnerReadsAsNotFound(t *testing.T) {
	svc, _, _ := newTestService()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")

	if _, err := svc.Get(context.Background(), "owner-2", rec.ID); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteAndRestore(t *testing.T) {
	svc, store, rem := newTestService()
	ctx := context.Background()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")

	if err := svc.Delete(ctx, "owner-1", rec.ID); err != nil {
		t.Fatal(err)
	}
	// Tombstoned files are invisible to owner-scoped reads.
	if _, err := svc.Get(ctx, "owner-1", rec.ID); !IsNotFound(err) {
		t.Fatalf("tombstoned file still visible: %v", err)
	}
	// The remote object survives the soft delete.
	if _, ok := rem.objects[rec.RemoteObjectID]; !ok {
		t.Error("remote object removed by soft delete")
	}

	restored, err := svc.Restore(ctx, "owner-1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Deleted {
		t.Error("record still tombstoned after restore")
	}
	if restored.Filename != "a.txt" {
		t.Errorf("filename = %q", restored.Filename)
	}
	if stored := store.get(rec.ID); stored.Deleted {
		t.Error("persisted row still tombstoned")
	}
}

func TestRestoreRenamesWhenNameTaken(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")
	if err := svc.Delete(ctx, "owner-1", rec.ID); err != nil {
		t.Fatal(err)
	}
	// The tombstone released the name; a new file claims it.
	seedFile(t, svc, "owner-1", "", "a.txt")

	restored, err := svc.Restore(ctx, "owner-1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Filename != "a-1.txt" {
		t.Errorf("restored as %q, want a-1.txt", restored.Filename)
	}
}

func TestRestoreNotDeletedIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")

	restored, err := svc.Restore(context.Background(), "owner-1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID != rec.ID || restored.Filename != "a.txt" {
		t.Errorf("unexpected record: %+v", restored)
	}
}

func TestPurge(t *testing.T) {
	svc, store, rem := newTestService()
	ctx := context.Background()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")

	// Purging a live file is rejected.
	if err := svc.Purge(ctx, "owner-1", rec.ID); !IsValidation(err) {
		t.Fatalf("expected validation error for live file, got %v", err)
	}

	if err := svc.Delete(ctx, "owner-1", rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Purge(ctx, "owner-1", rec.ID); err != nil {
		t.Fatal(err)
	}

	if store.get(rec.ID) != nil {
		t.Error("row survived purge")
	}
	if _, ok := rem.objects[rec.RemoteObjectID]; ok {
		t.Error("remote object survived purge")
	}
}

func TestDownload(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec := seedFile(t, svc, "owner-1", "", "a.txt")

	body, got, err := svc.Download(ctx, "owner-1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	if got.ID != rec.ID {
		t.Errorf("record id = %q", got.ID)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content of a.txt" {
		t.Errorf("content = %q", data)
	}
}

func TestUploadWithSlashFolderLandsInRoot(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec := seedFile(t, svc, "owner-1", "/", "a.txt")
	if rec.FolderPath != "" {
		t.Fatalf("folder path = %q, want root", rec.FolderPath)
	}

	root, err := svc.List(ctx, "owner-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(root) != 1 || root[0].ID != rec.ID {
		t.Errorf("file uploaded to \"/\" not visible at root: %+v", root)
	}
}

func TestListScopedToFolder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	seedFile(t, svc, "owner-1", "/a", "1.txt")
	seedFile(t, svc, "owner-1", "/a/b", "2.txt")
	seedFile(t, svc, "owner-1", "", "3.txt")

	// Listing is exact-path, not subtree.
	recs, err := svc.List(ctx, "owner-1", "/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Filename != "1.txt" {
		t.Errorf("list /a = %+v", recs)
	}

	root, err := svc.List(ctx, "owner-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(root) != 1 || root[0].Filename != "3.txt" {
		t.Errorf("list root = %+v", root)
	}
}
