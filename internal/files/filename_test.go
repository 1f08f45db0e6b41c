package files

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report.pdf", "report.pdf", false},
		{"  spaced.txt  ", "spaced.txt", false},
		{"a/b/c.txt", "a_b_c.txt", false},
		{`back\slash.txt`, "back_slash.txt", false},
		{"ctrl\x01char.txt", "ctrlchar.txt", false},
		{"no extension", "no extension", false},
		{".hidden", ".hidden", false},
		{"", "", true},
		{"   ", "", true},
		{".", "", true},
		{"..", "", true},
		{"con", "", true},
		{"CON.txt", "", true},
		{"lpt3.log", "", true},
		{strings.Repeat("x", maxFilenameLen+1), "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeFilename(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SanitizeFilename(%q): expected error, got %q", tt.in, got)
			} else if !IsValidation(err) {
				t.Errorf("SanitizeFilename(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeFilename(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		in   string
		base string
		ext  string
	}{
		{"report.pdf", "report", "pdf"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"noext", "noext", ""},
		{".hidden", ".hidden", ""},
		{"trailing.", "trailing.", ""},
	}
	for _, tt := range tests {
		base, ext := splitExt(tt.in)
		if base != tt.base || ext != tt.ext {
			t.Errorf("splitExt(%q) = (%q, %q), want (%q, %q)", tt.in, base, ext, tt.base, tt.ext)
		}
	}
}

func TestResolveFilenameFree(t *testing.T) {
	svc, _, _ := newTestService()

	got, err := svc.ResolveFilename(context.Background(), "owner-1", "", "report.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "report.pdf" {
		t.Errorf("expected unchanged name, got %q", got)
	}
}

func TestResolveFilenameCounterSuffix(t *testing.T) {
	svc, _, _ := newTestService()

	seedFile(t, svc, "owner-1", "", "report.pdf")

	got, err := svc.ResolveFilename(context.Background(), "owner-1", "", "report.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "report-1.pdf" {
		t.Errorf("expected report-1.pdf, got %q", got)
	}

	seedFile(t, svc, "owner-1", "", "report-1.pdf")

	got, err = svc.ResolveFilename(context.Background(), "owner-1", "", "report.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "report-2.pdf" {
		t.Errorf("expected report-2.pdf, got %q", got)
	}
}

func TestResolveFilenameScopedPerFolder(t *testing.T) {
	svc, _, _ := newTestService()

	seedFile(t, svc, "owner-1", "/a", "report.pdf")

	// Same name in a different folder is free.
	got, err := svc.ResolveFilename(context.Background(), "owner-1", "/b", "report.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "report.pdf" {
		t.Errorf("expected report.pdf in sibling folder, got %q", got)
	}

	// Same name for a different owner is free too.
	got, err = svc.ResolveFilename(context.Background(), "owner-2", "/a", "report.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "report.pdf" {
		t.Errorf("expected report.pdf for other owner, got %q", got)
	}
}

func TestResolveFilenameExcludesSelf(t *testing.T) {
	svc, _, _ := newTestService()

	rec := seedFile(t, svc, "owner-1", "", "report.pdf")

	got, err := svc.ResolveFilename(context.Background(), "owner-1", "", "report.pdf", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "report.pdf" {
		t.Errorf("record should not collide with itself, got %q", got)
	}
}

func TestResolveFilenameRandomFallback(t *testing.T) {
	svc, store, _ := newTestService()

	// Occupy the base name and every counter candidate so the resolver
	// must fall through to the random suffix.
	names := []string{"f.txt"}
	for i := 1; i <= maxNameCandidates; i++ {
		names = append(names, "f-"+strconv.Itoa(i)+".txt")
	}
	for i, name := range names {
		id := "pre-" + strconv.Itoa(i)
		store.files[id] = &FileRecord{
			ID:       id,
			OwnerID:  "owner-1",
			Filename: name,
		}
	}

	got, err := svc.ResolveFilename(context.Background(), "owner-1", "", "f.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "f-") || !strings.HasSuffix(got, ".txt") {
		t.Fatalf("fallback name %q does not match f-<suffix>.txt", got)
	}
	if len(got) != len("f-")+8+len(".txt") {
		t.Errorf("fallback name %q should carry an 8-character suffix", got)
	}
}
