package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(filepath.Join(root, "uploads"), filepath.Join(root, "processed"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSaveUploadNaming(t *testing.T) {
	m := newTestManager(t)

	name, size, err := m.SaveUpload(strings.NewReader("dummy pdf bytes"), "請求書 2025.pdf")
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if size != int64(len("dummy pdf bytes")) {
		t.Fatalf("size = %d, want %d", size, len("dummy pdf bytes"))
	}
	if !strings.HasSuffix(name, ".pdf") {
		t.Fatalf("stored name does not end with .pdf: %s", name)
	}
	if strings.ContainsAny(name, "/\\ ") {
		t.Fatalf("stored name contains unsafe characters: %s", name)
	}

	path, err := m.ResolveUpload(name)
	if err != nil {
		t.Fatalf("ResolveUpload(%s): %v", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "dummy pdf bytes" {
		t.Fatalf("stored content mismatch: %q", data)
	}
}

func TestSaveUploadUniqueNames(t *testing.T) {
	m := newTestManager(t)

	first, _, err := m.SaveUpload(strings.NewReader("a"), "doc.pdf")
	if err != nil {
		t.Fatalf("first SaveUpload: %v", err)
	}
	second, _, err := m.SaveUpload(strings.NewReader("b"), "doc.pdf")
	if err != nil {
		t.Fatalf("second SaveUpload: %v", err)
	}
	if first == second {
		t.Fatalf("stored names collide: %s", first)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"", "../secret.pdf", "a/b.pdf", "..", "dir/../x.pdf"} {
		if _, err := m.ResolveUpload(name); err == nil {
			t.Fatalf("ResolveUpload(%q): expected error", name)
		}
	}
}

func TestResolveMissingFile(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ResolveProcessed("missing.pdf")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	m := newTestManager(t)

	old := filepath.Join(m.UploadDir(), "old.pdf")
	fresh := filepath.Join(m.UploadDir(), "fresh.pdf")
	keep := filepath.Join(m.UploadDir(), ".gitkeep")
	for _, path := range []string{old, fresh, keep} {
		if err := os.WriteFile(path, []byte("x"), 0o640); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(keep, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := m.CleanupOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("old file should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh file should survive")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal(".gitkeep should survive")
	}
}

func TestCleanupSkipsLeasedFiles(t *testing.T) {
	m := newTestManager(t)

	path := filepath.Join(m.UploadDir(), "inflight.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m.Acquire("inflight.pdf")
	removed, err := m.CleanupOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 while leased", removed)
	}

	m.Release("inflight.pdf")
	removed, err = m.CleanupOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 after release", removed)
	}
}

func TestLeaseCounting(t *testing.T) {
	m := newTestManager(t)

	m.Acquire("a.pdf")
	m.Acquire("a.pdf")
	m.Release("a.pdf")
	if !m.leased("a.pdf") {
		t.Fatal("file should stay leased while one lease remains")
	}
	m.Release("a.pdf")
	if m.leased("a.pdf") {
		t.Fatal("file should be unleased after all releases")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report"},
		{"my file (1).pdf", "my_file__1_"},
		{"請求書.pdf", "document"},
		{"....pdf", "document"},
		{"UPPER-case_09.pdf", "UPPER-case_09"},
	}
	for _, tc := range cases {
		if got := sanitizeBase(tc.in); got != tc.want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
