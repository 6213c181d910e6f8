package artifactstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dochost/dochost"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(backend, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStoreArchiveModeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	src := writeTree(t, map[string]string{
		"index.html": "<html>doc</html>",
		"foo/bar.js": "console.log(1)",
	})

	names, _, err := s.PutTree(ctx, "rustdoc/mycrate/1.0.0", src, true)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d files, want 2", len(names))
	}

	exists, err := s.Exists(ctx, "rustdoc/mycrate/1.0.0")
	if err != nil || !exists {
		t.Fatalf("Exists: %v %v", exists, err)
	}

	blob, err := s.GetFile(ctx, "rustdoc/mycrate/1.0.0/index.html")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(blob.Content) != "<html>doc</html>" {
		t.Errorf("got %q", blob.Content)
	}
	if blob.Mime != "text/html; charset=utf-8" && blob.Mime != "text/html" {
		t.Errorf("unexpected mime %q", blob.Mime)
	}

	blob2, err := s.GetFile(ctx, "rustdoc/mycrate/1.0.0/foo/bar.js")
	if err != nil {
		t.Fatalf("GetFile nested: %v", err)
	}
	if string(blob2.Content) != "console.log(1)" {
		t.Errorf("got %q", blob2.Content)
	}

	if err := s.DeletePrefix(ctx, "rustdoc/mycrate/1.0.0"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := s.GetFile(ctx, "rustdoc/mycrate/1.0.0/index.html"); err == nil {
		t.Error("expected not-found after DeletePrefix")
	}
}

func TestStorePerFileModeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	src := writeTree(t, map[string]string{
		"crate-1.0.0.crate": "source tarball bytes",
	})

	_, _, err := s.PutTree(ctx, "sources/mycrate/1.0.0", src, false)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}

	blob, err := s.GetFile(ctx, "sources/mycrate/1.0.0/crate-1.0.0.crate")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(blob.Content) != "source tarball bytes" {
		t.Errorf("got %q", blob.Content)
	}
}

func TestStoreGetFileNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetFile(ctx, "rustdoc/missing/1.0.0/index.html")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var derr *dochost.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *dochost.Error, got %T: %v", err, err)
	}
	if derr.Kind != dochost.ErrNotFound {
		t.Errorf("got kind %v, want ErrNotFound", derr.Kind)
	}
}

func TestStoreMaxInlineSize(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(backend, t.TempDir(), WithMaxInlineSize(4))
	if err != nil {
		t.Fatal(err)
	}
	src := writeTree(t, map[string]string{"big.txt": "this is way more than four bytes"})

	if _, _, err := s.PutTree(ctx, "sources/mycrate/1.0.0", src, false); err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	_, err = s.GetFile(ctx, "sources/mycrate/1.0.0/big.txt")
	if err != ErrTooLarge {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}
