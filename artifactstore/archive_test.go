package artifactstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestBuildArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"index.html":        "<html>hello</html>",
		"static/style.css":  "body { margin: 0; }",
		"empty.txt":         "",
	}
	for name, body := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	archive, idx, got, err := buildArchive(dir)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}

	var gotSorted, wantSorted []string
	for name := range files {
		wantSorted = append(wantSorted, name)
	}
	gotSorted = append(gotSorted, got...)
	sort.Strings(gotSorted)
	sort.Strings(wantSorted)
	if !equalStrings(gotSorted, wantSorted) {
		t.Fatalf("got files %v, want %v", gotSorted, wantSorted)
	}

	for name, want := range files {
		entry, ok := idx[name]
		if !ok {
			t.Fatalf("sidecar index missing entry for %q", name)
		}
		if entry.Range.End < entry.Range.Start && want != "" {
			t.Fatalf("%q: invalid range %+v for non-empty file", name, entry.Range)
		}
		var body []byte
		if entry.Range.End >= entry.Range.Start {
			body = archive[entry.Range.Start : entry.Range.End+1]
		}
		decoded, err := extractEntry(body, entry.Compression)
		if err != nil {
			t.Fatalf("%q: extractEntry: %v", name, err)
		}
		if string(decoded) != want {
			t.Errorf("%q: got %q, want %q", name, decoded, want)
		}
	}
}

func TestSidecarIndexMarshalRoundTrip(t *testing.T) {
	idx := SidecarIndex{
		"a.html": {Range: ByteRange{Start: 0, End: 9}, Compression: Deflate},
		"b.css":  {Range: ByteRange{Start: 10, End: 10}, Compression: Stored},
	}
	b, err := idx.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := unmarshalSidecar(b)
	if err != nil {
		t.Fatalf("unmarshalSidecar: %v", err)
	}
	if len(got) != len(idx) {
		t.Fatalf("got %d entries, want %d", len(got), len(idx))
	}
	for k, v := range idx {
		gv, ok := got[k]
		if !ok || gv != v {
			t.Errorf("entry %q: got %+v, want %+v", k, gv, v)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
