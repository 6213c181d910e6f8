package postgres

import (
	"io/fs"
	"path"
	"strings"
	"testing"
)

// TestLoadQueryCoversEmbeddedFiles walks the embedded queries/ directory and
// confirms loadQuery can load every .sql file by its name sans extension,
// so a renamed or deleted query file fails fast here rather than panicking
// at first use.
func TestLoadQueryCoversEmbeddedFiles(t *testing.T) {
	var names []string
	if err := fs.WalkDir(queries, "queries", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(d.Name()) != ".sql" {
			return nil
		}
		names = append(names, strings.TrimSuffix(path.Base(p), ".sql"))
		return nil
	}); err != nil {
		t.Fatalf("walk embedded queries: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded query files found")
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			got := loadQuery(name)
			if strings.TrimSpace(got) == "" {
				t.Fatalf("loadQuery(%q) returned empty statement", name)
			}
		})
	}
}

func TestLoadQueryPanicsOnUnknownName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("loadQuery should panic on an unknown query name")
		}
	}()
	loadQuery("does-not-exist")
}
