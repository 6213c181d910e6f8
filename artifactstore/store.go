package artifactstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dochost/dochost"
)

// ErrTooLarge is returned by GetFile when a file exceeds the configured
// byte cap for inline reads. Callers (the source-browsing route) render a
// placeholder instead of the content (large-file
// policy).
var ErrTooLarge = errors.New("artifactstore: file exceeds byte cap")

// Blob is a single retrieved file.
type Blob struct {
	Path         string
	Mime         string
	Compression  CompressionID
	Content      []byte
	LastModified time.Time
}

// Store is the Artifact Store: a Backend plus a local mirror of sidecar
// indices. Safe for concurrent use.
type Store struct {
	backend       Backend
	cache         *indexCache
	maxInlineSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxInlineSize caps how large a file GetFile will read fully into
// memory; larger files produce ErrTooLarge instead. For a file inside an
// archive the cap is compared with the entry's compressed size.
// The zero value (the default) disables the cap.
func WithMaxInlineSize(n int64) Option {
	return func(s *Store) { s.maxInlineSize = n }
}

// New constructs a Store. cacheDir holds the local index cache; it is
// created if missing.
func New(backend Backend, cacheDir string, opts ...Option) (*Store, error) {
	c, err := newIndexCache(cacheDir)
	if err != nil {
		return nil, err
	}
	s := &Store{backend: backend, cache: c}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func archiveKey(prefix string) string { return prefix + ".zip" }
func sidecarKey(prefix string) string { return prefix + ".zip.index" }

// PutTree ingests localDir under prefix. In archive mode it packs the tree
// into prefix.zip plus a CBOR sidecar index; otherwise every file is
// stored as its own blob under prefix/.
func (s *Store) PutTree(ctx context.Context, prefix, localDir string, archive bool) (files []string, compressionSet []CompressionID, err error) {
	if archive {
		data, idx, names, err := buildArchive(localDir)
		if err != nil {
			return nil, nil, err
		}
		if err := s.backend.Put(ctx, archiveKey(prefix), bytes.NewReader(data)); err != nil {
			return nil, nil, fmt.Errorf("artifactstore: store archive %s: %w", prefix, err)
		}
		sc, err := idx.marshal()
		if err != nil {
			return nil, nil, err
		}
		if err := s.backend.Put(ctx, sidecarKey(prefix), bytes.NewReader(sc)); err != nil {
			return nil, nil, fmt.Errorf("artifactstore: store sidecar %s: %w", prefix, err)
		}
		if err := s.cache.put(sidecarKey(prefix), sc); err != nil {
			return nil, nil, err
		}
		seen := make(map[CompressionID]bool)
		for _, e := range idx {
			if !seen[e.Compression] {
				seen[e.Compression] = true
				compressionSet = append(compressionSet, e.Compression)
			}
		}
		return names, compressionSet, nil
	}

	return s.putTreePerFile(ctx, prefix, localDir)
}

func (s *Store) putTreePerFile(ctx context.Context, prefix, localDir string) (files []string, compressionSet []CompressionID, err error) {
	err = filepath.Walk(localDir, func(p string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := s.backend.Put(ctx, path.Join(prefix, rel), f); err != nil {
			return fmt.Errorf("artifactstore: store %s: %w", rel, err)
		}
		files = append(files, rel)
		return nil
	})
	compressionSet = []CompressionID{Stored}
	return files, compressionSet, err
}

// StoreOne stores a single small object, such as a build log.
func (s *Store) StoreOne(ctx context.Context, logicalPath string, data []byte) error {
	return s.backend.Put(ctx, logicalPath, bytes.NewReader(data))
}

// Exists reports whether prefix names a stored tree, either an archive or
// at least one per-file blob.
func (s *Store) Exists(ctx context.Context, prefix string) (bool, error) {
	ok, err := s.backend.Exists(ctx, archiveKey(prefix))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return s.backend.Exists(ctx, prefix)
}

// GetFile resolves a logical path to its content. logicalPath is assumed to
// be rooted three segments deep (kind/crate/version/...), matching every
// prefix this module ever calls PutTree with; the first three segments are
// tried as the archive prefix when a direct per-file blob isn't found.
func (s *Store) GetFile(ctx context.Context, logicalPath string) (*Blob, error) {
	if ok, err := s.backend.Exists(ctx, logicalPath); err != nil {
		return nil, err
	} else if ok {
		return s.readPerFile(ctx, logicalPath)
	}

	prefix, rel, ok := splitArchivePrefix(logicalPath)
	if !ok {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetFile", Message: logicalPath}
	}
	idx, err := s.loadSidecar(ctx, prefix)
	if err != nil {
		return nil, err
	}
	entry, ok := idx[rel]
	if !ok {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "GetFile", Message: logicalPath}
	}

	size := entry.Range.End - entry.Range.Start + 1
	if s.maxInlineSize > 0 && size > s.maxInlineSize {
		return nil, ErrTooLarge
	}

	rc, err := s.backend.GetRange(ctx, archiveKey(prefix), entry.Range.Start, entry.Range.End)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	content, err := extractEntry(body, entry.Compression)
	if err != nil {
		return nil, err
	}
	mtime, err := s.backend.ModTime(ctx, archiveKey(prefix))
	if err != nil {
		mtime = time.Time{}
	}
	return &Blob{
		Path:         logicalPath,
		Mime:         guessMime(rel),
		Compression:  entry.Compression,
		Content:      content,
		LastModified: mtime,
	}, nil
}

func (s *Store) readPerFile(ctx context.Context, logicalPath string) (*Blob, error) {
	size, err := s.sizeOf(ctx, logicalPath)
	if err == nil && s.maxInlineSize > 0 && size > s.maxInlineSize {
		return nil, ErrTooLarge
	}
	rc, err := s.backend.Get(ctx, logicalPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	mtime, err := s.backend.ModTime(ctx, logicalPath)
	if err != nil {
		mtime = time.Time{}
	}
	return &Blob{
		Path:         logicalPath,
		Mime:         guessMime(logicalPath),
		Compression:  Stored,
		Content:      content,
		LastModified: mtime,
	}, nil
}

func (s *Store) sizeOf(ctx context.Context, key string) (int64, error) {
	lb, ok := s.backend.(*LocalBackend)
	if !ok {
		return 0, errors.New("artifactstore: size unavailable for this backend")
	}
	p, err := lb.path(key)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// loadSidecar fetches and caches prefix's sidecar index.
func (s *Store) loadSidecar(ctx context.Context, prefix string) (SidecarIndex, error) {
	key := sidecarKey(prefix)
	unlock := s.cache.lockFor(key)
	defer unlock()

	if data, ok := s.cache.get(key); ok {
		if idx, err := unmarshalSidecar(data); err == nil {
			return idx, nil
		}
	}
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, &dochost.Error{Kind: dochost.ErrNotFound, Op: "loadSidecar", Message: prefix, Inner: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if err := s.cache.put(key, data); err != nil {
		return nil, err
	}
	return unmarshalSidecar(data)
}

// DeletePrefix recursively removes prefix: both storage shapes' blobs, the
// sidecar index, and the cached copy of that index.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if err := s.backend.DeletePrefix(ctx, archiveKey(prefix)); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, sidecarKey(prefix)); err != nil {
		return err
	}
	if err := s.backend.DeletePrefix(ctx, prefix); err != nil {
		return err
	}
	return s.cache.invalidate(sidecarKey(prefix))
}

func splitArchivePrefix(logicalPath string) (prefix, rel string, ok bool) {
	parts := strings.SplitN(logicalPath, "/", 4)
	if len(parts) < 4 {
		return "", "", false
	}
	return strings.Join(parts[:3], "/"), parts[3], true
}

func guessMime(rel string) string {
	ext := path.Ext(rel)
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}
