package artifactstore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// buildArchive walks localDir and packs every regular file it finds into a
// deflate-compressed zip, returning the archive bytes, the sidecar index
// recording each entry's compressed byte range, and the list of relative
// paths packed.
//
// Offsets are recovered by re-reading the finished archive rather than by
// counting writes: archive/zip buffers both the local file headers and the
// flate stream internally, so byte positions observed mid-write do not
// correspond to final file offsets.
func buildArchive(localDir string) (archive []byte, idx SidecarIndex, files []string, err error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err = filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ew, err := zw.CreateHeader(&zip.FileHeader{Name: rel, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("artifactstore: create zip entry %s: %w", rel, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(ew, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("artifactstore: write zip entry %s: %w", rel, err)
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, nil, nil, err
	}

	archive = buf.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("artifactstore: reread archive: %w", err)
	}
	idx = make(SidecarIndex, len(zr.File))
	for _, zf := range zr.File {
		off, err := zf.DataOffset()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("artifactstore: offset of %s: %w", zf.Name, err)
		}
		end := off + int64(zf.CompressedSize64) - 1
		if end < off {
			end = off // zero-length body: empty, inclusive range collapses
		}
		idx[zf.Name] = SidecarEntry{Range: ByteRange{Start: off, End: end}, Compression: Deflate}
	}
	return archive, idx, files, nil
}

// extractEntry decompresses a single archive member, given its raw
// (already range-fetched) compressed body and codec.
func extractEntry(body []byte, compression CompressionID) ([]byte, error) {
	dr, err := decompressor(compression, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	return io.ReadAll(dr)
}
