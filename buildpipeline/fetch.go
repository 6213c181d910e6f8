package buildpipeline

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dochost/dochost"
)

// RegistrySourceFetcher implements [controller.SourceFetcher] against a
// crates.io-shaped registry API: GET {BaseURL}/api/v1/crates/{name}/{version}/download
// returns a gzipped tar of the crate's published source. The registry is an
// external collaborator whose interface this exists only to consume, and no
// third-party HTTP download+extract client fits that shape, so this
// component is stdlib (net/http, archive/tar, compress/gzip).
type RegistrySourceFetcher struct {
	Client  *http.Client
	BaseURL string // default registry, used when the queue entry's Registry field is empty
}

// Fetch downloads and extracts name@version's published source into
// destDir.
func (f *RegistrySourceFetcher) Fetch(ctx context.Context, registry, name, version, destDir string) error {
	base := registry
	if base == "" {
		base = f.BaseURL
	}
	norm := dochost.NormalizeName(name)
	url := strings.TrimRight(base, "/") + fmt.Sprintf("/api/v1/crates/%s/%s/download", norm, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("buildpipeline: fetch %s@%s: %w", norm, version, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("buildpipeline: fetch %s@%s: status %s", norm, version, resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("buildpipeline: ungzip %s@%s: %w", norm, version, err)
	}
	defer gz.Close()
	return extractTar(gz, destDir)
}

// extractTar writes r's entries into destDir, stripping the first path
// component (the registry convention of wrapping a crate in a
// "{name}-{version}/" directory).
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rel := stripFirstComponent(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(destDir, rel)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
			return fmt.Errorf("buildpipeline: tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func stripFirstComponent(name string) string {
	name = filepath.ToSlash(name)
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}
