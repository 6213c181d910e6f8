package artifactstore

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressionID identifies the codec an archive entry's body was written
// with. Stored in the sidecar index alongside the byte range so the reader
// knows how to decompress without re-inspecting the archive.
type CompressionID uint8

// Defined codecs. Stored, the zero value, covers already-compressed inputs
// (images, pre-minified assets) where deflating again would waste CPU.
const (
	Stored CompressionID = iota
	Deflate
	Zstd
	XZ
)

func (c CompressionID) String() string {
	switch c {
	case Stored:
		return "stored"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	case XZ:
		return "xz"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// decompressor wraps r with the reader appropriate for c.
func decompressor(c CompressionID, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Stored:
		return io.NopCloser(r), nil
	case Deflate:
		return flate.NewReader(r), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("artifactstore: unknown compression id %d", c)
	}
}
