package artifactstore

import (
	"github.com/fxamacker/cbor/v2"
)

// ByteRange is an absolute, inclusive-end byte range into an archive at
// which a compressed entry body lives. Header bytes are excluded.
type ByteRange struct {
	Start int64 `cbor:"start"`
	End   int64 `cbor:"end"`
}

// SidecarEntry is one archive member's location and codec.
type SidecarEntry struct {
	Range       ByteRange     `cbor:"range"`
	Compression CompressionID `cbor:"compression_id"`
}

// SidecarIndex maps an archive's relative paths to their entry locations.
// Marshaled as CBOR and stored alongside the archive as `prefix.zip.index`.
type SidecarIndex map[string]SidecarEntry

func (idx SidecarIndex) marshal() ([]byte, error) {
	return cbor.Marshal(idx)
}

func unmarshalSidecar(b []byte) (SidecarIndex, error) {
	var idx SidecarIndex
	if err := cbor.Unmarshal(b, &idx); err != nil {
		return nil, err
	}
	return idx, nil
}
