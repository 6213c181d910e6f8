// Package artifactstore implements the Artifact Store: a single logical
// file namespace, `prefix/crate/version/...`, backed by either individual
// blobs or packed zip archives, with range-read access for the serving
// path.
//
// Archive mode packs a directory into a single `prefix.zip` object plus a
// CBOR-encoded sidecar index mapping each relative path to the byte range
// its compressed entry body occupies in the archive, so a single file can
// be served with one range request instead of decompressing the whole
// tree. Per-file mode stores each file as its own blob, used for source
// trees that benefit from independent caching of individual files.
package artifactstore
