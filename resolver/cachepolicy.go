package resolver

import (
	"fmt"
	"net/http"
	"time"
)

// CachePolicy is the closed set of cache directives a response can carry.
// Modeled as a sum type with a small capability set (apply to a
// ResponseWriter) rather than open-ended header plumbing at each handler.
type CachePolicy int

const (
	// NoCaching is for errors and authenticated pages.
	NoCaching CachePolicy = iota
	// NoStoreMustRevalidate is for status/API JSON endpoints.
	NoStoreMustRevalidate
	// ForeverInCdn is for redirects encoding immutable latest->exact
	// mappings: the CDN can cache, browsers should revalidate.
	ForeverInCdn
	// ForeverInCdnAndStaleInBrowser is for successfully served immutable
	// artifacts.
	ForeverInCdnAndStaleInBrowser
	// ForeverInCdnAndBrowser is for hash-fingerprinted static assets.
	ForeverInCdnAndBrowser
)

const immutableMaxAge = 365 * 24 * time.Hour

// Apply sets the Cache-Control (and, when surrogateKey is non-empty,
// Surrogate-Key) headers for p. A single CDN purge keyed by surrogateKey
// then flushes every URL carrying it.
func (p CachePolicy) Apply(h http.Header, surrogateKey string) {
	switch p {
	case NoCaching:
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	case NoStoreMustRevalidate:
		h.Set("Cache-Control", "no-store, must-revalidate")
	case ForeverInCdn:
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=0, s-maxage=%d", int(immutableMaxAge.Seconds())))
	case ForeverInCdnAndStaleInBrowser:
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=60, s-maxage=%d, stale-while-revalidate=86400", int(immutableMaxAge.Seconds())))
	case ForeverInCdnAndBrowser:
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(immutableMaxAge.Seconds())))
	}
	if surrogateKey != "" {
		h.Set("Surrogate-Key", surrogateKey)
	}
}
