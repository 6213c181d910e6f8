package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dochost/dochost"
	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/pkg/jsonerr"
)

// ArtifactReader is the subset of artifactstore.Store the router reads
// from.
type ArtifactReader interface {
	GetFile(ctx context.Context, logicalPath string) (*artifactstore.Blob, error)
	Exists(ctx context.Context, prefix string) (bool, error)
}

var _ ArtifactReader = (*artifactstore.Store)(nil)

// Renderer produces response bodies for routes whose output is a rendered
// page rather than a raw artifact. Template rendering, markdown rendering,
// and syntax highlighting are out of scope for this module; Renderer is
// the seam an embedding application implements to supply them.
type Renderer interface {
	Home(w http.ResponseWriter, r *http.Request) error
	ReleasesFeed(w http.ResponseWriter, r *http.Request) error
	CrateDetails(w http.ResponseWriter, r *http.Request, m *MatchResult) error
	BuildsList(w http.ResponseWriter, r *http.Request, m *MatchResult, builds []*dochost.Build, asJSON bool) error
	BuildDetail(w http.ResponseWriter, r *http.Request, m *MatchResult, build *dochost.Build) error
	Features(w http.ResponseWriter, r *http.Request, m *MatchResult) error
	Badge(w http.ResponseWriter, r *http.Request, status dochost.RustdocStatus) error
	Sitemap(w http.ResponseWriter, r *http.Request, letter string) error
	SourceTooLarge(w http.ResponseWriter, r *http.Request, path string) error
}

// Router implements the public HTTP surface: routing, name/version
// resolution, canonicalization redirects, target selection, and cache
// policy. It embeds *http.ServeMux following the libindex.HTTP pattern, so
// it is itself an http.Handler.
type Router struct {
	*http.ServeMux

	Meta      MetadataStore
	Artifacts ArtifactReader
	Render    Renderer

	// StaticPrefix is where /-/static/{path...} and the robots/favicon/
	// opensearch redirects point, e.g. "https://dochost-static.example.com".
	StaticPrefix string
}

// NewRouter wires every served route onto a fresh ServeMux.
func NewRouter(meta MetadataStore, artifacts ArtifactReader, render Renderer, staticPrefix string) *Router {
	h := &Router{Meta: meta, Artifacts: artifacts, Render: render, StaticPrefix: staticPrefix}
	m := http.NewServeMux()

	m.HandleFunc("GET /{$}", h.home)
	m.HandleFunc("GET /releases/", h.releasesFeed)

	m.HandleFunc("GET /crate/{name}", h.crateRedirect)
	m.HandleFunc("GET /crate/{name}/{version}", h.crateDetails)
	m.HandleFunc("GET /crate/{name}/{version}/builds", h.buildsList)
	m.HandleFunc("GET /crate/{name}/{version}/builds.json", h.buildsList)
	m.HandleFunc("GET /crate/{name}/{version}/builds/{build}", h.buildDetail)
	m.HandleFunc("GET /crate/{name}/{version}/features", h.features)
	m.HandleFunc("GET /crate/{name}/{version}/source/{path...}", h.source)
	m.HandleFunc("GET /crate/{name}/{version}/status.json", h.status)

	m.HandleFunc("GET /{name}/badge.svg", h.badge)
	m.HandleFunc("GET /{name}", h.rustdocRoot)
	m.HandleFunc("GET /{name}/{rest...}", h.rustdoc)

	m.HandleFunc("GET /sitemap.xml", h.sitemap)
	m.HandleFunc("GET /-/sitemap/{letter}/sitemap.xml", h.sitemapLetter)
	m.HandleFunc("GET /robots.txt", h.staticRedirect("robots.txt"))
	m.HandleFunc("GET /favicon.ico", h.staticRedirect("favicon.ico"))
	m.HandleFunc("GET /opensearch.xml", h.staticRedirect("opensearch.xml"))
	m.HandleFunc("GET /-/static/{path...}", h.static)

	h.ServeMux = m
	return h
}

// matchOrError resolves name/version, writing a NotFound/BadRequest
// response and returning ok=false if resolution failed.
func (h *Router) matchOrError(w http.ResponseWriter, r *http.Request, name, version string) (m *MatchResult, ok bool) {
	expr := ParseVersionExpression(version)
	if expr.Kind == Semver && expr.Constraint == nil && expr.Raw != "" {
		h.writeError(w, r, &dochost.Error{Kind: dochost.ErrBadRequest, Op: "resolver", Message: "malformed version requirement"})
		return nil, false
	}
	match, err := Match(r.Context(), h.Meta, name, expr)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return match, true
}

// redirectIfNotCanonical writes the RedirectCanonical response (ForeverInCdn)
// when m's requested expression or name differs from its canonical form,
// with buildTarget forming the new URL from the canonical (or corrected)
// name and the canonical version. It reports whether a redirect was written.
func (h *Router) redirectIfNotCanonical(w http.ResponseWriter, r *http.Request, m *MatchResult, buildTarget func(name, version string) string) bool {
	name := m.Name
	if m.Corrected() {
		name = m.CorrectedName
	}
	canon := m.Canonical()
	if !m.Corrected() && m.IsCanonical() {
		return false
	}
	loc := buildTarget(name, canon.Raw)
	ForeverInCdn.Apply(w.Header(), name)
	http.Redirect(w, r, loc, http.StatusFound)
	return true
}

func (h *Router) home(w http.ResponseWriter, r *http.Request) {
	ForeverInCdn.Apply(w.Header(), "")
	if err := h.Render.Home(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) releasesFeed(w http.ResponseWriter, r *http.Request) {
	ForeverInCdn.Apply(w.Header(), "")
	if err := h.Render.ReleasesFeed(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) crateRedirect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ForeverInCdn.Apply(w.Header(), dochost.NormalizeName(name))
	http.Redirect(w, r, "/crate/"+name+"/latest", http.StatusFound)
}

func (h *Router) crateDetails(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	if h.redirectIfNotCanonical(w, r, m, func(n, v string) string { return "/crate/" + n + "/" + v }) {
		return
	}
	ForeverInCdnAndStaleInBrowser.Apply(w.Header(), m.Name)
	if err := h.Render.CrateDetails(w, r, m); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) buildsList(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	asJSON := strings.HasSuffix(r.URL.Path, ".json")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	if !asJSON && h.redirectIfNotCanonical(w, r, m, func(n, v string) string { return "/crate/" + n + "/" + v + "/builds" }) {
		return
	}
	builds, err := h.Meta.ListBuilds(r.Context(), m.Release.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ForeverInCdn.Apply(w.Header(), m.Name)
	if err := h.Render.BuildsList(w, r, m, builds, asJSON); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) buildDetail(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	build, err := h.Meta.GetBuild(r.Context(), r.PathValue("build"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ForeverInCdn.Apply(w.Header(), m.Name)
	if err := h.Render.BuildDetail(w, r, m, build); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) features(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	if h.redirectIfNotCanonical(w, r, m, func(n, v string) string { return "/crate/" + n + "/" + v + "/features" }) {
		return
	}
	ForeverInCdn.Apply(w.Header(), m.Name)
	if err := h.Render.Features(w, r, m); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) source(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	if h.redirectIfNotCanonical(w, r, m, func(n, v string) string {
		return "/crate/" + n + "/" + v + "/source/" + r.PathValue("path")
	}) {
		return
	}
	path := r.PathValue("path")
	logical := "sources/" + dochost.NormalizeName(m.Name) + "/" + m.Release.Version + "/" + path
	blob, err := h.Artifacts.GetFile(r.Context(), logical)
	switch {
	case errors.Is(err, artifactstore.ErrTooLarge):
		ForeverInCdnAndStaleInBrowser.Apply(w.Header(), m.Name)
		if err := h.Render.SourceTooLarge(w, r, path); err != nil {
			h.writeError(w, r, err)
		}
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	ForeverInCdnAndStaleInBrowser.Apply(w.Header(), m.Name)
	writeBlob(w, blob)
}

func (h *Router) status(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}
	NoStoreMustRevalidate.Apply(w.Header(), "")
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"version":    m.Release.Version,
		"doc_status": m.Release.Status == dochost.StatusSuccess,
	})
}

func (h *Router) badge(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, err := Match(r.Context(), h.Meta, name, VersionExpression{Kind: Latest, Raw: "latest"})
	NoStoreMustRevalidate.Apply(w.Header(), "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Render.Badge(w, r, m.Release.Status); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) rustdocRoot(w http.ResponseWriter, r *http.Request) {
	h.serveRustdoc(w, r, r.PathValue("name"), "", "", "")
}

// rustdoc parses the catch-all {rest...} per the route grammar
// /{name}[/{req_version}[/{target}[/{*path}]]]: the first segment, if
// present, is a version expression; the second, if it names one of the
// release's documented targets, is the target; everything after is the
// in-tree path.
func (h *Router) rustdoc(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rest := r.PathValue("rest")
	segs := strings.SplitN(rest, "/", 3)
	version := ""
	if len(segs) > 0 {
		version = segs[0]
	}
	var target, path string
	switch len(segs) {
	case 2:
		target, path = segs[1], ""
	case 3:
		target, path = segs[1], segs[2]
	}
	h.serveRustdoc(w, r, name, version, target, path)
}

func (h *Router) serveRustdoc(w http.ResponseWriter, r *http.Request, name, version, targetSeg, path string) {
	m, ok := h.matchOrError(w, r, name, version)
	if !ok {
		return
	}

	target, isDefault, tok := CanonicalTarget(m.Release, targetSeg)
	if targetSeg != "" && !tok {
		// not a known target: treat it as part of the path against the
		// default target instead (e.g. "/{name}/{version}/struct.Foo.html").
		if path != "" {
			path = targetSeg + "/" + path
		} else {
			path = targetSeg
		}
		targetSeg = ""
		target, isDefault = m.Release.DefaultTarget, true
	}

	redirected := h.redirectIfNotCanonical(w, r, m, func(n, v string) string {
		return rustdocURL(n, v, targetSeg, path)
	})
	if redirected {
		return
	}
	if targetSeg != "" && isDefault {
		ForeverInCdn.Apply(w.Header(), m.Name)
		http.Redirect(w, r, rustdocURL(m.Name, version, "", path), http.StatusFound)
		return
	}

	logical := "rustdoc/" + dochost.NormalizeName(m.Name) + "/" + m.Release.Version
	if target != "" && target != m.Release.DefaultTarget {
		logical += "/" + target
	}
	if path == "" || strings.HasSuffix(r.URL.Path, "/") {
		if path != "" && !strings.HasSuffix(path, "/") {
			path += "/"
		}
		path += "index.html"
	}
	logical += "/" + path

	blob, err := h.Artifacts.GetFile(r.Context(), logical)
	if err != nil {
		// A directory requested without its trailing slash: redirect with
		// the slash when the directory's index exists.
		var de *dochost.Error
		if errors.As(err, &de) && de.Kind == dochost.ErrNotFound && !strings.HasSuffix(r.URL.Path, "/") {
			if _, ierr := h.Artifacts.GetFile(r.Context(), logical+"/index.html"); ierr == nil {
				ForeverInCdn.Apply(w.Header(), m.Name)
				http.Redirect(w, r, r.URL.Path+"/", http.StatusFound)
				return
			}
		}
		h.writeError(w, r, err)
		return
	}
	ForeverInCdnAndStaleInBrowser.Apply(w.Header(), m.Name)
	writeBlob(w, blob)
}

func rustdocURL(name, version, target, path string) string {
	u := "/" + name
	if version != "" {
		u += "/" + version
	}
	if target != "" {
		u += "/" + target
	}
	if path != "" {
		u += "/" + path
	}
	return u
}

func (h *Router) sitemap(w http.ResponseWriter, r *http.Request) {
	ForeverInCdn.Apply(w.Header(), "")
	if err := h.Render.Sitemap(w, r, ""); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) sitemapLetter(w http.ResponseWriter, r *http.Request) {
	ForeverInCdn.Apply(w.Header(), "")
	if err := h.Render.Sitemap(w, r, r.PathValue("letter")); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Router) staticRedirect(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000")
		http.Redirect(w, r, strings.TrimRight(h.StaticPrefix, "/")+"/"+name, http.StatusMovedPermanently)
	}
}

func (h *Router) static(w http.ResponseWriter, r *http.Request) {
	ForeverInCdnAndBrowser.Apply(w.Header(), "")
	http.Redirect(w, r, strings.TrimRight(h.StaticPrefix, "/")+"/"+r.PathValue("path"), http.StatusFound)
}

func writeBlob(w http.ResponseWriter, b *artifactstore.Blob) {
	w.Header().Set("Content-Type", b.Mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Content)))
	if !b.LastModified.IsZero() {
		w.Header().Set("Last-Modified", b.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Write(b.Content)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// writeError classifies err and writes the
// matching HTTP status with NoCaching, except RedirectCanonical which
// callers handle themselves before ever reaching here.
func (h *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	NoCaching.Apply(w.Header(), "")
	var de *dochost.Error
	if !errors.As(err, &de) {
		jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: "internal error"}, http.StatusInternalServerError)
		return
	}
	switch de.Kind {
	case dochost.ErrNotFound:
		jsonerr.Error(w, &jsonerr.Response{Code: "not-found", Message: de.Message}, http.StatusNotFound)
	case dochost.ErrBadRequest:
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: de.Message}, http.StatusBadRequest)
	default:
		jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: "internal error"}, http.StatusInternalServerError)
	}
}
