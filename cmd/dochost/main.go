// Command dochost runs the build side of the documentation host: the queue
// drainer and a small administrative HTTP API. It does not start a
// buildpipeline.RegistryWatcher.
// The public serving surface (resolver.Router) is embedded by a separate
// front-end binary that supplies the template renderer.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/buildpipeline"
	"github.com/dochost/dochost/internal/config"
	"github.com/dochost/dochost/metadatastore/postgres"
	"github.com/dochost/dochost/pkg/ctxlock"
	"github.com/dochost/dochost/pkg/jsonerr"
)

// Config is parsed from the environment once at startup.
type Config struct {
	HTTPListenAddr        string        `cfgDefault:"0.0.0.0:8090" cfg:"HTTP_LISTEN_ADDR"`
	ConnString            string        `cfgDefault:"host=localhost port=5432 user=dochost dbname=dochost sslmode=disable" cfg:"CONNECTION_STRING"`
	StorageRoot           string        `cfgDefault:"/var/lib/dochost/storage" cfg:"STORAGE_ROOT"`
	LocalArchiveCachePath string        `cfgDefault:"/var/cache/dochost/archive-index" cfg:"LOCAL_ARCHIVE_CACHE_PATH"`
	TempDir               string        `cfgDefault:"/var/lib/dochost/workspace" cfg:"TEMP_DIR"`
	RegistryURL           string        `cfgDefault:"https://crates.io" cfg:"REGISTRY_URL"`
	MaxAttempts           int           `cfgDefault:"5" cfg:"MAX_ATTEMPTS"`
	MaxFileSize           int64         `cfgDefault:"52428800" cfg:"MAX_FILE_SIZE"`
	RequestTimeout        time.Duration `cfgDefault:"30s" cfg:"REQUEST_TIMEOUT"`
	ToolchainReinit       time.Duration `cfgDefault:"24h" cfg:"TOOLCHAIN_REINIT_INTERVAL"`
	BuildServer           string        `cfg:"BUILD_SERVER"`
	CDNDistribution       string        `cfg:"CDN_DISTRIBUTION"`
	KeepScratch           bool          `cfgDefault:"false" cfg:"KEEP_SCRATCH"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var conf Config
	if err := config.Parse(&conf); err != nil {
		slog.ErrorContext(ctx, "failed to parse config", "reason", err)
		os.Exit(1)
	}
	if conf.BuildServer == "" {
		conf.BuildServer, _ = os.Hostname()
	}

	store, err := postgres.InitStore(ctx, conf.ConnString, "dochost-builder", true)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize metadata store", "reason", err)
		os.Exit(1)
	}
	defer store.Close(ctx)

	backend, err := artifactstore.NewLocalBackend(conf.StorageRoot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open storage backend", "reason", err)
		os.Exit(1)
	}
	artifacts, err := artifactstore.New(backend, conf.LocalArchiveCachePath,
		artifactstore.WithMaxInlineSize(conf.MaxFileSize))
	if err != nil {
		slog.ErrorContext(ctx, "failed to open artifact store", "reason", err)
		os.Exit(1)
	}

	lockPool, err := postgres.Connect(ctx, conf.ConnString, "dochost-locker")
	if err != nil {
		slog.ErrorContext(ctx, "failed to create locker pool", "reason", err)
		os.Exit(1)
	}
	defer lockPool.Close()
	locker, err := ctxlock.New(ctx, lockPool)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create locker", "reason", err)
		os.Exit(1)
	}
	defer locker.Close(ctx)

	installer := &buildpipeline.ExecToolchainInstaller{
		UpdateCmd:  []string{"rustup", "update", "nightly"},
		VersionCmd: []string{"rustc", "+nightly", "--version"},
		DocCmd:     []string{"cargo", "+nightly", "doc", "--no-deps"},
	}
	workspace, err := buildpipeline.NewWorkspace(conf.TempDir, installer, artifacts, conf.ToolchainReinit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create workspace", "reason", err)
		os.Exit(1)
	}

	pipeline, err := buildpipeline.New(&buildpipeline.Options{
		Meta:      store,
		Artifacts: artifacts,
		Sandbox: &buildpipeline.ExecSandbox{
			Command:             []string{"cargo", "+nightly", "doc", "--no-deps"},
			NetworkIsolationCmd: []string{"unshare", "-n", "--"},
		},
		Source:       &buildpipeline.RegistrySourceFetcher{BaseURL: conf.RegistryURL},
		Workspace:    workspace,
		Locker:       locker,
		BuildServer:  conf.BuildServer,
		Distribution: conf.CDNDistribution,
		MaxAttempts:  int32(conf.MaxAttempts),
		KeepScratch:  conf.KeepScratch,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create pipeline", "reason", err)
		os.Exit(1)
	}
	defer pipeline.Close(ctx)

	if err := pipeline.Startup(ctx); err != nil {
		slog.ErrorContext(ctx, "pipeline startup failed", "reason", err)
		os.Exit(1)
	}
	go pipeline.Drain(ctx)

	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     adminMux(pipeline, store, artifacts),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
		ReadTimeout: conf.RequestTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(sctx)
	}()

	slog.InfoContext(ctx, "starting admin server", "addr", conf.HTTPListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.ErrorContext(ctx, "admin server failed", "reason", err)
		os.Exit(1)
	}
}

// adminMux exposes the operator surface: enqueue, pause/resume, reconcile,
// and Prometheus metrics.
func adminMux(p *buildpipeline.Pipeline, store *postgres.Store, artifacts *artifactstore.Store) http.Handler {
	m := http.NewServeMux()
	m.Handle("GET /metrics", promhttp.Handler())

	m.HandleFunc("POST /enqueue", func(w http.ResponseWriter, r *http.Request) {
		name, version := r.URL.Query().Get("name"), r.URL.Query().Get("version")
		if name == "" || version == "" {
			jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "name and version are required"}, http.StatusBadRequest)
			return
		}
		id, err := p.Enqueue(r.Context(), name, version, r.URL.Query().Get("registry"))
		if err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"id": id})
	})

	m.HandleFunc("POST /lock", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Lock(r.Context(), r.URL.Query().Get("by")); err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	m.HandleFunc("POST /unlock", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Unlock(r.Context()); err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	m.HandleFunc("GET /lock", func(w http.ResponseWriter, r *http.Request) {
		state, err := p.IsLocked(r.Context())
		if err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, state)
	})

	m.HandleFunc("GET /reconcile", func(w http.ResponseWriter, r *http.Request) {
		divergences, err := buildpipeline.Reconcile(r.Context(), store, artifacts)
		if err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "internal", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"divergences": divergences})
	})

	return m
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
