package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dochost/dochost/internal/ctxlog"
)

//go:embed queries/*.sql
var queries embed.FS

// loadQuery reads the named statement out of queries/.
func loadQuery(name string) string {
	b, err := fs.ReadFile(queries, path.Join("queries", name+".sql"))
	if err != nil {
		panic("programmer error: bad query name " + name + ": " + err.Error())
	}
	return string(b)
}

var tracer = otel.Tracer("github.com/dochost/dochost/metadatastore/postgres")

var (
	methodDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dochost",
		Subsystem: "metadatastore",
		Name:      "method_duration_seconds",
		Help:      "Duration of Metadata Store method calls.",
	}, []string{"method", "success"})
)

// Store implements the Metadata Store and the
// interfaces the build pipeline and resolver use to talk to it.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// method is a helper run at the top of every exported method: it starts a
// tracing span, stamps the context with a logging component attribute, and
// arranges for duration/error metrics to be recorded when the returned func
// runs.
func (s *Store) method(ctx context.Context, err *error) (context.Context, func()) {
	pc, _, _, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc).Name()
	i := strings.LastIndexByte(fn, '.')
	name := fn
	if i >= 0 {
		name = fn[i+1:]
	}
	ctx = ctxlog.With(ctx, "component", "metadatastore/postgres."+name)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("method", name)))
	begin := time.Now()
	return ctx, func() {
		success := "true"
		if *err != nil {
			*err = fmt.Errorf("postgres: %s: %w", name, *err)
			span.RecordError(*err)
			span.SetStatus(codes.Error, "method error")
			success = "false"
		} else {
			span.SetStatus(codes.Ok, "")
		}
		methodDuration.WithLabelValues(name, success).Observe(time.Since(begin).Seconds())
		span.End()
	}
}
