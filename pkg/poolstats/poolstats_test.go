package poolstats

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeStater returns a zero-value [pgxpool.Stat], which is all this package
// can construct outside of a live pool; Collect only needs the accessor
// methods to not panic on a zero value.
type fakeStater struct{}

func (fakeStater) Stat() *pgxpool.Stat { return &pgxpool.Stat{} }

func TestCollectorCollectsNineMetrics(t *testing.T) {
	c := NewCollector(fakeStater{}, "metadata")

	if got := testutil.CollectAndCount(c); got != 9 {
		t.Fatalf("CollectAndCount = %d, want 9", got)
	}
}

func TestCollectorLabelsMetricsWithPoolName(t *testing.T) {
	c := NewCollector(fakeStater{}, "build-pipeline")

	var descs []*prometheus.Desc
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)
	for d := range ch {
		descs = append(descs, d)
	}
	if len(descs) != 9 {
		t.Fatalf("Describe sent %d descriptors, want 9", len(descs))
	}
	for _, d := range descs {
		if !strings.Contains(d.String(), `pool="build-pipeline"`) {
			t.Fatalf("descriptor %s missing pool label", d.String())
		}
	}
}
