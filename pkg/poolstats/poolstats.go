// Package poolstats exports a [pgxpool.Pool]'s Stat() as Prometheus gauges and counters.
package poolstats

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Stater is implemented by *pgxpool.Pool.
type Stater interface {
	Stat() *pgxpool.Stat
}

type staterFunc func() *pgxpool.Stat

// Collector is a prometheus.Collector over the nine statistics produced by
// pgxpool.Stat.
type Collector struct {
	stat staterFunc

	acquireCountDesc         *prometheus.Desc
	acquireDurationDesc      *prometheus.Desc
	acquiredConnsDesc        *prometheus.Desc
	canceledAcquireCountDesc *prometheus.Desc
	constructingConnsDesc    *prometheus.Desc
	emptyAcquireCountDesc    *prometheus.Desc
	idleConnsDesc            *prometheus.Desc
	maxConnsDesc             *prometheus.Desc
	totalConnsDesc           *prometheus.Desc
}

// NewCollector creates a Collector that reports stats from stater, labeled
// with appname so multiple pools (metadata store, build pipeline) can be
// told apart.
func NewCollector(stater Stater, appname string) *Collector {
	labels := prometheus.Labels{"pool": appname}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, nil, labels)
	}
	return &Collector{
		stat: stater.Stat,
		acquireCountDesc: mk("dochost_pgxpool_acquire_count",
			"Cumulative count of successful acquires from the pool."),
		acquireDurationDesc: mk("dochost_pgxpool_acquire_duration_seconds_total",
			"Total duration of all successful acquires from the pool."),
		acquiredConnsDesc: mk("dochost_pgxpool_acquired_conns",
			"Number of currently acquired connections in the pool."),
		canceledAcquireCountDesc: mk("dochost_pgxpool_canceled_acquire_count",
			"Cumulative count of acquires canceled by a context."),
		constructingConnsDesc: mk("dochost_pgxpool_constructing_conns",
			"Number of conns with construction in progress."),
		emptyAcquireCountDesc: mk("dochost_pgxpool_empty_acquire_count",
			"Cumulative count of acquires that waited because the pool was empty."),
		idleConnsDesc: mk("dochost_pgxpool_idle_conns",
			"Number of currently idle conns in the pool."),
		maxConnsDesc: mk("dochost_pgxpool_max_conns",
			"Maximum size of the pool."),
		totalConnsDesc: mk("dochost_pgxpool_total_conns",
			"Total number of resources currently in the pool."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquireCountDesc
	ch <- c.acquireDurationDesc
	ch <- c.acquiredConnsDesc
	ch <- c.canceledAcquireCountDesc
	ch <- c.constructingConnsDesc
	ch <- c.emptyAcquireCountDesc
	ch <- c.idleConnsDesc
	ch <- c.maxConnsDesc
	ch <- c.totalConnsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.acquireCountDesc, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireDurationDesc, prometheus.CounterValue, s.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.acquiredConnsDesc, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.canceledAcquireCountDesc, prometheus.CounterValue, float64(s.CanceledAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.constructingConnsDesc, prometheus.GaugeValue, float64(s.ConstructingConns()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquireCountDesc, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.idleConnsDesc, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConnsDesc, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.totalConnsDesc, prometheus.GaugeValue, float64(s.TotalConns()))
}
