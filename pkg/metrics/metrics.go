// Package metrics defines the Prometheus collectors sampled across
// storage, query, compaction, and raft, and the HTTP handler that exposes
// them: one package-level var block of gauges/counters/histograms,
// registered in init, a promhttp.Handler, and a Timer helper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage and compaction metrics
	StorageEntitiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_storage_entities_total",
			Help: "Total number of distinct entity ids with at least one version in the data tree",
		},
	)

	CompactionVersionsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_compaction_versions_removed_total",
			Help: "Total number of versions removed by compaction passes",
		},
	)

	CompactionTombstonesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_compaction_tombstones_removed_total",
			Help: "Total number of trailing tombstones removed by compaction passes",
		},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "latticedb_compaction_pass_duration_seconds",
			Help:    "Time taken to complete one compaction pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Query metrics
	PlanCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_plan_cache_hits_total",
			Help: "Total number of plan cache hits",
		},
	)

	PlanCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_plan_cache_misses_total",
			Help: "Total number of plan cache misses",
		},
	)

	PlanCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_plan_cache_size",
			Help: "Current number of plans held in the plan cache",
		},
	)

	PlanCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_plan_cache_evictions_total",
			Help: "Total number of plan cache LRU evictions",
		},
	)

	QueryExecuteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "latticedb_query_execute_duration_seconds",
			Help:    "Time taken to execute one planned query, scan through shaping",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueryBudgetExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "latticedb_query_budget_exceeded_total",
			Help: "Total number of queries rejected for exceeding the fan-out budget",
		},
	)

	// Raft metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_raft_peers_total",
			Help: "Total number of Raft peers in the cluster configuration",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_raft_last_log_index",
			Help: "Highest Raft log index on this node",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latticedb_raft_applied_index",
			Help: "Last Raft log index applied to the state machine",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "latticedb_raft_apply_duration_seconds",
			Help:    "Time taken for one StateMachine.Apply call",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Wire/API metrics
	WireRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latticedb_wire_requests_total",
			Help: "Total number of wire requests by operation and status code",
		},
		[]string{"operation", "status"},
	)

	WireRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "latticedb_wire_request_duration_seconds",
			Help:    "Wire request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(StorageEntitiesTotal)
	prometheus.MustRegister(CompactionVersionsRemoved)
	prometheus.MustRegister(CompactionTombstonesRemoved)
	prometheus.MustRegister(CompactionDuration)

	prometheus.MustRegister(PlanCacheHitsTotal)
	prometheus.MustRegister(PlanCacheMissesTotal)
	prometheus.MustRegister(PlanCacheSize)
	prometheus.MustRegister(PlanCacheEvictionsTotal)
	prometheus.MustRegister(QueryExecuteDuration)
	prometheus.MustRegister(QueryBudgetExceededTotal)

	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftPeersTotal)
	prometheus.MustRegister(RaftLastLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(WireRequestsTotal)
	prometheus.MustRegister(WireRequestDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing its
// duration into a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
