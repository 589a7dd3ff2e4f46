package liveobjects

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drpcorg/liveobjects/op"
)

var OperationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "liveobjects",
	Subsystem: "applier",
	Name:      "operations_applied",
}, []string{"action"})

var OperationsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "liveobjects",
	Subsystem: "applier",
	Name:      "operations_rejected",
}, []string{"action", "reason"})

var OperationsBuffered = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "liveobjects",
	Subsystem: "sync",
	Name:      "operations_buffered",
})

var SyncSequences = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "liveobjects",
	Subsystem: "sync",
	Name:      "sequences",
}, []string{"result"})

var SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "liveobjects",
	Subsystem: "sync",
	Name:      "duration_ms",
	Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
})

var DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "liveobjects",
	Subsystem: "wire",
	Name:      "decode_errors",
}, []string{"message"})

// PoolCollector reports pool composition at scrape time.
type PoolCollector struct {
	pool *Pool

	objects     *prometheus.Desc
	subscribers *prometheus.Desc
}

func NewPoolCollector(pool *Pool) *PoolCollector {
	return &PoolCollector{
		pool: pool,
		objects: prometheus.NewDesc(
			"liveobjects_pool_objects",
			"Number of pooled objects by kind and state",
			[]string{"kind", "state"}, nil,
		),
		subscribers: prometheus.NewDesc(
			"liveobjects_pool_subscribers",
			"Number of active update subscriptions",
			nil, nil,
		),
	}
}

func (pc *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.objects
	ch <- pc.subscribers
}

func (pc *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	type bucket struct {
		kind  op.ObjectKind
		state string
	}
	counts := make(map[bucket]int)
	subs := 0
	pc.pool.lock.RLock()
	for _, obj := range pc.pool.objects {
		base := obj.base()
		state := "live"
		switch {
		case base.tombstone:
			state = "tombstoned"
		case !base.created:
			state = "placeholder"
		}
		counts[bucket{obj.Kind(), state}]++
		subs += base.subs.count()
	}
	pc.pool.lock.RUnlock()

	for b, n := range counts {
		ch <- prometheus.MustNewConstMetric(pc.objects, prometheus.GaugeValue, float64(n), b.kind.String(), b.state)
	}
	ch <- prometheus.MustNewConstMetric(pc.subscribers, prometheus.GaugeValue, float64(subs))
}
