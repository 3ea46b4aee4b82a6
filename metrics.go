package enumdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the per-DB collectors. They are always allocated so that the
// hot paths never check for nil; registration only happens when
// Options.Registerer is set.
type metrics struct {
	added              prometheus.Counter
	duplicates         prometheus.Counter
	lookups            *prometheus.CounterVec
	checkpoints        prometheus.Counter
	checkpointFailures prometheus.Counter
	checkpointDuration prometheus.Histogram
	replayed           prometheus.Counter
	state              *stateCollector

	reg prometheus.Registerer
}

func newMetrics(db *DB, constLabels prometheus.Labels) *metrics {
	return &metrics{
		added: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "enumdb_keys_added_total",
			Help:        "Number of new keys assigned an index",
			ConstLabels: constLabels,
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "enumdb_duplicate_adds_total",
			Help:        "Number of Add calls for keys that already had an index",
			ConstLabels: constLabels,
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "enumdb_lookups_total",
			Help:        "Number of lookups by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "enumdb_checkpoints_total",
			Help:        "Number of snapshots written",
			ConstLabels: constLabels,
		}),
		checkpointFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "enumdb_checkpoint_failures_total",
			Help:        "Number of checkpoints that failed",
			ConstLabels: constLabels,
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "enumdb_checkpoint_duration_seconds",
			Help:        "Time taken to encode and store a snapshot",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "enumdb_journal_replayed_total",
			Help:        "Number of journal records applied on open",
			ConstLabels: constLabels,
		}),
		state: newStateCollector(db, constLabels),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.added, m.duplicates, m.lookups, m.checkpoints, m.checkpointFailures, m.checkpointDuration, m.replayed, m.state}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	var done []prometheus.Collector
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			for _, d := range done {
				reg.Unregister(d)
			}
			return err
		}
		done = append(done, c)
	}
	m.reg = reg
	return nil
}

func (m *metrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
	m.reg = nil
}

func (m *metrics) lookup(found bool) {
	if found {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

// stateCollector reports the size of the enumeration at scrape time.
type stateCollector struct {
	db *DB

	keys      *prometheus.Desc
	keyBytes  *prometheus.Desc
	dataPages *prometheus.Desc
	dirPages  *prometheus.Desc
}

func newStateCollector(db *DB, constLabels prometheus.Labels) *stateCollector {
	return &stateCollector{
		db: db,
		keys: prometheus.NewDesc(
			"enumdb_keys",
			"Number of keys in the enumeration",
			nil, constLabels,
		),
		keyBytes: prometheus.NewDesc(
			"enumdb_key_bytes",
			"Total length of all stored keys",
			nil, constLabels,
		),
		dataPages: prometheus.NewDesc(
			"enumdb_data_segment_pages",
			"Pages allocated to the key data segment",
			nil, constLabels,
		),
		dirPages: prometheus.NewDesc(
			"enumdb_dir_segment_pages",
			"Pages allocated to the key directory segment",
			nil, constLabels,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.keyBytes
	ch <- c.dataPages
	ch <- c.dirPages
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.db.Stats()
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(st.Keys))
	ch <- prometheus.MustNewConstMetric(c.keyBytes, prometheus.GaugeValue, float64(st.KeyBytes))
	ch <- prometheus.MustNewConstMetric(c.dataPages, prometheus.GaugeValue, float64(st.DataPages))
	ch <- prometheus.MustNewConstMetric(c.dirPages, prometheus.GaugeValue, float64(st.DirPages))
}
