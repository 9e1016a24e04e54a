package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics counts row-level operations. Registration is best-effort so
// multiple stores in one process (tests) do not panic on duplicates.
type storeMetrics struct {
	reads   prometheus.Counter
	writes  prometheus.Counter
	deletes prometheus.Counter
	scans   prometheus.Counter
	purged  prometheus.Counter
}

func newStoreMetrics() *storeMetrics {
	m := &storeMetrics{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_store_row_reads_total",
			Help: "Point reads served by the row store.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_store_row_writes_total",
			Help: "Row upserts performed by the row store.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_store_row_deletes_total",
			Help: "Row deletions performed by the row store.",
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_store_scans_total",
			Help: "Prefix scans served by the row store.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_store_expired_rows_purged_total",
			Help: "TTL rows removed by PurgeExpired.",
		}),
	}
	for _, c := range []prometheus.Counter{m.reads, m.writes, m.deletes, m.scans, m.purged} {
		_ = prometheus.Register(c)
	}
	return m
}
