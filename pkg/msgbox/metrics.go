package msgbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

// boxMetrics counts engine-level operations. Registration is best-effort
// so multiple stores in one process (tests) do not panic on duplicates.
type boxMetrics struct {
	created *prometheus.CounterVec
	updated prometheus.Counter
	deleted *prometheus.CounterVec
}

func newBoxMetrics() *boxMetrics {
	m := &boxMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbox_messages_created_total",
			Help: "Messages created, by nesting kind.",
		}, []string{"kind"}),
		updated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadbox_messages_updated_total",
			Help: "Message body updates.",
		}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadbox_messages_deleted_total",
			Help: "Messages deleted, by performed delete type.",
		}, []string{"type"}),
	}
	_ = prometheus.Register(m.created)
	_ = prometheus.Register(m.updated)
	_ = prometheus.Register(m.deleted)
	return m
}
