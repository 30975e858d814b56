package reldb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Database. One Metrics
// can be shared by several databases; register its Collectors once.
type Metrics struct {
	transactions *prometheus.CounterVec
	operations   *prometheus.CounterVec
	sequenceIDs  prometheus.Counter
	depth        prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reldb_transactions_total",
			Help: "Transactions begun, committed, rolled back and checkpointed, by op.",
		}, []string{"op"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reldb_operations_total",
			Help: "Table and index operations, by op and result code.",
		}, []string{"op", "result"}),
		sequenceIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reldb_sequence_ids_total",
			Help: "Identifiers reserved by sequences, including reservations later rolled back.",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reldb_transaction_depth",
			Help: "Number of open user transactions.",
		}),
	}
}

// Collectors returns the collectors to register with a prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.transactions, m.operations, m.sequenceIDs, m.depth}
}

const (
	txBegin      = "begin"
	txCommit     = "commit"
	txRollback   = "rollback"
	txCheckpoint = "checkpoint"
)

func (m *Metrics) observeTx(op string, depth int) {
	m.transactions.WithLabelValues(op).Inc()
	m.depth.Set(float64(depth))
}

func (m *Metrics) observeOp(op string, err error) {
	m.operations.WithLabelValues(op, CodeOf(err).String()).Inc()
}
