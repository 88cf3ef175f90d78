package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"
)

// Metrics holds the Prometheus counters for nonce operations.
type Metrics struct {
	issued         prometheus.Counter
	fallbackWrites prometheus.Counter
	validations    *prometheus.CounterVec
	consumed       prometheus.Counter
	cleanupRemoved prometheus.Counter
}

// Compile-time interface compliance check
var _ nonce.Metrics = (*Metrics)(nil)

// New registers the nonce counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		issued: factory.NewCounter(prometheus.CounterOpts{
			Name: "nonce_issued_total",
			Help: "Number of nonces issued.",
		}),
		fallbackWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "nonce_fallback_writes_total",
			Help: "Number of nonce records held in the memory fallback because the durable write failed.",
		}),
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nonce_validations_total",
			Help: "Number of nonce validations by result.",
		}, []string{"result"}),
		consumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nonce_consumed_total",
			Help: "Number of nonces consumed.",
		}),
		cleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "nonce_cleanup_removed_total",
			Help: "Number of expired nonce records removed by cleanup.",
		}),
	}
}

func (m *Metrics) NonceIssued() {
	m.issued.Inc()
}

func (m *Metrics) FallbackWrite() {
	m.fallbackWrites.Inc()
}

func (m *Metrics) ValidationResult(ok bool) {
	result := "rejected"
	if ok {
		result = "ok"
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) NonceConsumed() {
	m.consumed.Inc()
}

func (m *Metrics) CleanupRemoved(n int64) {
	m.cleanupRemoved.Add(float64(n))
}
