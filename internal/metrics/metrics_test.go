package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.NonceIssued()
	m.NonceIssued()
	m.FallbackWrite()
	m.ValidationResult(true)
	m.ValidationResult(false)
	m.ValidationResult(false)
	m.NonceConsumed()
	m.CleanupRemoved(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.issued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumed))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cleanupRemoved))
}
