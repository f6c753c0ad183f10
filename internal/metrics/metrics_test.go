package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrankMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCrankMetrics("test_crank", reg)

	m.ObserveTick("ended", 1.5, 1_700_000_000)
	m.ObserveTick("none", 0.2, 1_700_000_060)
	m.IncStageError("submit")
	m.IncStageError("submit")
	m.IncRoundEnded()
	m.SetRaffleState(1_700_000_100, 3, 42)
	m.SetPending(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickCount.WithLabelValues("ended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickCount.WithLabelValues("none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageErrorCount.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roundEndedCount))
	assert.Equal(t, 1_700_000_060.0, testutil.ToFloat64(m.lastTickGauge))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ticketsGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingGauge))

	m.SetPending(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pendingGauge))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCrankMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCrankMetrics("a", prometheus.NewRegistry())
		NewCrankMetrics("a", prometheus.NewRegistry())
	})
}
