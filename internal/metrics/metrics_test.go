package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CompactionsStarted.Inc()
	m.ReadsTotal.Inc()
	m.ReadsFound.Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(m.CompactionsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReadsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReadsFound))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewNopIsUsableButUnregistered(t *testing.T) {
	m := NewNop()
	require.NotPanics(t, func() {
		m.FlushesStarted.Inc()
		m.WriteStalls.Inc()
	})
	require.Equal(t, float64(1), testutil.ToFloat64(m.FlushesStarted))
}
