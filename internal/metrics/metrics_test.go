package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFlushInfractionsIncrementsBatchCounter(t *testing.T) {
	c := New()
	require.NoError(t, c.FlushInfractions([]byte("batch")))
	require.NoError(t, c.FlushInfractions([]byte("batch")))
	require.Equal(t, float64(2), testutil.ToFloat64(c.InfractionBatches))
}

func TestGaugesTrackAssignment(t *testing.T) {
	c := New()
	c.ActiveRooms.Set(3)
	c.ActiveConnections.Inc()
	require.Equal(t, float64(3), testutil.ToFloat64(c.ActiveRooms))
	require.Equal(t, float64(1), testutil.ToFloat64(c.ActiveConnections))
}

func TestInfractionsCounterVecBySeverity(t *testing.T) {
	c := New()
	c.Infractions.WithLabelValues("critical").Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(c.Infractions.WithLabelValues("critical")))
	require.Equal(t, float64(0), testutil.ToFloat64(c.Infractions.WithLabelValues("low")))
}
