package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupWindowRejectsDuplicate(t *testing.T) {
	w := newDedupWindow(8)
	require.True(t, w.accept(1))
	require.False(t, w.accept(1))
	require.True(t, w.accept(2))
	require.False(t, w.accept(2))
}

func TestDedupWindowAcceptsOutOfOrder(t *testing.T) {
	w := newDedupWindow(8)
	require.True(t, w.accept(5))
	require.True(t, w.accept(3))
	require.False(t, w.accept(3))
	require.True(t, w.accept(4))
	require.False(t, w.accept(4))
	require.False(t, w.accept(5))
}

func TestDedupWindowRejectsTooOld(t *testing.T) {
	w := newDedupWindow(4)
	require.True(t, w.accept(100))
	require.False(t, w.accept(90))
}

func TestDedupWindowAdvancesHighest(t *testing.T) {
	w := newDedupWindow(4)
	require.True(t, w.accept(1))
	require.True(t, w.accept(2))
	require.True(t, w.accept(10))
	require.False(t, w.accept(10))
	require.False(t, w.accept(1))
}

func TestRetransmitDelayBacksOffAndCaps(t *testing.T) {
	require.Equal(t, time.Second, retransmitDelay(1))
	require.Equal(t, 2*time.Second, retransmitDelay(2))
	require.Equal(t, 2*time.Second, retransmitDelay(5))
}

func TestRTTEstimatorEWMA(t *testing.T) {
	var e rttEstimator
	e.sample(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, e.get())
	e.sample(200 * time.Millisecond)
	want := time.Duration(float64(100*time.Millisecond)*0.875 + float64(200*time.Millisecond)*0.125)
	require.Equal(t, want, e.get())
}
