package backendpool

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Across many successful selections over K eligible backends, the
// empirical distribution of chosen ids approaches uniform.
func TestSelect_UniformDistribution(t *testing.T) {
	const k = 4
	const n = 20000

	m := newTestMap()
	for i := 0; i < k; i++ {
		m.AddInstance("svc", fmt.Sprintf("b%d", i), fmt.Sprintf("10.0.0.%d:8080", i))
	}
	replaceDialers(m, "svc", &stubDialer{})

	counts := make([]int, k)
	for i := 0; i < n; i++ {
		b, _, err := m.Select(context.Background(), "svc", ProtocolHTTP, "")
		require.NoError(t, err)
		counts[b.ID]++
		m.CloseBackendConnection("svc", b.Address)
	}

	expected := float64(n) / float64(k)
	chiSquare := 0.0
	for _, c := range counts {
		d := float64(c) - expected
		chiSquare += d * d / expected
	}
	// 3 degrees of freedom, alpha=0.001 critical value is ~16.27; this is a
	// generous tolerance to keep the test non-flaky while still catching a
	// broken selection algorithm (e.g. always picking index 0).
	assert.Less(t, chiSquare, 30.0, "chi-square statistic too high: selection is not uniform")
}

// A sticky selection for an eligible backend never returns any other
// backend, across many calls.
func TestSelectSticky_NeverPicksAnotherBackend(t *testing.T) {
	m := newTestMap()
	for i := 0; i < 5; i++ {
		m.AddInstance("svc", fmt.Sprintf("b%d", i), fmt.Sprintf("10.0.0.%d:8080", i))
	}
	replaceDialers(m, "svc", &stubDialer{})

	for i := 0; i < 200; i++ {
		b, _, err := m.SelectSticky(context.Background(), "svc", 2, ProtocolHTTP, "")
		require.NoError(t, err)
		assert.Equal(t, uint32(2), b.ID)
		m.CloseBackendConnection("svc", b.Address)
	}
}

func TestBackend_CanOpen_FailureThreshold(t *testing.T) {
	b := NewBackend("b0", "10.0.0.0:8080", 0)
	assert.True(t, b.CanOpen())
	b.Failures = disableThreshold - 1
	assert.True(t, b.CanOpen())
	b.Failures = disableThreshold
	assert.False(t, b.CanOpen())
}

func TestBackend_CanOpen_ConnectionCap(t *testing.T) {
	b := NewBackend("b0", "10.0.0.0:8080", 0)
	b.MaxActiveConns = 2
	b.ActiveConnections = 1
	assert.True(t, b.CanOpen())
	b.ActiveConnections = 2
	assert.False(t, b.CanOpen())
}

func TestBackend_TryConnect_IncrementsFailures(t *testing.T) {
	b := NewBackend("b0", "10.0.0.0:8080", 0).WithDialer(&stubDialer{fail: true})
	_, err := b.TryConnect(context.Background(), ProtocolHTTP, "")
	require.Error(t, err)
	assert.Equal(t, 1, b.Failures)
}

func TestBackend_DecConnections_ClampsAtZero(t *testing.T) {
	b := NewBackend("b0", "10.0.0.0:8080", 0)
	b.DecConnections()
	assert.Equal(t, 0, b.ActiveConnections)
}
