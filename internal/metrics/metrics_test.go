package metrics_test

import (
	"testing"
	"time"

	"github.com/Viet-ph/reactor/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "r1", "simulated")

	m.Tick("ok")
	m.Tick("ok")
	m.Dispatch("timer", 3)
	m.Dispatch("read", 0)
	m.Timeout("read", 1)
	m.Teardown("timer")
	m.Waited(time.Millisecond)
	m.Handles("read", 4)
	m.Timers(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["reactor_ticks_total"])
	assert.True(t, names["reactor_dispatches_total"])
	assert.True(t, names["reactor_wait_seconds"])
	assert.True(t, names["reactor_timers"])

	assert.Equal(t, 1, seriesCount(t, reg, "reactor_dispatches_total"), "zero-count dispatch must not create a series")
}

func TestTwoReactorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := metrics.New(reg, "a", "epoll")
	b := metrics.New(reg, "b", "epoll")

	a.Tick("ok")
	b.Tick("ok")

	assert.Equal(t, 2, seriesCount(t, reg, "reactor_ticks_total"))
}

func seriesCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}
