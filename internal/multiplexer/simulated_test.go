package multiplexer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Viet-ph/reactor/clock"
	mul "github.com/Viet-ph/reactor/internal/multiplexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scan(b mul.Backend, dir mul.Direction) []mul.Ref {
	var refs []mul.Ref
	b.Mux(dir).Scan(func(ref mul.Ref) { refs = append(refs, ref) })
	return refs
}

func TestSimulatedWaitAdvancesClock(t *testing.T) {
	c := clock.NewManual(0)
	s := mul.NewSimulated(c)

	n, err := s.Wait(30 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, clock.Time(30*time.Millisecond), c.Now())

	_, err = s.Wait(clock.Forever)
	assert.ErrorIs(t, err, mul.ErrWouldBlockForever)
	assert.Equal(t, []time.Duration{30 * time.Millisecond, clock.Forever}, s.Waits)
}

func TestSimulatedScheduledReadiness(t *testing.T) {
	c := clock.NewManual(0)
	s := mul.NewSimulated(c)
	require.NoError(t, s.Mux(mul.Read).Add(4, mul.Ref{Index: 1, Gen: 1}))
	require.NoError(t, s.Mux(mul.Read).Add(3, mul.Ref{Index: 2, Gen: 1}))
	s.InjectAt(clock.Time(20*time.Millisecond), mul.Read, 4)
	s.InjectAt(clock.Time(20*time.Millisecond), mul.Read, 3)

	n, err := s.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Wait(clock.Forever)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, clock.Time(20*time.Millisecond), c.Now())
	assert.Equal(t, []mul.Ref{{Index: 2, Gen: 1}, {Index: 1, Gen: 1}}, scan(s, mul.Read))
	assert.Empty(t, scan(s, mul.Read), "readiness is consumed by the scan")
}

func TestSimulatedReadinessWaitsWhileOff(t *testing.T) {
	s := mul.NewSimulated(clock.NewManual(0))
	mux := s.Mux(mul.Write)
	require.NoError(t, mux.Add(3, mul.Ref{Index: 1, Gen: 1}))
	require.NoError(t, mux.Off(3))
	s.Inject(mul.Write, 3)

	n, err := s.Wait(0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, scan(s, mul.Write))

	require.NoError(t, mux.On(3))
	n, err = s.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, scan(s, mul.Write), 1)

	assert.Equal(t, 1, s.Calls(mul.Write, "add"))
	assert.Equal(t, 1, s.Calls(mul.Write, "off"))
	assert.Equal(t, 1, s.Calls(mul.Write, "on"))
}

func TestSimulatedFailures(t *testing.T) {
	s := mul.NewSimulated(clock.NewManual(0))
	boom := errors.New("boom")
	s.FailNext(boom)
	_, err := s.Wait(0)
	assert.ErrorIs(t, err, boom)
	_, err = s.Wait(0)
	assert.NoError(t, err)

	s.Refuse(mul.Read, 9, boom)
	assert.ErrorIs(t, s.Mux(mul.Read).Add(9, mul.Ref{}), boom)
	known, _ := s.Registered(mul.Read, 9)
	assert.False(t, known)
}
