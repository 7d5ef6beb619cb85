package clock_test

import (
	"testing"
	"time"

	"github.com/Viet-ph/reactor/clock"
	"github.com/stretchr/testify/assert"
)

func TestTimeArithmetic(t *testing.T) {
	a := clock.Time(0).Add(150 * time.Millisecond)
	b := a.Add(50 * time.Millisecond)

	assert.Equal(t, 50*time.Millisecond, b.Sub(a))
	assert.Equal(t, -50*time.Millisecond, a.Sub(b))
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(clock.Time(150*time.Millisecond)))
}

func TestAddForeverSaturates(t *testing.T) {
	far := clock.Time(10).Add(clock.Forever)
	assert.True(t, far.After(clock.Time(1<<62)))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, -1, clock.Millis(clock.Forever))
	assert.Equal(t, 0, clock.Millis(0))
	assert.Equal(t, 0, clock.Millis(-time.Second))
	assert.Equal(t, 1, clock.Millis(time.Microsecond))
	assert.Equal(t, 250, clock.Millis(250*time.Millisecond))
	assert.Equal(t, 251, clock.Millis(250*time.Millisecond+1))
}

func TestManual(t *testing.T) {
	m := clock.NewManual(0)
	m.Advance(time.Second)
	m.Advance(-time.Second)
	assert.Equal(t, clock.Time(time.Second), m.Now())

	m.Set(5)
	assert.Equal(t, clock.Time(5), m.Now())
}

func TestSystemIsMonotonic(t *testing.T) {
	s := clock.NewSystem()
	a := s.Now()
	b := s.Now()
	assert.False(t, b.Before(a))
}

func TestMin(t *testing.T) {
	assert.Equal(t, time.Second, clock.Min(clock.Forever, 3*time.Second, time.Second))
	assert.Equal(t, clock.Forever, clock.Min(clock.Forever))
}
