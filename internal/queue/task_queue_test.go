package queue_test

import (
	"errors"
	"testing"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"github.com/Viet-ph/reactor/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDrainRunsInOrder(t *testing.T) {
	tq := queue.NewTaskQueue(zap.NewNop())
	var got []any
	record := func(now clock.Time, arg any) error {
		got = append(got, arg)
		return nil
	}
	tq.Add(queue.NewTask(record, 1))
	tq.Add(queue.NewTask(record, 2))
	tq.Add(queue.NewTask(record, 3))

	ran := tq.DrainQueue(0)

	assert.Equal(t, 3, ran)
	assert.Equal(t, []any{1, 2, 3}, got)
	assert.Equal(t, 0, tq.Len())
}

func TestTasksAddedDuringDrainWaitForNextDrain(t *testing.T) {
	tq := queue.NewTaskQueue(zap.NewNop())
	var got []string
	second := func(now clock.Time, arg any) error {
		got = append(got, "second")
		return nil
	}
	tq.Add(queue.NewTask(func(now clock.Time, arg any) error {
		got = append(got, "first")
		tq.Add(queue.NewTask(second, nil))
		return nil
	}, nil))

	require.Equal(t, 1, tq.DrainQueue(0))
	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, 1, tq.Len())

	tq.DrainQueue(0)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestRequeue(t *testing.T) {
	tq := queue.NewTaskQueue(zap.NewNop())
	attempts := 0
	tq.Add(queue.NewTask(func(now clock.Time, arg any) error {
		attempts++
		if attempts < 3 {
			return custom_err.ErrorRequeueTask
		}
		return nil
	}, nil))

	tq.DrainQueue(0)
	tq.DrainQueue(0)
	assert.Equal(t, 1, tq.Len())
	tq.DrainQueue(0)
	assert.Equal(t, 0, tq.Len())
	assert.Equal(t, 3, attempts)
}

func TestFailedTaskIsDropped(t *testing.T) {
	tq := queue.NewTaskQueue(zap.NewNop())
	tq.Add(queue.NewTask(func(now clock.Time, arg any) error {
		return errors.New("boom")
	}, nil))

	tq.DrainQueue(0)
	assert.Equal(t, 0, tq.Len())
}

func TestTaskSeesDrainTime(t *testing.T) {
	tq := queue.NewTaskQueue(zap.NewNop())
	var seen clock.Time
	tq.Add(queue.NewTask(func(now clock.Time, arg any) error {
		seen = now
		return nil
	}, nil))

	tq.DrainQueue(42)
	assert.Equal(t, clock.Time(42), seen)
}
