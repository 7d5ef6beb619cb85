package queue

import (
	"errors"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	fifo "github.com/eapache/queue"
	"go.uber.org/zap"
)

type Task struct {
	callback func(now clock.Time, arg any) error
	arg      any
}

func NewTask(cb func(now clock.Time, arg any) error, arg any) Task {
	return Task{
		callback: cb,
		arg:      arg,
	}
}

func (task Task) Execute(now clock.Time) error {
	return task.callback(now, task.arg)
}

// TaskQueue holds work that must not run inside the dispatch that produced it.
// It is owned by a single reactor and is not safe for concurrent use.
type TaskQueue struct {
	tasks *fifo.Queue
	log   *zap.Logger
}

func NewTaskQueue(log *zap.Logger) *TaskQueue {
	return &TaskQueue{
		tasks: fifo.New(),
		log:   log,
	}
}

func (tq *TaskQueue) Add(task Task) {
	tq.tasks.Add(task)
}

func (tq *TaskQueue) Len() int {
	return tq.tasks.Length()
}

// DrainQueue runs the tasks that were queued when it was called. Tasks added
// while draining, and tasks that ask to be requeued, wait for the next drain.
func (tq *TaskQueue) DrainQueue(now clock.Time) int {
	count := tq.tasks.Length()
	for i := 0; i < count; i++ {
		task := tq.tasks.Remove().(Task)
		err := task.Execute(now)
		if err == nil {
			continue
		}
		if errors.Is(err, custom_err.ErrorRequeueTask) {
			tq.tasks.Add(task)
			continue
		}
		tq.log.Warn("deferred task failed", zap.Error(err))
	}
	return count
}
