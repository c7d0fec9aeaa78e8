package batcher

import (
	"github.com/zeromicro/go-zero/core/threading"
)

// Dispatcher decides where an extracted batch is executed
type Dispatcher interface {
	Dispatch(task func())
	// Wait blocks until every dispatched task has returned
	Wait()
}

// InlineDispatcher runs the task on the calling goroutine
type InlineDispatcher struct{}

// Dispatch runs task immediately
func (InlineDispatcher) Dispatch(task func()) {
	task()
}

// Wait returns immediately
func (InlineDispatcher) Wait() {}

// PoolDispatcher runs tasks on a bounded set of goroutines.
// Dispatch blocks while all workers are busy.
type PoolDispatcher struct {
	runner *threading.TaskRunner
}

// NewPoolDispatcher creates a dispatcher with the given concurrency
func NewPoolDispatcher(concurrency int) *PoolDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PoolDispatcher{
		runner: threading.NewTaskRunner(concurrency),
	}
}

// Dispatch schedules task on the pool
func (p *PoolDispatcher) Dispatch(task func()) {
	p.runner.Schedule(task)
}

// Wait blocks until all scheduled tasks are done
func (p *PoolDispatcher) Wait() {
	p.runner.Wait()
}
