// Package tasksystem implements the fixed-size worker pool and per-worker
// work-stealing notification queues that every other concurrent component in
// this module (the async map, the executor, the CAS's uplink closures) runs
// its work on. See spec.md §4.1 and §5.
package tasksystem

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// numberOfAttempts bounds how many non-blocking try_push passes QueueTask
// makes across the ring of queues before giving up and blocking on the
// queue the ring started at, matching task_system.hpp's kNumberOfAttempts.
const numberOfAttempts = 5

// TaskSystem is a process-wide pool of worker goroutines. All analysis and
// execution work in this module is queued onto one.
type TaskSystem struct {
	queues   []*notificationQueue
	workload *waitableZeroCounter
	index    atomic.Uint64
	shutdown atomic.Bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New starts a TaskSystem with n worker goroutines. n<=0 means
// runtime.NumCPU(), floored at 1.
func New(n int, logger *slog.Logger) *TaskSystem {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ts := &TaskSystem{
		workload: newWaitableZeroCounter(n),
		logger:   logger,
	}
	ts.queues = make([]*notificationQueue, n)
	for i := range ts.queues {
		ts.queues[i] = newNotificationQueue(ts.workload)
	}
	ts.wg.Add(n)
	for i := 0; i < n; i++ {
		go ts.run(i)
	}
	logger.Debug("task system started", "workers", n)
	return ts
}

// NumberOfThreads returns the worker count.
func (ts *TaskSystem) NumberOfThreads() int { return len(ts.queues) }

// QueueTask enqueues t. It first makes numberOfAttempts non-blocking passes
// over the ring of queues starting at a rotating index, then blocks pushing
// onto the queue at that starting index — matching TaskSystem::QueueTask.
func (ts *TaskSystem) QueueTask(t Task) {
	n := len(ts.queues)
	idx := int(ts.index.Add(1) - 1)
	for i := 0; i < n*numberOfAttempts; i++ {
		if ts.queues[(idx+i)%n].tryPush(t) {
			return
		}
	}
	ts.queues[idx%n].push(t)
}

// Finish blocks until every queue is empty and every worker is idle.
func (ts *TaskSystem) Finish() {
	ts.workload.WaitForZero()
}

// Shutdown stops accepting meaningful work: it aborts the quiescence
// counter and marks every queue done, so blocked workers wake up and drain
// out. Tasks already running are allowed to finish.
func (ts *TaskSystem) Shutdown() {
	ts.shutdown.Store(true)
	ts.workload.Abort()
	for _, q := range ts.queues {
		q.markDone()
	}
	ts.wg.Wait()
}

func (ts *TaskSystem) run(idx int) {
	defer ts.wg.Done()
	n := len(ts.queues)
	for !ts.shutdown.Load() {
		var (
			t  Task
			ok bool
		)
		for i := 0; i < n; i++ {
			if t, ok = ts.queues[(idx+i)%n].tryPop(); ok {
				break
			}
		}
		if !ok {
			t, ok = ts.queues[idx].pop()
		}
		if !ok || ts.shutdown.Load() {
			return
		}
		t()
	}
}
