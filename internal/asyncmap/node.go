// Package asyncmap implements the async memoisation fabric described in
// spec.md §4.2/§4.3: a sharded key->value map with at-most-once production,
// continuation queuing on not-yet-ready values, failure propagation, and
// cycle detection over the lazily-recorded consumer->dependency request
// graph. This is the fabric every analysis map (directory entries, JSON
// files, rules, targets, ...) in internal/repoconfig and internal/targetmap
// is built on top of.
package asyncmap

import (
	"sync"

	"github.com/buildforge/justb/internal/tasksystem"
)

// node wraps a single key's lifecycle: Created -> QueuedForProcessing ->
// (ValueSet | Failed). Transitions are one-way, per spec.md §3 "Async map
// node".
type node[K comparable, V any] struct {
	key K

	mu       sync.Mutex
	value    *V
	failed   bool
	queued   bool
	awaiting []tasksystem.Task
	onFail   []tasksystem.Task
}

func newNode[K comparable, V any](key K) *node[K, V] {
	return &node[K, V]{key: key}
}

// IsReady reports whether the node's value has been set. Not meaningful for
// a failed node (it stays false forever).
func (n *node[K, V]) IsReady() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value != nil
}

// IsFailed reports whether the node was marked failed.
func (n *node[K, V]) IsFailed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed
}

// SetAndQueueAwaitingTasks sets the node's value (unless already failed) and
// schedules every awaiting continuation onto ts. Safe to call at most
// meaningfully once; a second call on an already-failed node is a silent
// no-op per spec.md §4.3 "Failure discipline".
func (n *node[K, V]) SetAndQueueAwaitingTasks(ts *tasksystem.TaskSystem, value V) {
	n.mu.Lock()
	if n.failed || n.value != nil {
		n.mu.Unlock()
		return
	}
	n.value = &value
	awaiting := n.awaiting
	n.awaiting = nil
	n.onFail = nil
	n.mu.Unlock()

	for _, t := range awaiting {
		ts.QueueTask(t)
	}
}

// QueueOnceProcessingTask enqueues task exactly once across the node's
// lifetime; subsequent calls are no-ops. The once-flag is checked and set
// under the node's mutex, matching AsyncMapNode::QueueOnceProcessingTask.
func (n *node[K, V]) QueueOnceProcessingTask(ts *tasksystem.TaskSystem, task tasksystem.Task) {
	n.mu.Lock()
	if n.queued {
		n.mu.Unlock()
		return
	}
	n.queued = true
	n.mu.Unlock()
	ts.QueueTask(task)
}

// AddOrQueueAwaitingTask queues task immediately if the node is already
// ready, registers it to run once the node becomes ready otherwise, and
// drops it silently if the node has already failed. Returns whether it was
// queued immediately (used by the consumer to decide whether a
// cycle-detection edge needs recording).
func (n *node[K, V]) AddOrQueueAwaitingTask(ts *tasksystem.TaskSystem, task tasksystem.Task) bool {
	n.mu.Lock()
	if n.value != nil {
		n.mu.Unlock()
		ts.QueueTask(task)
		return true
	}
	if n.failed {
		n.mu.Unlock()
		return false
	}
	n.awaiting = append(n.awaiting, task)
	n.mu.Unlock()
	return false
}

// QueueOnFailure registers task to run if and when the node fails. If the
// node is already ready it will never fail, so the task is dropped; if
// already failed, task runs immediately.
func (n *node[K, V]) QueueOnFailure(ts *tasksystem.TaskSystem, task tasksystem.Task) {
	n.mu.Lock()
	if n.value != nil {
		n.mu.Unlock()
		return
	}
	if n.failed {
		n.mu.Unlock()
		ts.QueueTask(task)
		return
	}
	n.onFail = append(n.onFail, task)
	n.mu.Unlock()
}

// Fail marks the node Failed (unless it already has a value or was already
// failed), draining registered failure tasks onto ts and dropping all
// awaiting tasks for good.
func (n *node[K, V]) Fail(ts *tasksystem.TaskSystem) {
	n.mu.Lock()
	if n.value != nil || n.failed {
		n.mu.Unlock()
		return
	}
	n.failed = true
	onFail := n.onFail
	n.onFail = nil
	n.awaiting = nil
	n.mu.Unlock()

	for _, t := range onFail {
		ts.QueueTask(t)
	}
}

// Value returns the node's value. Only meaningful once IsReady() is true;
// callers in this module only ever reach it from a continuation scheduled
// after readiness, so no extra synchronization is required to observe it.
func (n *node[K, V]) Value() V {
	n.mu.Lock()
	defer n.mu.Unlock()
	return *n.value
}

// Key returns the node's key.
func (n *node[K, V]) Key() K { return n.key }
