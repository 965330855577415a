package asyncmap

import (
	"sync"

	"github.com/buildforge/justb/internal/tasksystem"
)

// Logger receives diagnostics from a ValueCreator. fatal=true transitions
// the producing node to Failed and cascades through every waiting
// continuation's failure function, per spec.md §7.
type Logger func(msg string, fatal bool)

// SubCaller lets a ValueCreator express a data dependency on other keys of
// the same map, recursively. It behaves exactly like ConsumeAfterKeysReady
// except that it also records the calling key's dependency edges for cycle
// detection and propagates the calling chain's failure function.
type SubCaller[K comparable, V any] func(keys []K, consumer func([]V), logger Logger)

// ValueCreator produces the value for key, reporting it through setter,
// diagnostics through logger, and declaring dependencies through subCaller.
type ValueCreator[K comparable, V any] func(
	ts *tasksystem.TaskSystem,
	setter func(V),
	logger Logger,
	subCaller SubCaller[K, V],
	key K,
)

// Map is the async-map consumer from spec.md §4.3: continuation-passing
// memoisation with at-most-once production (invariant 1), consistent
// observed values (invariant 2), and lazy cycle detection over the
// consumer->dependency request graph.
type Map[K comparable, V any] struct {
	creator ValueCreator[K, V]
	m       *shardedMap[K, V]

	reqMu    sync.Mutex
	requests map[K]map[K]struct{} // consumer key -> set of dependency keys requested
}

// New builds a Map whose ValueCreator is creator. jobs sizes the shard
// table (0 = default of 2*NumCPU+1, via shardedMap's own default).
func New[K comparable, V any](creator ValueCreator[K, V], jobs int) *Map[K, V] {
	return &Map[K, V]{
		creator:  creator,
		m:        newShardedMap[K, V](jobs),
		requests: make(map[K]map[K]struct{}),
	}
}

// ConsumeAfterKeysReady enqueues consumer(values) once every key's value is
// ready, in the order keys were given. If fail is non-nil it runs instead of
// consumer, exactly once, if any dependency key fails.
func (m *Map[K, V]) ConsumeAfterKeysReady(
	ts *tasksystem.TaskSystem,
	keys []K,
	consumer func([]V),
	logger Logger,
	fail func(),
) {
	m.consumeAfterKeysReady(ts, nil, keys, consumer, logger, fail)
}

func (m *Map[K, V]) consumeAfterKeysReady(
	ts *tasksystem.TaskSystem,
	consumerID *K,
	keys []K,
	consumer func([]V),
	logger Logger,
	fail func(),
) {
	if len(keys) == 0 {
		ts.QueueTask(func() { consumer(nil) })
		return
	}

	nodes := make([]*node[K, V], len(keys))
	for i, k := range keys {
		nodes[i] = m.ensureValuePresent(ts, k, logger)
	}

	first := nodes[0]
	if fail != nil {
		first.QueueOnFailure(ts, fail)
	}
	queued := first.AddOrQueueAwaitingTask(ts, func() {
		m.queueTaskWhenAllReady(ts, consumerID, consumer, fail, nodes, 1)
	})
	if consumerID != nil && !queued {
		m.recordRequest(*consumerID, first)
	}
}

func (m *Map[K, V]) queueTaskWhenAllReady(
	ts *tasksystem.TaskSystem,
	consumerID *K,
	consumer func([]V),
	fail func(),
	nodes []*node[K, V],
	pos int,
) {
	if pos == len(nodes) {
		ts.QueueTask(func() {
			values := make([]V, len(nodes))
			for i, n := range nodes {
				values[i] = n.Value()
			}
			consumer(values)
		})
		return
	}
	cur := nodes[pos]
	if fail != nil {
		cur.QueueOnFailure(ts, fail)
	}
	queued := cur.AddOrQueueAwaitingTask(ts, func() {
		m.queueTaskWhenAllReady(ts, consumerID, consumer, fail, nodes, pos+1)
	})
	if consumerID != nil && !queued {
		m.recordRequest(*consumerID, cur)
	}
}

// ensureValuePresent retrieves key's node and, the first time it is
// requested, queues the processing task that invokes the ValueCreator.
func (m *Map[K, V]) ensureValuePresent(ts *tasksystem.TaskSystem, key K, logger Logger) *node[K, V] {
	n := m.m.GetOrCreateNode(key)

	setter := func(v V) { n.SetAndQueueAwaitingTasks(ts, v) }
	fail := func() { n.Fail(ts) }
	wrappedLogger := func(msg string, fatal bool) {
		if fatal {
			n.Fail(ts)
		}
		if logger != nil {
			logger(msg, fatal)
		}
	}
	subCaller := func(keys []K, consumer func([]V), subLogger Logger) {
		m.consumeAfterKeysReady(ts, &key, keys, consumer, subLogger, fail)
	}

	n.QueueOnceProcessingTask(ts, func() {
		m.creator(ts, setter, wrappedLogger, subCaller, key)
	})
	return n
}

func (m *Map[K, V]) recordRequest(consumer K, dep *node[K, V]) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	deps, ok := m.requests[consumer]
	if !ok {
		deps = make(map[K]struct{})
		m.requests[consumer] = deps
	}
	deps[dep.Key()] = struct{}{}
}

// PendingKeys enumerates every key whose node has not yet become ready.
func (m *Map[K, V]) PendingKeys() []K {
	return m.m.PendingKeys()
}

// DetectCycle performs a DFS over the recorded consumer->dependency request
// graph and returns the first cycle found as an ordered key list whose last
// element repeats the first, or nil if none is found.
func (m *Map[K, V]) DetectCycle() []K {
	m.reqMu.Lock()
	// Snapshot to avoid holding the lock during DFS.
	graph := make(map[K][]K, len(m.requests))
	for c, deps := range m.requests {
		list := make([]K, 0, len(deps))
		for d := range deps {
			list = append(list, d)
		}
		graph[c] = list
	}
	m.reqMu.Unlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[K]int, len(graph))
	var path []K
	var cycle []K

	var visit func(k K) bool
	visit = func(k K) bool {
		color[k] = gray
		path = append(path, k)
		for _, d := range graph[k] {
			switch color[d] {
			case white:
				if visit(d) {
					return true
				}
			case gray:
				// Found the back edge k -> d; extract the cycle from path.
				idx := -1
				for i, p := range path {
					if p == d {
						idx = i
						break
					}
				}
				if idx >= 0 {
					cycle = append([]K{}, path[idx:]...)
					cycle = append(cycle, d)
				}
				return true
			}
		}
		color[k] = black
		path = path[:len(path)-1]
		return false
	}

	for k := range graph {
		if color[k] == white {
			if visit(k) {
				return cycle
			}
		}
	}
	return nil
}

// Clear discards every node, for tests that need a fresh map between
// scenarios without reconstructing the ValueCreator closure.
func (m *Map[K, V]) Clear() {
	m.m.Clear()
	m.reqMu.Lock()
	m.requests = make(map[K]map[K]struct{})
	m.reqMu.Unlock()
}
