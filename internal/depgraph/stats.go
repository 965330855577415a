package depgraph

import "sync/atomic"

// Statistics tracks the queued/cached/executed/flaky action counters named
// in spec.md §4.7 item 6, grounded on original_source's common/statistics.hpp.
// internal/metrics exposes these as Prometheus gauges; this type is the
// plain in-process counter the executor increments directly on the hot
// path, independent of whether a metrics exporter is wired in.
type Statistics struct {
	actionsQueued           atomic.Int64
	actionsCached           atomic.Int64
	actionsExecuted         atomic.Int64
	actionsFlaky            atomic.Int64
	actionsFlakyTainted     atomic.Int64
	rebuiltActionsCompared  atomic.Int64
	rebuiltActionsMissing   atomic.Int64
}

func NewStatistics() *Statistics { return &Statistics{} }

func (s *Statistics) IncrementActionsQueuedCounter()          { s.actionsQueued.Add(1) }
func (s *Statistics) IncrementActionsCachedCounter()          { s.actionsCached.Add(1) }
func (s *Statistics) IncrementActionsExecutedCounter()        { s.actionsExecuted.Add(1) }
func (s *Statistics) IncrementActionsFlakyCounter()           { s.actionsFlaky.Add(1) }
func (s *Statistics) IncrementActionsFlakyTaintedCounter()    { s.actionsFlakyTainted.Add(1) }
func (s *Statistics) IncrementRebuiltActionComparedCounter()  { s.rebuiltActionsCompared.Add(1) }
func (s *Statistics) IncrementRebuiltActionMissingCounter()   { s.rebuiltActionsMissing.Add(1) }

func (s *Statistics) ActionsQueued() int64          { return s.actionsQueued.Load() }
func (s *Statistics) ActionsCached() int64          { return s.actionsCached.Load() }
func (s *Statistics) ActionsExecuted() int64        { return s.actionsExecuted.Load() }
func (s *Statistics) ActionsFlaky() int64           { return s.actionsFlaky.Load() }
func (s *Statistics) ActionsFlakyTainted() int64    { return s.actionsFlakyTainted.Load() }
func (s *Statistics) RebuiltActionsCompared() int64 { return s.rebuiltActionsCompared.Load() }
func (s *Statistics) RebuiltActionsMissing() int64  { return s.rebuiltActionsMissing.Load() }
