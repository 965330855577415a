package asyncmap

import (
	"sync/atomic"
	"testing"

	"github.com/buildforge/justb/internal/tasksystem"
)

// TestFibonacciViaSubCaller implements scenario A from spec.md §8: an
// evaluator for integer key k that sets 0/1 for k=0/1 and otherwise
// sub-calls {k-2, k-1} before setting their sum. Consuming key 92 must
// yield 7540113804746346429 without invoking the evaluator more than 93
// times (invariant 1: at most once per key).
func TestFibonacciViaSubCaller(t *testing.T) {
	ts := tasksystem.New(4, nil)
	defer ts.Shutdown()

	var calls atomic.Int64

	var m *Map[int, uint64]
	creator := func(
		ts *tasksystem.TaskSystem,
		setter func(uint64),
		logger Logger,
		subCaller SubCaller[int, uint64],
		key int,
	) {
		calls.Add(1)
		if key == 0 {
			setter(0)
			return
		}
		if key == 1 {
			setter(1)
			return
		}
		subCaller([]int{key - 2, key - 1}, func(vs []uint64) {
			setter(vs[0] + vs[1])
		}, logger)
	}
	m = New[int, uint64](creator, 4)

	result := make(chan uint64, 1)
	m.ConsumeAfterKeysReady(ts, []int{92}, func(vs []uint64) {
		result <- vs[0]
	}, func(string, bool) {}, nil)

	ts.Finish()

	select {
	case got := <-result:
		if got != 7540113804746346429 {
			t.Fatalf("fib(92) = %d, want 7540113804746346429", got)
		}
	default:
		t.Fatal("consumer never ran")
	}

	if n := calls.Load(); n > 93 {
		t.Fatalf("evaluator ran %d times, want <= 93", n)
	}
}
