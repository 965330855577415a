package asyncmap

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/buildforge/justb/internal/tasksystem"
)

func TestAtMostOnceProduction(t *testing.T) {
	ts := tasksystem.New(4, nil)
	defer ts.Shutdown()

	var calls atomic.Int64
	m := New[string, int](func(
		ts *tasksystem.TaskSystem,
		setter func(int),
		logger Logger,
		sub SubCaller[string, int],
		key string,
	) {
		calls.Add(1)
		setter(len(key))
	}, 2)

	done := make(chan int, 10)
	for i := 0; i < 10; i++ {
		m.ConsumeAfterKeysReady(ts, []string{"hello"}, func(vs []int) {
			done <- vs[0]
		}, func(string, bool) {}, nil)
	}
	ts.Finish()

	for i := 0; i < 10; i++ {
		if v := <-done; v != 5 {
			t.Fatalf("value = %d, want 5", v)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("evaluator ran %d times, want exactly 1", calls.Load())
	}
}

func TestFatalLogTriggersFailure(t *testing.T) {
	ts := tasksystem.New(2, nil)
	defer ts.Shutdown()

	m := New[string, int](func(
		ts *tasksystem.TaskSystem,
		setter func(int),
		logger Logger,
		sub SubCaller[string, int],
		key string,
	) {
		logger("boom", true)
	}, 2)

	failed := make(chan error, 1)
	m.ConsumeAfterKeysReady(ts, []string{"x"}, func(vs []int) {
		t.Fatal("consumer must not run after a fatal failure")
	}, func(string, bool) {}, func() {
		failed <- errors.New("boom")
	})
	ts.Finish()

	select {
	case <-failed:
	default:
		t.Fatal("failure function never ran")
	}
}
