package sandbox

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// pendingTimer is one queued setTimeout/setInterval callback. The example
// pack carries no fake-timer library for any language goja hosts, so this is
// a small stdlib-only scheduler rather than an adapted third-party one; see
// DESIGN.md for that justification.
type pendingTimer struct {
	id       int64
	due      int64
	interval int64
	repeat   bool
	cleared  bool
	fn       goja.Callable
	args     []goja.Value
}

// FakeTimers is the sandbox's timer control surface: a virtual clock that
// setTimeout/setInterval register against instead of the real wall clock
// once UseFakeTimers is called (spec.md §4.2.7, §6).
type FakeTimers struct {
	vm *goja.Runtime

	mu      sync.Mutex
	fake    bool
	clock   int64
	nextID  int64
	pending map[int64]*pendingTimer
}

func newFakeTimers(vm *goja.Runtime) *FakeTimers {
	ft := &FakeTimers{vm: vm, pending: make(map[int64]*pendingTimer)}
	_ = vm.Set("setTimeout", ft.setTimeout(false))
	_ = vm.Set("setInterval", ft.setTimeout(true))
	_ = vm.Set("clearTimeout", ft.clear())
	_ = vm.Set("clearInterval", ft.clear())
	return ft
}

func (ft *FakeTimers) setTimeout(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(ft.vm.ToValue("setTimeout/setInterval requires a function as the first argument"))
		}
		delay := call.Argument(1).ToInteger()
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = call.Arguments[2:]
		}

		ft.mu.Lock()
		ft.nextID++
		id := ft.nextID
		t := &pendingTimer{id: id, due: ft.clock + delay, interval: delay, repeat: repeat, fn: fn, args: extra}
		ft.pending[id] = t
		ft.mu.Unlock()

		if !ft.fake {
			// Real-timer mode cannot call back into goja from this
			// goroutine directly (a goja.Runtime is not safe for
			// concurrent use), so the callback stays queued with a due
			// time ahead of the clock, and AfterFunc only marks it due
			// (due = 0) once the real delay has elapsed; the embedding
			// caller then fires it from its own goroutine, e.g. through
			// RunAllTicks.
			time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
				ft.mu.Lock()
				if tt, ok := ft.pending[id]; ok && !tt.cleared {
					tt.due = 0
				}
				ft.mu.Unlock()
			})
		}
		return ft.vm.ToValue(id)
	}
}

func (ft *FakeTimers) clear() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		ft.mu.Lock()
		if t, ok := ft.pending[id]; ok {
			t.cleared = true
			delete(ft.pending, id)
		}
		ft.mu.Unlock()
		return goja.Undefined()
	}
}

func (ft *FakeTimers) sortedDue() []*pendingTimer {
	ft.mu.Lock()
	out := make([]*pendingTimer, 0, len(ft.pending))
	for _, t := range ft.pending {
		if !t.cleared {
			out = append(out, t)
		}
	}
	ft.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].due < out[j].due })
	return out
}

func (ft *FakeTimers) fire(t *pendingTimer) {
	if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
		panic(err)
	}
	if t.repeat && !t.cleared {
		ft.mu.Lock()
		t.due += t.interval
		ft.mu.Unlock()
	} else {
		ft.mu.Lock()
		delete(ft.pending, t.id)
		ft.mu.Unlock()
	}
}

// RunAllTicks runs every timer due at or before the current virtual clock
// value without advancing it further.
func (ft *FakeTimers) RunAllTicks() {
	for _, t := range ft.sortedDue() {
		ft.mu.Lock()
		due := t.due <= ft.clock
		ft.mu.Unlock()
		if due {
			ft.fire(t)
		}
	}
}

// RunAllImmediates fires every currently queued timer exactly once each,
// regardless of due time, mirroring a single macrotask drain. A repeating
// timer stays queued with its due time advanced by one interval.
func (ft *FakeTimers) RunAllImmediates() {
	for _, t := range ft.sortedDue() {
		ft.fire(t)
	}
}

// RunAllTimers advances the virtual clock and fires timers in due order
// until the queue is empty, bounded so a runaway setInterval chain cannot
// loop forever.
func (ft *FakeTimers) RunAllTimers() {
	const maxIterations = 100000
	for i := 0; i < maxIterations; i++ {
		due := ft.sortedDue()
		if len(due) == 0 {
			return
		}
		next := due[0]
		ft.mu.Lock()
		ft.clock = next.due
		ft.mu.Unlock()
		ft.fire(next)
	}
	panic(ft.vm.ToValue("Aborting after running " + fmt.Sprint(maxIterations) +
		" timers, assuming an infinite loop"))
}

// RunOnlyPendingTimers fires exactly the timers pending as of this call,
// without chasing ones a repeat re-queues during the run.
func (ft *FakeTimers) RunOnlyPendingTimers() {
	due := ft.sortedDue()
	for _, t := range due {
		ft.mu.Lock()
		ft.clock = t.due
		ft.mu.Unlock()
		ft.fire(t)
	}
}

// ClearAllTimers drops every pending timer without firing it.
func (ft *FakeTimers) ClearAllTimers() {
	ft.mu.Lock()
	ft.pending = make(map[int64]*pendingTimer)
	ft.mu.Unlock()
}

// UseFakeTimers switches setTimeout/setInterval onto the virtual clock.
func (ft *FakeTimers) UseFakeTimers() {
	ft.mu.Lock()
	ft.fake = true
	ft.clock = 0
	ft.mu.Unlock()
}

// UseRealTimers switches back to the wall clock and drops anything queued
// under the fake one, matching Jest's documented behavior for the switch.
func (ft *FakeTimers) UseRealTimers() {
	ft.mu.Lock()
	ft.fake = false
	ft.pending = make(map[int64]*pendingTimer)
	ft.mu.Unlock()
}

// MockClearTimers is the optional capability runtime.ResetModuleRegistry
// probes for via an interface check; it clears the queue the same way
// ClearAllTimers does.
func (ft *FakeTimers) MockClearTimers() {
	ft.ClearAllTimers()
}
