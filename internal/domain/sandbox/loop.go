package sandbox

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

// task is a callback posted from another goroutine. It only runs if its
// generation is still the current execution.
type task struct {
	gen uint64
	fn  func()
}

// taskQueue is an unbounded FIFO with a wake-up signal
type taskQueue struct {
	mu    sync.Mutex
	tasks []task
	wake  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

func (q *taskQueue) post(gen uint64, fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task{gen: gen, fn: fn})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = task{}
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *taskQueue) clear() {
	q.mu.Lock()
	q.tasks = nil
	q.mu.Unlock()
}

// timers backs setTimeout/clearTimeout. All fields are owned by the VM goroutine.
type timers struct {
	nextID  int64
	pending map[int64]*time.Timer
}

func (r *Runtime) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return r.vm.ToValue(0)
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.timers.nextID++
	id := r.timers.nextID
	gen := r.gen
	r.outstanding++

	r.timers.pending[id] = time.AfterFunc(delay, func() {
		r.queue.post(gen, func() {
			if _, live := r.timers.pending[id]; !live {
				return
			}
			delete(r.timers.pending, id)
			r.outstanding--
			if _, err := fn(goja.Undefined(), args...); err != nil {
				r.asyncFault(err)
			}
		})
	})
	return r.vm.ToValue(id)
}

func (r *Runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := r.timers.pending[id]; ok {
		t.Stop()
		delete(r.timers.pending, id)
		r.outstanding--
	}
	return goja.Undefined()
}

// never registers a callback that is never invoked (setInterval, requestAnimationFrame)
func (r *Runtime) never(call goja.FunctionCall) goja.Value {
	r.timers.nextID++
	return r.vm.ToValue(r.timers.nextID)
}

// dropTimers forgets every timer that has not fired yet
func (r *Runtime) dropTimers() {
	for id, t := range r.timers.pending {
		t.Stop()
		delete(r.timers.pending, id)
	}
}

// asyncFault records the first error thrown by a host callback
func (r *Runtime) asyncFault(err error) {
	if r.pendingFault == nil {
		r.pendingFault = fromError(r.vm, err)
		r.pendingFault.Async = true
	}
}
