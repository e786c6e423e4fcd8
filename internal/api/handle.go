// Package api implements the handle-polling submit/poll surface §5
// requires for any call originating from a platform thread: submit(op)
// returns immediately with a Handle, poll(handle) returns Pending or
// Ready(result) without ever blocking the caller's thread. It is
// modeled on the teacher's UAPI request/response-over-a-boundary shape,
// generalized from a text protocol to in-process handles.
package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitcraps/bitcraps/internal/faults"
)

// Handle identifies one submitted operation.
type Handle uint64

// Status is a poll result's state.
type Status int

const (
	StatusPending Status = iota
	StatusReady
)

// Result is what poll returns once an operation completes.
type Result struct {
	Status Status
	Value  any
	Err    error
}

// DefaultTimeout is §5's 5-second default timeout, the bound Await
// applies when it is given no timeout of its own. Poll never times
// out: an operation stays Pending there until it finishes.
const DefaultTimeout = 5 * time.Second

type entry struct {
	done  chan struct{}
	value any
	err   error
}

// Executor runs submitted operations on its own goroutine per call and
// exposes their outcome through Handle/poll, so platform callbacks
// (BLE bridge) never block waiting on the core.
type Executor struct {
	mu      sync.Mutex
	next    atomic.Uint64
	entries map[Handle]*entry
}

func NewExecutor() *Executor {
	return &Executor{entries: make(map[Handle]*entry)}
}

// Submit starts op in a new goroutine and returns a Handle
// immediately. op must itself be non-blocking beyond ordinary I/O —
// the core's own suspension points (§5) are channel/timer waits, never
// indefinite blocks.
func (e *Executor) Submit(op func() (any, error)) Handle {
	h := Handle(e.next.Add(1))
	ent := &entry{done: make(chan struct{})}

	e.mu.Lock()
	e.entries[h] = ent
	e.mu.Unlock()

	go func() {
		ent.value, ent.err = op()
		close(ent.done)
	}()
	return h
}

// Poll is non-blocking: StatusPending if op hasn't finished, StatusReady
// with the result otherwise. The entry is retained until Forget is
// called so a slow platform caller can poll more than once.
func (e *Executor) Poll(h Handle) Result {
	e.mu.Lock()
	ent, ok := e.entries[h]
	e.mu.Unlock()
	if !ok {
		return Result{Status: StatusReady, Err: faults.New(faults.CodeUnsupportedPlatform, "unknown handle %d", h)}
	}
	select {
	case <-ent.done:
		return Result{Status: StatusReady, Value: ent.value, Err: ent.err}
	default:
		return Result{Status: StatusPending}
	}
}

// Await polls until Ready or timeout elapses, for callers that are
// already off the platform thread (tests, CLI) and can afford to wait.
// A zero timeout uses DefaultTimeout.
func (e *Executor) Await(h Handle, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e.mu.Lock()
	ent, ok := e.entries[h]
	e.mu.Unlock()
	if !ok {
		return Result{Status: StatusReady, Err: faults.New(faults.CodeUnsupportedPlatform, "unknown handle %d", h)}
	}
	select {
	case <-ent.done:
		return Result{Status: StatusReady, Value: ent.value, Err: ent.err}
	case <-time.After(timeout):
		return Result{Status: StatusReady, Err: faults.New(faults.CodeOperationTimeout, "operation %d timed out after %s", h, timeout)}
	}
}

// Forget releases a handle's resources once the caller is done polling it.
func (e *Executor) Forget(h Handle) {
	e.mu.Lock()
	delete(e.entries, h)
	e.mu.Unlock()
}
