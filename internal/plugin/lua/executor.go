package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Call is an entry point queued on an Executor.
type Call struct {
	Name string
	Fn   func(L *lua.LState) error

	done chan struct{}
	err  error
}

// Done is closed when the call has finished or was discarded.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Err returns the call result. Valid after Done is closed.
func (c *Call) Err() error {
	return c.err
}

// Wait blocks until the call finishes or ctx is done.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

func (c *Call) finish(err error) {
	c.err = err
	close(c.done)
}

// Executor is the mailbox of the goroutine that owns a Lua state.
//
// It holds two unbounded queues. Calls are entry points and run one at a
// time, each to completion. Wakeups are continuations posted from any
// goroutine; they run between calls and while a call waits in PumpUntil.
// Posting never blocks the poster.
//
// Usage:
//
//	exec := NewExecutor(L)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	// From any goroutine:
//	call, err := exec.Submit("load", func(L *lua.LState) error {
//	    return L.DoString(src)
//	})
type Executor struct {
	L      *lua.LState
	logger *zap.Logger

	mu      sync.Mutex
	calls   []*Call
	wakeups []func()
	closed  bool

	signal  chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates a new Executor for the given Lua state.
func NewExecutor(L *lua.LState, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		L:       L,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (e *Executor) notify() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// Submit queues an entry point and returns immediately.
func (e *Executor) Submit(name string, fn func(L *lua.LState) error) (*Call, error) {
	call := &Call{Name: name, Fn: fn, done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	e.calls = append(e.calls, call)
	e.mu.Unlock()

	e.notify()
	return call, nil
}

// Execute queues an entry point and waits for it.
func (e *Executor) Execute(ctx context.Context, name string, fn func(L *lua.LState) error) error {
	call, err := e.Submit(name, fn)
	if err != nil {
		return err
	}
	return call.Wait(ctx)
}

// Wake posts a continuation. It returns false once the executor is closed.
func (e *Executor) Wake(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wakeups = append(e.wakeups, fn)
	e.mu.Unlock()

	e.notify()
	return true
}

// Run processes the mailbox until ctx is done or Close is called.
// MUST be called from the goroutine that owns the Lua state.
func (e *Executor) Run(ctx context.Context) {
	defer close(e.stopped)
	defer e.discard()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		e.Pump()

		if call := e.nextCall(); call != nil {
			call.finish(e.runCall(call))
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.signal:
		}
	}
}

// Pump runs queued wakeups, including ones posted while pumping, and
// returns how many ran. Only the owner goroutine may call it.
func (e *Executor) Pump() int {
	n := 0
	for {
		e.mu.Lock()
		batch := e.wakeups
		e.wakeups = nil
		e.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			e.runWakeup(fn)
			n++
		}
	}
}

// PumpUntil runs wakeups until cond reports true. It returns
// ErrExecutorClosed if the executor stops first. Only the owner goroutine
// may call it, from inside a call.
func (e *Executor) PumpUntil(cond func() bool) error {
	for {
		e.Pump()
		if cond() {
			return nil
		}
		select {
		case <-e.stop:
			e.Pump()
			if cond() {
				return nil
			}
			return ErrExecutorClosed
		case <-e.signal:
		}
	}
}

func (e *Executor) nextCall() *Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.calls) == 0 {
		return nil
	}
	call := e.calls[0]
	e.calls[0] = nil
	e.calls = e.calls[1:]
	return call
}

// runCall runs a single entry point with panic recovery.
func (e *Executor) runCall(call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
			e.logger.Error("lua call panicked", zap.String("call", call.Name), zap.Error(err))
		}
	}()
	return call.Fn(e.L)
}

func (e *Executor) runWakeup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua wakeup panicked", zap.Error(recoveredError(r)))
		}
	}()
	fn()
}

func recoveredError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("lua panic: %v", v)
	}
}

// discard fails every call still queued.
func (e *Executor) discard() {
	e.mu.Lock()
	e.closed = true
	calls := e.calls
	e.calls = nil
	e.wakeups = nil
	e.mu.Unlock()

	for _, call := range calls {
		call.finish(ErrExecutorClosed)
	}
}

// Close stops the executor. Calls still queued finish with
// ErrExecutorClosed. The running call, if any, is not interrupted.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.stop)
	})
}

// Stopped is closed when Run has returned.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stopped
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Pending returns the number of queued calls and wakeups.
func (e *Executor) Pending() (calls, wakeups int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls), len(e.wakeups)
}
