package event

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrHandlerNotFound is returned by an Invoker when a handler name does not
// resolve to a callable function.
var ErrHandlerNotFound = errors.New("handler not found")

// Invoker resolves a handler by name and runs it to completion, including any
// asynchronous work it starts. The returned value is the handler's first
// return value converted to Go.
type Invoker interface {
	Invoke(ctx context.Context, handler string, payload map[string]any) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, handler string, payload map[string]any) (any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, handler string, payload map[string]any) (any, error) {
	return f(ctx, handler, payload)
}

// HandlerError records a failed handler.
type HandlerError struct {
	Event   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("event %s: handler %s: %v", e.Event, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Outcome summarises one dispatch.
type Outcome struct {
	Event string

	// Cancelled is true when a handler of a cancelable event asked the host
	// to abort the action.
	Cancelled bool

	// CancelledBy names the first handler that cancelled.
	CancelledBy string

	Invoked int
	Failed  int
	Skipped int

	Errors   []error
	Duration time.Duration
}

// Dispatcher delivers events to registered handlers one at a time.
type Dispatcher struct {
	surface       *Surface
	registry      *Registry
	invoker       Invoker
	logger        *zap.Logger
	cancelOnError bool

	// Stats
	dispatched atomic.Uint64
	invoked    atomic.Uint64
	failed     atomic.Uint64
	skipped    atomic.Uint64
	cancelled  atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCancelOnError makes a failing handler cancel a cancelable event.
func WithCancelOnError(enabled bool) Option {
	return func(d *Dispatcher) {
		d.cancelOnError = enabled
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher over registry. A nil surface treats
// every event as informational.
func NewDispatcher(surface *Surface, registry *Registry, invoker Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		surface:  surface,
		registry: registry,
		invoker:  invoker,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs every handler registered for name in registration order.
// Each handler finishes before the next starts. A failing handler is logged
// and dispatch moves on. If ctx is done between handlers the rest are
// skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload map[string]any) Outcome {
	start := time.Now()
	d.dispatched.Add(1)

	out := Outcome{Event: name}
	cancelable := d.surface != nil && d.surface.Cancelable(name)
	handlers := d.registry.Handlers(name)

	for i, handler := range handlers {
		if err := ctx.Err(); err != nil {
			skipped := len(handlers) - i
			out.Skipped += skipped
			d.skipped.Add(uint64(skipped))
			out.Errors = append(out.Errors, err)
			break
		}

		ret, err := d.invoker.Invoke(ctx, handler, payload)
		switch {
		case errors.Is(err, ErrHandlerNotFound):
			out.Skipped++
			d.skipped.Add(1)
			d.logger.Warn("event handler is not a function",
				zap.String("event", name), zap.String("handler", handler))
			continue
		case err != nil:
			out.Invoked++
			out.Failed++
			d.invoked.Add(1)
			d.failed.Add(1)
			herr := &HandlerError{Event: name, Handler: handler, Err: err}
			out.Errors = append(out.Errors, herr)
			d.logger.Error("event handler failed",
				zap.String("event", name), zap.String("handler", handler), zap.Error(err))
			if cancelable && d.cancelOnError {
				out.cancel(handler)
			}
			continue
		}

		out.Invoked++
		d.invoked.Add(1)
		if cancelable && isCancel(ret) {
			out.cancel(handler)
		}
	}

	if out.Cancelled {
		d.cancelled.Add(1)
		d.logger.Debug("event cancelled",
			zap.String("event", name), zap.String("handler", out.CancelledBy))
	}
	out.Duration = time.Since(start)
	return out
}

func (o *Outcome) cancel(handler string) {
	if !o.Cancelled {
		o.Cancelled = true
		o.CancelledBy = handler
	}
}

// isCancel reports whether a handler result is an explicit false.
func isCancel(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

// Stats returns dispatch statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Invoked:    d.invoked.Load(),
		Failed:     d.failed.Load(),
		Skipped:    d.skipped.Load(),
		Cancelled:  d.cancelled.Load(),
	}
}

// Stats contains dispatcher counters.
type Stats struct {
	// Dispatched is the number of Dispatch calls.
	Dispatched uint64

	// Invoked counts handlers that ran, including failed ones.
	Invoked uint64

	// Failed counts handlers that raised an error.
	Failed uint64

	// Skipped counts unresolved handlers and handlers skipped after ctx ended.
	Skipped uint64

	// Cancelled counts dispatches that ended cancelled.
	Cancelled uint64
}
