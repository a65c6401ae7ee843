package event

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type call struct {
	handler string
	payload map[string]any
}

// fakeInvoker records calls and returns scripted results by handler name.
type fakeInvoker struct {
	calls   []call
	returns map[string]any
	fails   map[string]error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{returns: map[string]any{}, fails: map[string]error{}}
}

func (f *fakeInvoker) Invoke(ctx context.Context, handler string, payload map[string]any) (any, error) {
	f.calls = append(f.calls, call{handler, payload})
	if err, ok := f.fails[handler]; ok {
		return nil, err
	}
	return f.returns[handler], nil
}

func (f *fakeInvoker) order() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.handler
	}
	return out
}

func newTestDispatcher(t *testing.T, inv Invoker, opts ...Option) *Dispatcher {
	t.Helper()
	s, err := DefaultSurface()
	require.NoError(t, err)
	return NewDispatcher(s, NewRegistry(), inv, opts...)
}

func TestDispatchSaveScenario(t *testing.T) {
	payload := map[string]any{"buffer_id": 1, "path": "x.txt"}

	tests := []struct {
		name          string
		ret           any
		fail          error
		cancelOnError bool
		cancelled     bool
	}{
		{"nil result", nil, nil, false, false},
		{"true", true, nil, false, false},
		{"string", "ok", nil, false, false},
		{"zero", int64(0), nil, false, false},
		{"false", false, nil, false, true},
		{"throws", nil, errors.New("boom"), false, false},
		{"throws with cancel on error", nil, errors.New("boom"), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newFakeInvoker()
			inv.returns["A"] = tt.ret
			if tt.fail != nil {
				inv.fails["A"] = tt.fail
			}
			d := newTestDispatcher(t, inv, WithCancelOnError(tt.cancelOnError))
			d.Registry().On(BeforeFileSave, "A")

			out := d.Dispatch(context.Background(), BeforeFileSave, payload)

			require.Len(t, inv.calls, 1)
			assert.Equal(t, payload, inv.calls[0].payload)
			assert.Equal(t, tt.cancelled, out.Cancelled)
			assert.Equal(t, 1, out.Invoked)
			if tt.cancelled {
				assert.Equal(t, "A", out.CancelledBy)
			}
		})
	}
}

func TestDispatchThrowingHandlerCancelsWhenConfigured(t *testing.T) {
	inv := newFakeInvoker()
	inv.fails["A"] = errors.New("boom")

	d := newTestDispatcher(t, inv, WithCancelOnError(true))
	d.Registry().On(BeforeFileSave, "A")

	out := d.Dispatch(context.Background(), BeforeFileSave, map[string]any{"buffer_id": 1, "path": "x.txt"})
	assert.True(t, out.Cancelled)
	assert.Equal(t, "A", out.CancelledBy)
	assert.Equal(t, 1, out.Failed)
}

func TestDispatchThrowingHandlerDoesNotCancelByDefault(t *testing.T) {
	inv := newFakeInvoker()
	inv.fails["A"] = errors.New("boom")

	d := newTestDispatcher(t, inv)
	d.Registry().On(BeforeFileSave, "A")

	out := d.Dispatch(context.Background(), BeforeFileSave, nil)
	assert.False(t, out.Cancelled)
	require.Len(t, out.Errors, 1)

	var herr *HandlerError
	require.True(t, errors.As(out.Errors[0], &herr))
	assert.Equal(t, "A", herr.Handler)
}

func TestDispatchFalseIgnoredForInformationalEvent(t *testing.T) {
	inv := newFakeInvoker()
	inv.returns["A"] = false

	d := newTestDispatcher(t, inv)
	d.Registry().On(AfterFileSave, "A")

	out := d.Dispatch(context.Background(), AfterFileSave, nil)
	assert.False(t, out.Cancelled)
}

func TestDispatchAllHandlersRunDespiteFailure(t *testing.T) {
	const h = 5
	for failing := 0; failing < h; failing++ {
		t.Run(fmt.Sprintf("failing_%d", failing), func(t *testing.T) {
			inv := newFakeInvoker()
			d := newTestDispatcher(t, inv)

			var want []string
			for i := 0; i < h; i++ {
				name := fmt.Sprintf("h%d", i)
				d.Registry().On(AfterInsert, name)
				want = append(want, name)
			}
			inv.fails[want[failing]] = errors.New("handler error")

			out := d.Dispatch(context.Background(), AfterInsert, nil)

			assert.Equal(t, want, inv.order())
			assert.Equal(t, h, out.Invoked)
			assert.Equal(t, 1, out.Failed)
		})
	}
}

func TestDispatchFirstCancelWins(t *testing.T) {
	inv := newFakeInvoker()
	inv.returns["b"] = false
	inv.returns["c"] = false

	d := newTestDispatcher(t, inv)
	for _, name := range []string{"a", "b", "c"} {
		d.Registry().On(BeforeInsert, name)
	}

	out := d.Dispatch(context.Background(), BeforeInsert, nil)
	assert.True(t, out.Cancelled)
	assert.Equal(t, "b", out.CancelledBy)
	assert.Equal(t, []string{"a", "b", "c"}, inv.order(), "cancel does not stop later handlers")
}

func TestDispatchUnresolvedHandlerLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	inv := newFakeInvoker()
	inv.fails["ghost"] = fmt.Errorf("resolve ghost: %w", ErrHandlerNotFound)

	d := newTestDispatcher(t, inv, WithLogger(zap.New(core)))
	d.Registry().On(BufferClosed, "ghost")
	d.Registry().On(BufferClosed, "real")

	out := d.Dispatch(context.Background(), BufferClosed, nil)

	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.Invoked)
	assert.Equal(t, 0, out.Failed)
	entries := logs.FilterField(zap.String("handler", "ghost")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestDispatchFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	inv := newFakeInvoker()
	inv.fails["bad"] = errors.New("kaboom")

	d := newTestDispatcher(t, inv, WithLogger(zap.New(core)))
	d.Registry().On(CursorMoved, "bad")
	d.Dispatch(context.Background(), CursorMoved, nil)

	assert.Equal(t, 1, logs.FilterMessage("event handler failed").Len())
}

func TestDispatchContextCancelledSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := InvokerFunc(func(context.Context, string, map[string]any) (any, error) {
		cancel()
		return nil, nil
	})

	d := newTestDispatcher(t, inv)
	for _, name := range []string{"a", "b", "c"} {
		d.Registry().On(AfterDelete, name)
	}

	out := d.Dispatch(ctx, AfterDelete, nil)
	assert.Equal(t, 1, out.Invoked)
	assert.Equal(t, 2, out.Skipped)
	assert.ErrorIs(t, out.Errors[0], context.Canceled)
}

func TestDispatchNoHandlers(t *testing.T) {
	d := newTestDispatcher(t, newFakeInvoker())
	out := d.Dispatch(context.Background(), EditorInitialized, nil)
	assert.Equal(t, 0, out.Invoked)
	assert.False(t, out.Cancelled)
}

func TestDispatcherStats(t *testing.T) {
	inv := newFakeInvoker()
	inv.returns["a"] = false
	inv.fails["b"] = errors.New("x")

	d := newTestDispatcher(t, inv)
	d.Registry().On(BeforeFileSave, "a")
	d.Registry().On(BeforeFileSave, "b")

	d.Dispatch(context.Background(), BeforeFileSave, nil)
	d.Dispatch(context.Background(), AfterFileSave, nil)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Equal(t, uint64(2), stats.Invoked)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Cancelled)
}
