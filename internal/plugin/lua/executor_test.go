package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T) (*Executor, context.Context) {
	t.Helper()

	L := lua.NewState()
	exec := NewExecutor(L, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go exec.Run(ctx)

	t.Cleanup(func() {
		exec.Close()
		<-exec.Stopped()
		cancel()
		L.Close()
	})
	return exec, ctx
}

func TestNewExecutor(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	exec := NewExecutor(L, nil)
	if exec == nil {
		t.Fatal("NewExecutor returned nil")
	}
	if exec.L != L {
		t.Error("Executor has wrong LState")
	}
	if exec.IsClosed() {
		t.Error("New executor should not be closed")
	}
}

func TestExecutorExecute(t *testing.T) {
	exec, ctx := startExecutor(t)

	var executed bool
	err := exec.Execute(ctx, "test", func(L *lua.LState) error {
		executed = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !executed {
		t.Error("Lua operation was not executed")
	}
}

func TestExecutorCallsRunInOrder(t *testing.T) {
	exec, ctx := startExecutor(t)

	var order []int
	var calls []*Call
	for i := 0; i < 20; i++ {
		i := i
		call, err := exec.Submit("ordered", func(L *lua.LState) error {
			order = append(order, i)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		calls = append(calls, call)
	}
	for _, call := range calls {
		if err := call.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestExecutorReturnsCallError(t *testing.T) {
	exec, ctx := startExecutor(t)

	want := errors.New("boom")
	err := exec.Execute(ctx, "fail", func(L *lua.LState) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("Execute error = %v, want %v", err, want)
	}
}

func TestExecutorPanicRecovery(t *testing.T) {
	exec, ctx := startExecutor(t)

	err := exec.Execute(ctx, "panic", func(L *lua.LState) error {
		panic("test panic")
	})
	if err == nil || err.Error() != "test panic" {
		t.Errorf("Expected recovered panic error, got %v", err)
	}

	// Executor keeps working after a panic.
	if err := exec.Execute(ctx, "after", func(L *lua.LState) error { return nil }); err != nil {
		t.Errorf("Execute after panic: %v", err)
	}
}

func TestExecutorWakeupsRunWhileCallWaits(t *testing.T) {
	exec, ctx := startExecutor(t)

	err := exec.Execute(ctx, "wait", func(L *lua.LState) error {
		done := false
		go func() {
			time.Sleep(10 * time.Millisecond)
			exec.Wake(func() { done = true })
		}()
		return exec.PumpUntil(func() bool { return done })
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecutorCallsDoNotInterleave(t *testing.T) {
	exec, ctx := startExecutor(t)

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	release := make(chan struct{})
	first, err := exec.Submit("first", func(L *lua.LState) error {
		record("first start")
		done := false
		go func() {
			<-release
			exec.Wake(func() { done = true })
		}()
		if err := exec.PumpUntil(func() bool { return done }); err != nil {
			return err
		}
		record("first end")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := exec.Submit("second", func(L *lua.LState) error {
		record("second")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := first.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := second.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"first start", "first end", "second"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestExecutorWakeNeverBlocks(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	exec := NewExecutor(L, nil)

	// Not running: posting must still return immediately.
	for i := 0; i < 10000; i++ {
		if !exec.Wake(func() {}) {
			t.Fatal("Wake returned false on open executor")
		}
	}
	if _, wakeups := exec.Pending(); wakeups != 10000 {
		t.Errorf("pending wakeups = %d, want 10000", wakeups)
	}
	if n := exec.Pump(); n != 10000 {
		t.Errorf("Pump ran %d, want 10000", n)
	}
}

func TestExecutorClose(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	exec := NewExecutor(L, nil)

	queued, err := exec.Submit("queued", func(L *lua.LState) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	exec.Close()
	exec.Close()

	if !exec.IsClosed() {
		t.Error("executor should be closed")
	}
	if _, err := exec.Submit("late", func(L *lua.LState) error { return nil }); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Submit after close = %v, want ErrExecutorClosed", err)
	}
	if exec.Wake(func() {}) {
		t.Error("Wake after close should return false")
	}

	go exec.Run(context.Background())
	<-exec.Stopped()

	if err := queued.Wait(context.Background()); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("queued call error = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorContextCancellation(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	exec := NewExecutor(L, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go exec.Run(ctx)
	cancel()

	select {
	case <-exec.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after context cancellation")
	}
	if !exec.IsClosed() {
		t.Error("executor should report closed after Run returns")
	}
}

func TestPumpUntilReturnsOnClose(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	exec := NewExecutor(L, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		exec.Close()
	}()

	err := exec.PumpUntil(func() bool { return false })
	if !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("PumpUntil = %v, want ErrExecutorClosed", err)
	}
}
