// Package lua provides the script execution context for extensions.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management
//   - A single-goroutine mailbox (Executor) for entry points and wakeups
//   - A coroutine Scheduler that lets Go code suspend script tasks
//   - Module compilation with per-module load errors
//   - Go-Lua value conversion
//
// # State
//
// The State type owns a Lua runtime with only safe libraries opened:
//
//	state, err := lua.NewState(lua.WithPrint(func(L *glua.LState, line string) {
//	    logger.Info(line)
//	}))
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
// # Executor
//
// gopher-lua's LState is not goroutine-safe. The Executor marshals all work
// to the goroutine that runs Executor.Run. Calls are entry points and never
// interleave; wakeups are continuations that may be posted from any
// goroutine without blocking.
//
// # Scheduler
//
// Every entry point runs as a coroutine task. A Go function backing an
// asynchronous capability calls Scheduler.Suspend, which yields the task
// until the wake function is invoked:
//
//	n, err := sched.Suspend(L, func(wake func(lua.Outcome)) error {
//	    go func() {
//	        data, err := os.ReadFile(path)
//	        wake(func(L *glua.LState) (bool, glua.LValue) { ... })
//	    }()
//	    return nil
//	})
//
// Yielding across pcall is not supported by gopher-lua. Async calls inside
// pcall or xpcall fail with ErrProtectedCall; scripts use editor.spawn and
// editor.settle to observe failures instead.
package lua
