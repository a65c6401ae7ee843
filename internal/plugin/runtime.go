package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	glua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/config"
	"github.com/dshills/extbridge/internal/plugin/api"
	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
)

// LoadResult reports how one module load went.
type LoadResult struct {
	Name  string
	Path  string
	State State
	Err   error
}

// runtimeDeps are the collaborators shared between the host side of a
// Manager and its runtime.
type runtimeDeps struct {
	cfg       config.PluginsConfig
	surface   *event.Surface
	snapshots *snapshot.Store
	commands  *command.Channel
	requests  *correlate.Table
	processes *process.Supervisor
	logger    *zap.Logger
}

// Runtime is the script side of a session. Everything in it belongs to the
// plugin goroutine; only the executor may be reached from elsewhere.
type Runtime struct {
	state      *lua.State
	exec       *lua.Executor
	sched      *lua.Scheduler
	handlers   *event.Registry
	dispatcher *event.Dispatcher
	procs      *process.Supervisor
	logger     *zap.Logger

	// Absolute paths loaded in this session.
	loaded map[string]bool
}

// newRuntime builds the engine. It must run on the goroutine that will run
// the executor.
func newRuntime(d runtimeDeps) (*Runtime, error) {
	rt := &Runtime{
		handlers: event.NewRegistry(),
		procs:    d.processes,
		logger:   d.logger,
		loaded:   make(map[string]bool),
	}

	state, err := lua.NewState(
		lua.WithCallStackSize(d.cfg.CallStackSize),
		lua.WithPrint(rt.print),
	)
	if err != nil {
		return nil, fmt.Errorf("create lua state: %w", err)
	}
	rt.state = state
	rt.exec = lua.NewExecutor(state.L, d.logger.Named("executor"))
	rt.sched = lua.NewScheduler(state, rt.exec, d.logger.Named("scheduler"))
	rt.dispatcher = event.NewDispatcher(d.surface, rt.handlers, rt,
		event.WithCancelOnError(d.cfg.CancelOnError),
		event.WithLogger(d.logger.Named("event")),
	)

	_, err = api.Install(state.L, api.Env{
		Snapshots: d.snapshots,
		Commands:  d.commands,
		Requests:  d.requests,
		Scheduler: rt.sched,
		Handlers:  rt.handlers,
		Surface:   d.surface,
		Processes: d.processes,
		Logger:    d.logger.Named("api"),
	})
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("install capabilities: %w", err)
	}
	return rt, nil
}

// print routes the print builtin to the logger, attributed to the running task.
func (rt *Runtime) print(L *glua.LState, line string) {
	source := "extension"
	if t, ok := rt.sched.Current(L); ok {
		source = t.Name
	}
	rt.logger.Info(line, zap.String("module", source))
}

// loadModule compiles and runs one module, then pumps until every task it
// started has finished.
func (rt *Runtime) loadModule(path string) LoadResult {
	res := LoadResult{Name: lua.ModuleName(path), Path: path, State: StatePending}
	logger := rt.logger.With(zap.String("module", res.Name), zap.String("path", path))

	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	if rt.loaded[key] {
		logger.Warn("module already loaded, skipping")
		res.State = StateSkipped
		res.Err = fmt.Errorf("%w: %s", ErrAlreadyLoaded, path)
		return res
	}
	rt.loaded[key] = true

	m, err := lua.CompileFile(path)
	if err != nil {
		logger.Error("module failed to compile", zap.Error(err))
		res.State = StateFailed
		res.Err = err
		return res
	}

	task, err := rt.sched.Run("load "+m.Name, m.Function(rt.state.L))
	if err == nil {
		err = task.Err()
	}
	if qerr := rt.sched.RunToQuiescence(); err == nil {
		err = qerr
	}
	if err != nil {
		logger.Error("module failed to load", zap.Error(err))
		res.State = StateFailed
		res.Err = err
		return res
	}

	logger.Debug("module loaded")
	res.State = StateLoaded
	return res
}

// Invoke resolves handler against the globals now and runs it as a task.
func (rt *Runtime) Invoke(_ context.Context, handler string, payload map[string]any) (any, error) {
	L := rt.state.L
	fn, ok := L.GetGlobal(handler).(*glua.LFunction)
	if !ok {
		return nil, event.ErrHandlerNotFound
	}

	task, err := rt.sched.Run("handler "+handler, fn, lua.ToLua(L, payload))
	if err != nil {
		return nil, err
	}
	if err := task.Err(); err != nil {
		return nil, err
	}
	return lua.ToGo(task.Result()), nil
}

// dispatch delivers one event to its handlers.
func (rt *Runtime) dispatch(ctx context.Context, name string, payload map[string]any) event.Outcome {
	return rt.dispatcher.Dispatch(ctx, name, payload)
}

// runAction calls the global function bound to a palette command.
func (rt *Runtime) runAction(name string) error {
	fn, ok := rt.state.L.GetGlobal(name).(*glua.LFunction)
	if !ok {
		rt.logger.Warn("action is not a function", zap.String("action", name))
		return fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}

	task, err := rt.sched.Run("action "+name, fn)
	if err != nil {
		return err
	}
	if err := task.Err(); err != nil {
		rt.logger.Error("action failed", zap.String("action", name), zap.Error(err))
		return err
	}
	return nil
}

// drain lets every live task finish. Pending requests must already have
// been failed, otherwise this waits for host responses.
func (rt *Runtime) drain() error {
	err := rt.sched.RunToQuiescence()
	if errors.Is(err, lua.ErrExecutorClosed) {
		rt.logger.Warn("executor stopped before tasks finished",
			zap.Int("live", rt.sched.Live()))
	}
	return err
}

// close releases the engine. Runs after the executor has stopped.
func (rt *Runtime) close(processTimeout time.Duration) {
	if rt.procs != nil {
		rt.procs.Shutdown(processTimeout)
	}
	if err := rt.state.Close(); err != nil {
		rt.logger.Debug("close lua state", zap.Error(err))
	}
}
