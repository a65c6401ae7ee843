package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
	"github.com/dshills/extbridge/internal/plugin/wire"
)

// fixture runs an executor with the capability table installed. Script code
// runs as scheduler tasks; tests play the host by draining the channel.
type fixture struct {
	state    *lua.State
	exec     *lua.Executor
	sched    *lua.Scheduler
	snaps    *snapshot.Store
	cmds     *command.Channel
	reqs     *correlate.Table
	handlers *event.Registry
	procs    *process.Supervisor
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...func(*Env)) *fixture {
	t.Helper()

	state, err := lua.NewState()
	require.NoError(t, err)
	exec := lua.NewExecutor(state.L, nil)
	surface, err := event.DefaultSurface()
	require.NoError(t, err)

	f := &fixture{
		state:    state,
		exec:     exec,
		sched:    lua.NewScheduler(state, exec, nil),
		snaps:    snapshot.NewStore(),
		cmds:     command.NewChannel(),
		reqs:     correlate.NewTable(),
		handlers: event.NewRegistry(),
		procs:    process.NewSupervisor(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	f.ctx = ctx
	go exec.Run(ctx)
	t.Cleanup(func() {
		exec.Close()
		<-exec.Stopped()
		cancel()
		f.procs.Shutdown(time.Second)
		state.Close()
	})

	env := Env{
		Snapshots: f.snaps,
		Commands:  f.cmds,
		Requests:  f.reqs,
		Scheduler: f.sched,
		Handlers:  f.handlers,
		Surface:   surface,
		Processes: f.procs,
	}
	for _, opt := range opts {
		opt(&env)
	}
	err = exec.Execute(ctx, "install", func(L *glua.LState) error {
		_, err := Install(L, env)
		return err
	})
	require.NoError(t, err)

	f.snaps.Publish(testSnapshot())
	return f
}

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		ActiveBufferID: 1,
		PrimaryCursor:  snapshot.Cursor{Position: 3, Selection: &snapshot.Range{Start: 1, End: 3}},
		Cursors: []snapshot.Cursor{
			{Position: 3, Selection: &snapshot.Range{Start: 1, End: 3}},
			{Position: 8},
		},
		Viewport: snapshot.Viewport{TopLine: 2, Width: 80, Height: 24},
		Buffers: map[int]snapshot.BufferInfo{
			1: {ID: 1, Path: "/work/main.go", Length: 10, LineCount: 2, Modified: true},
			2: {ID: 2, Path: "", Length: 4, Virtual: true, ReadOnly: true},
		},
		Clipboard:  "clip",
		WorkingDir: "/work",
		Config:     []byte(`{"editor":{"tab_width":4,"rulers":[80,120]},"theme":"dark"}`),
	}
}

// run executes src as an entry-point task and waits for it to finish.
func (f *fixture) run(t *testing.T, src string) *lua.Task {
	t.Helper()
	var task *lua.Task
	err := f.exec.Execute(f.ctx, "run", func(L *glua.LState) error {
		m, err := lua.CompileString("test", src)
		if err != nil {
			return err
		}
		task, err = f.sched.Run("test", m.Function(L))
		return err
	})
	require.NoError(t, err)
	return task
}

// mustRun is run that fails the test if the task raised.
func (f *fixture) mustRun(t *testing.T, src string) {
	t.Helper()
	task := f.run(t, src)
	require.NoError(t, task.Err())
}

func (f *fixture) global(t *testing.T, name string) glua.LValue {
	t.Helper()
	var v glua.LValue
	err := f.exec.Execute(f.ctx, "global", func(L *glua.LState) error {
		v = L.GetGlobal(name)
		return nil
	})
	require.NoError(t, err)
	return v
}

// serve answers correlated commands until the test ends.
func (f *fixture) serve(respond func(command.Envelope) (any, error)) {
	go func() {
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-f.cmds.Ready():
			}
			for _, env := range f.cmds.Drain() {
				if !env.Correlated() {
					continue
				}
				v, err := respond(env)
				res := correlate.Result{Err: err}
				if err == nil {
					res.Payload = wire.MustFreeze(v)
				}
				_ = f.reqs.Resolve(env.RequestID, res)
			}
		}
	}()
}
