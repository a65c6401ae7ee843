package plugin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/config"
	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
)

// newTestRuntime builds a runtime owned by the test goroutine. Entry points
// pump the executor themselves, so no Run loop is needed.
func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	surface, err := initPlatform()
	require.NoError(t, err)

	cfg := config.Default().Plugins
	procs := process.NewSupervisor()
	rt, err := newRuntime(runtimeDeps{
		cfg:       cfg,
		surface:   surface,
		snapshots: snapshot.NewStore(),
		commands:  command.NewChannel(),
		requests:  correlate.NewTable(),
		processes: procs,
		logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		rt.exec.Close()
		rt.close(0)
	})
	return rt
}

func loadSource(t *testing.T, rt *Runtime, src string) LoadResult {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.lua")
	writeFile(t, path, src)
	return rt.loadModule(path)
}

func TestRuntimeInvoke(t *testing.T) {
	rt := newTestRuntime(t)
	res := loadSource(t, rt, `
		not_a_function = 42
		function double(ev) return ev.n * 2 end
		function keep_going() return nil end
		function veto() return false end
	`)
	require.Equal(t, StateLoaded, res.State, "%v", res.Err)

	ctx := context.Background()

	v, err := rt.Invoke(ctx, "double", map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = rt.Invoke(ctx, "missing", nil)
	assert.ErrorIs(t, err, event.ErrHandlerNotFound)
	_, err = rt.Invoke(ctx, "not_a_function", nil)
	assert.ErrorIs(t, err, event.ErrHandlerNotFound)

	v, err = rt.Invoke(ctx, "keep_going", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = rt.Invoke(ctx, "veto", nil)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestRuntimeHandlersGetPrivateCopies(t *testing.T) {
	rt := newTestRuntime(t)
	res := loadSource(t, rt, `
		function scribble(ev) ev.text = "changed"; return ev.text end
		function read_back(ev) seen = ev.text end
		editor.on("after_insert", "scribble")
		editor.on("after_insert", "read_back")
	`)
	require.Equal(t, StateLoaded, res.State, "%v", res.Err)

	payload := map[string]any{"buffer_id": 1, "position": 0, "text": "original"}
	out := rt.dispatch(context.Background(), event.AfterInsert, payload)
	assert.Equal(t, 2, out.Invoked)
	assert.Equal(t, "original", payload["text"])
	assert.Equal(t, "original", rt.state.L.GetGlobal("seen").String())
}

func TestRuntimeLoadWaitsForAsyncWork(t *testing.T) {
	rt := newTestRuntime(t)
	res := loadSource(t, rt, `
		editor.spawn(function()
			editor.delay(5)
			after_delay = true
		end)
	`)
	require.Equal(t, StateLoaded, res.State, "%v", res.Err)
	assert.Equal(t, 0, rt.sched.Live())
	assert.Equal(t, "true", rt.state.L.GetGlobal("after_delay").String())
}

func TestRuntimeRunAction(t *testing.T) {
	rt := newTestRuntime(t)
	res := loadSource(t, rt, `
		calls = 0
		function bump() calls = calls + 1 end
	`)
	require.Equal(t, StateLoaded, res.State, "%v", res.Err)

	require.NoError(t, rt.runAction("bump"))
	require.NoError(t, rt.runAction("bump"))
	assert.Equal(t, "2", rt.state.L.GetGlobal("calls").String())
	assert.ErrorIs(t, rt.runAction("calls"), ErrActionNotFound)
}
