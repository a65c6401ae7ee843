package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/extbridge/internal/palette"
	"github.com/dshills/extbridge/internal/plugin"
)

type harness struct {
	editor    *Editor
	mgr       *plugin.Manager
	workspace string
}

func (h *harness) path(name string) string {
	return filepath.Join(h.workspace, name)
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.editor.RunUntilIdle(ctx, 1000))
}

// startEditor writes files into a fresh workspace, opens the ones listed
// in open, then starts a manager with src as its only module.
func startEditor(t *testing.T, files map[string]string, open []string, src string, opts ...Option) *harness {
	t.Helper()

	ws := t.TempDir()
	for name, content := range files {
		p := filepath.Join(ws, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	e := New(append([]Option{WithWorkspace(ws)}, opts...)...)
	for _, name := range open {
		_, err := e.OpenFile(name, 0, 0)
		require.NoError(t, err)
	}
	e.Publish()

	modPath := filepath.Join(t.TempDir(), "ext.lua")
	require.NoError(t, os.WriteFile(modPath, []byte(src), 0o644))

	ctx := context.Background()
	mgr, err := plugin.Start(ctx, []string{modPath}, plugin.WithSnapshotStore(e.Snapshots()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	results, err := mgr.WaitLoaded(ctx)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, plugin.StateLoaded, r.State, "%s: %v", r.Name, r.Err)
	}

	e.Attach(mgr)
	return &harness{editor: e, mgr: mgr, workspace: ws}
}

func TestCommandsApplyInOrder(t *testing.T) {
	h := startEditor(t, map[string]string{"empty.txt": ""}, []string{"empty.txt"}, `
		local id = editor.get_active_buffer_id()
		editor.insert_text(id, 0, "hello ")
		editor.insert_text(id, 6, "world")
		editor.delete_range(id, 0, 6)
		editor.set_cursor(id, 2)
		editor.add_overlay(id, "lint", 0, 5, "error")
		editor.add_overlay(id, "spell", 1, 2, "warn")
		editor.clear_namespace(id, "spell")
		editor.set_clipboard("copied")
		editor.set_status("first")
		editor.set_status("second")
		editor.insert_text(id, 100, "x")
	`)
	e := h.editor

	stats := e.Tick()
	assert.Equal(t, 11, stats.Applied)
	assert.Equal(t, 1, stats.Rejected)

	id := e.ActiveBuffer()
	text, err := e.BufferText(id)
	require.NoError(t, err)
	assert.Equal(t, "world", text)
	assert.Equal(t, 2, e.Cursor(id))
	assert.Equal(t, []Overlay{{Namespace: "lint", Start: 0, End: 5, Style: "error"}}, e.Overlays(id))
	assert.Equal(t, "copied", e.Clipboard())
	log := e.StatusLog()
	require.Len(t, log, 3)
	assert.Equal(t, []string{"first", "second"}, log[:2])
	assert.True(t, strings.HasPrefix(log[2], "insert_text rejected: "), log[2])
	assert.Contains(t, log[2], ErrOutOfRange.Error())

	snap := e.Snapshots().Load()
	info, ok := snap.Buffer(id)
	require.True(t, ok)
	assert.Equal(t, 5, info.Length)
	assert.True(t, info.Modified)
	assert.Equal(t, 2, snap.PrimaryCursor.Position)
	assert.Equal(t, "copied", snap.Clipboard)
}

func TestOutOfRangeMutationsReachStatusLine(t *testing.T) {
	h := startEditor(t, map[string]string{"ten.txt": "0123456789"}, []string{"ten.txt"}, `
		local id = editor.get_active_buffer_id()
		queued = {
			editor.insert_text(id, 999, "x"),
			editor.add_overlay(id, "ns", 0, 999, "s"),
			editor.delete_range(id, 0, 999),
		}
	`)
	e := h.editor

	stats := e.Tick()
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, 3, stats.Rejected)

	text, err := e.BufferText(e.ActiveBuffer())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", text)
	assert.Empty(t, e.Overlays(e.ActiveBuffer()))

	log := e.StatusLog()
	require.Len(t, log, 3)
	for i, kind := range []string{"insert_text", "add_overlay", "delete_range"} {
		assert.True(t, strings.HasPrefix(log[i], kind+" rejected: "), log[i])
		assert.Contains(t, log[i], ErrOutOfRange.Error())
	}
}

func TestSaveRespectsBeforeSaveHandlers(t *testing.T) {
	h := startEditor(t,
		map[string]string{"notes.tmp": "scratch", "main.go": "package main\n"},
		[]string{"notes.tmp", "main.go"}, `
		function guard_tmp(ev)
			if string.sub(ev.path, -4) == ".tmp" then
				return false
			end
		end
		function announce(ev)
			editor.set_status("saved by extension " .. editor.path_basename(ev.path))
		end
		editor.on("before_file_save", "guard_tmp")
		editor.on("after_file_save", "announce")
	`)
	e := h.editor

	require.NoError(t, e.insert(1, 0, "more "))
	require.NoError(t, e.insert(2, 0, "// gen\n"))
	require.NoError(t, e.RequestSave(1))
	require.NoError(t, e.RequestSave(2))
	h.idle(t)

	assert.Equal(t, []string{
		"save cancelled by guard_tmp",
		"saved " + h.path("main.go"),
		"saved by extension main.go",
	}, e.StatusLog())

	data, err := os.ReadFile(h.path("main.go"))
	require.NoError(t, err)
	assert.Equal(t, "// gen\npackage main\n", string(data))

	data, err = os.ReadFile(h.path("notes.tmp"))
	require.NoError(t, err)
	assert.Equal(t, "scratch", string(data))

	notes, _ := e.Buffer(1)
	assert.True(t, notes.Modified)
	main, _ := e.Buffer(2)
	assert.False(t, main.Modified)
}

func TestInsertVetoedByHandler(t *testing.T) {
	h := startEditor(t, map[string]string{"a.txt": "abc"}, []string{"a.txt"}, `
		function no_tabs(ev)
			if string.find(ev.text, "\t", 1, true) then
				return false
			end
		end
		function report(ev)
			editor.set_status("inserted " .. ev.text .. " at " .. ev.position)
		end
		editor.on("before_insert", "no_tabs")
		editor.on("after_insert", "report")
	`)
	e := h.editor

	require.NoError(t, e.Insert(1, 0, "\tx"))
	require.NoError(t, e.Insert(1, 3, "!"))
	h.idle(t)

	text, _ := e.BufferText(1)
	assert.Equal(t, "abc!", text)
	assert.Equal(t, []string{"insert cancelled by no_tabs", "inserted ! at 3"}, e.StatusLog())

	assert.ErrorIs(t, e.Insert(1, 99, "x"), ErrOutOfRange)
	assert.ErrorIs(t, e.Insert(7, 0, "x"), ErrNoSuchBuffer)
}

func TestRequestRoundTrips(t *testing.T) {
	h := startEditor(t, map[string]string{"input.txt": "a\nb\nc\n"}, nil, `
		function summarize()
			local text = editor.read_file("input.txt")
			local _, n = string.gsub(text, "\n", "")
			local id = editor.create_virtual_buffer({name = "summary", content = "lines: " .. n, read_only = true})
			local copy = editor.get_buffer_text(id)
			editor.write_file("out/summary.txt", copy)
			editor.set_status("summary in buffer " .. id)
		end
		editor.register_command({name = "Summarize", description = "Count lines", action = "summarize"})
	`)
	e := h.editor
	h.idle(t)

	cmd, ok := e.Palette().Find("Summarize")
	require.True(t, ok)
	assert.True(t, cmd.IsExtension())

	require.NoError(t, e.RunCommand("Summarize"))
	h.idle(t)

	assert.Equal(t, "summary in buffer 1", e.Status())

	data, err := os.ReadFile(h.path("out/summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "lines: 3", string(data))

	buf, ok := e.Buffer(1)
	require.True(t, ok)
	assert.True(t, buf.Virtual)
	assert.True(t, buf.ReadOnly)
	assert.Equal(t, "summary", buf.Name)
}

func TestConfigRoundTrip(t *testing.T) {
	h := startEditor(t, nil, nil, `
		function widen()
			local w = editor.get_config("editor.tab_width")
			editor.set_config("editor.tab_width", w * 2)
			editor.set_config("formatter.enabled", true)
		end
		editor.register_command({name = "Widen Tabs", action = "widen"})
	`, WithConfigJSON([]byte(`{"editor":{"tab_width":4}}`)))
	e := h.editor
	h.idle(t)

	require.NoError(t, e.RunCommand("Widen Tabs"))
	h.idle(t)

	v, ok := e.ConfigValue("editor.tab_width")
	require.True(t, ok)
	assert.Equal(t, float64(8), v)

	v, ok = e.ConfigValue("formatter.enabled")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = e.ConfigValue("missing.key")
	assert.False(t, ok)
}

func TestOpenFileFromScript(t *testing.T) {
	h := startEditor(t, map[string]string{"a.txt": "a", "b.txt": "one\ntwo\nthree"}, []string{"a.txt"}, `
		function jump() editor.open_file("b.txt", 2, 3) end
		function opened(ev) editor.set_status("opened " .. editor.path_basename(ev.path)) end
		editor.on("after_file_open", "opened")
		editor.register_command({name = "Jump", action = "jump"})
	`)
	e := h.editor
	h.idle(t)

	require.NoError(t, e.RunCommand("Jump"))
	h.idle(t)

	assert.Equal(t, 2, e.ActiveBuffer())
	assert.Equal(t, 6, e.Cursor(2))
	assert.Equal(t, "opened b.txt", e.Status())
	assert.Equal(t, 2, e.Snapshots().Load().ActiveBufferID)
}

func TestFailingActionReportsStatus(t *testing.T) {
	h := startEditor(t, nil, nil, `
		function broken() error("nope") end
		editor.register_command({name = "Broken", action = "broken", contexts = {"normal"}})
	`)
	e := h.editor
	h.idle(t)

	require.NoError(t, e.RunCommand("Broken"))
	h.idle(t)

	assert.Contains(t, e.Status(), "Broken failed:")
	assert.Contains(t, e.Status(), "nope")

	e.SetContext("insert")
	assert.ErrorIs(t, e.RunCommand("Broken"), ErrCommandUnavailable)
}

func TestRunCommandErrors(t *testing.T) {
	e := New(WithWorkspace(t.TempDir()))

	assert.ErrorIs(t, e.RunCommand("nope"), ErrUnknownCommand)
	assert.ErrorIs(t, e.RunCommand("Save File"), ErrNoSuchBuffer)

	require.NoError(t, e.Palette().Register(&palette.Command{Name: "Ext", Action: "ext"}))
	assert.ErrorIs(t, e.RunCommand("Ext"), ErrCommandUnavailable)
}

func TestEditorWithoutManager(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("one\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.txt"), []byte("b"), 0o644))

	e := New(WithWorkspace(ws))
	assert.Equal(t, -1, e.Snapshots().Load().ActiveBufferID)

	a, err := e.OpenFile("a.txt", 0, 0)
	require.NoError(t, err)
	again, err := e.OpenFile(filepath.Join(ws, "a.txt"), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := e.OpenFile("b.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, b, e.ActiveBuffer())

	_, err = e.OpenFile("missing.txt", 0, 0)
	assert.Error(t, err)

	require.NoError(t, e.Insert(a, 0, "zero\n"))
	require.NoError(t, e.Delete(a, 0, 1))
	require.NoError(t, e.RequestSave(a))
	assert.Equal(t, "saved "+filepath.Join(ws, "a.txt"), e.Status())

	data, err := os.ReadFile(filepath.Join(ws, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ero\none\ntwo\n", string(data))

	e.Publish()
	info, ok := e.Snapshots().Load().Buffer(a)
	require.True(t, ok)
	assert.Equal(t, 4, info.LineCount)
	assert.Equal(t, 12, info.Length)
	assert.False(t, info.Modified)

	require.NoError(t, e.CloseBuffer(b))
	assert.Equal(t, a, e.ActiveBuffer())
	require.NoError(t, e.CloseBuffer(a))
	assert.Equal(t, -1, e.ActiveBuffer())
	assert.ErrorIs(t, e.CloseBuffer(a), ErrNoSuchBuffer)
	assert.True(t, e.Idle())
}

func TestLineColumnOffset(t *testing.T) {
	text := []byte("one\ntwo\nthree")
	tests := []struct {
		line, column, want int
	}{
		{1, 1, 0},
		{1, 0, 0},
		{2, 1, 4},
		{2, 3, 6},
		{2, 99, 7},
		{3, 5, 12},
		{9, 1, 13},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineColumnOffset(text, tt.line, tt.column), "line %d column %d", tt.line, tt.column)
	}
}
