package api

import (
	"path/filepath"

	"github.com/tidwall/gjson"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
)

func (b *bridge) getActiveBufferID(L *glua.LState) int {
	id := b.snap().ActiveBufferID
	if id == snapshot.NoBuffer {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(glua.LNumber(id))
	return 1
}

func (b *bridge) getCursorPosition(L *glua.LState) int {
	b.activeBuffer(L, "get_cursor_position")
	L.Push(glua.LNumber(b.snap().PrimaryCursor.Position))
	return 1
}

func (b *bridge) getBufferPath(L *glua.LState) int {
	L.Push(glua.LString(b.buffer(L, "get_buffer_path", 1).Path))
	return 1
}

func (b *bridge) getBufferLength(L *glua.LState) int {
	L.Push(glua.LNumber(b.buffer(L, "get_buffer_length", 1).Length))
	return 1
}

func (b *bridge) isBufferModified(L *glua.LState) int {
	L.Push(glua.LBool(b.buffer(L, "is_buffer_modified", 1).Modified))
	return 1
}

func (b *bridge) getClipboard(L *glua.LState) int {
	L.Push(glua.LString(b.snap().Clipboard))
	return 1
}

func (b *bridge) getCwd(L *glua.LState) int {
	L.Push(glua.LString(b.snap().WorkingDir))
	return 1
}

func (b *bridge) getSnapshotVersion(L *glua.LState) int {
	L.Push(glua.LNumber(b.snap().Version))
	return 1
}

func (b *bridge) getPrimaryCursor(L *glua.LState) int {
	snap := b.snap()
	if _, ok := snap.ActiveBuffer(); !ok {
		raise(L, "get_primary_cursor", capErr("get_primary_cursor", ErrNoActiveBuffer, "no active buffer"))
	}
	L.Push(lua.ToLua(L, snap.PrimaryCursor))
	return 1
}

func (b *bridge) getAllCursors(L *glua.LState) int {
	snap := b.snap()
	if _, ok := snap.ActiveBuffer(); !ok {
		raise(L, "get_all_cursors", capErr("get_all_cursors", ErrNoActiveBuffer, "no active buffer"))
	}
	cursors := snap.Cursors
	if len(cursors) == 0 {
		cursors = []snapshot.Cursor{snap.PrimaryCursor}
	}
	tbl := L.CreateTable(len(cursors), 0)
	for _, c := range cursors {
		tbl.Append(lua.ToLua(L, c))
	}
	L.Push(tbl)
	return 1
}

func (b *bridge) getViewport(L *glua.LState) int {
	snap := b.snap()
	if _, ok := snap.ActiveBuffer(); !ok {
		raise(L, "get_viewport", capErr("get_viewport", ErrNoActiveBuffer, "no active buffer"))
	}
	L.Push(lua.ToLua(L, snap.Viewport))
	return 1
}

func (b *bridge) listBuffers(L *glua.LState) int {
	list := b.snap().BufferList()
	tbl := L.CreateTable(len(list), 0)
	for _, info := range list {
		tbl.Append(lua.ToLua(L, info))
	}
	L.Push(tbl)
	return 1
}

func (b *bridge) getBufferInfo(L *glua.LState) int {
	L.Push(lua.ToLua(L, b.buffer(L, "get_buffer_info", 1)))
	return 1
}

// getConfig reads the host configuration JSON. Paths use gjson syntax, so
// "editor.tab_width" selects a nested key. A missing key yields nil.
func (b *bridge) getConfig(L *glua.LState) int {
	cfg := b.snap().Config
	path := L.OptString(1, "")

	var res gjson.Result
	if path == "" {
		res = gjson.ParseBytes(cfg)
	} else {
		res = gjson.GetBytes(cfg, path)
	}
	if !res.Exists() {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(lua.ToLua(L, res.Value()))
	return 1
}

func (b *bridge) getEnv(L *glua.LState) int {
	v, ok := b.env.LookupEnv(L.CheckString(1))
	if !ok {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(glua.LString(v))
	return 1
}

func (b *bridge) pathJoin(L *glua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.CheckString(i))
	}
	L.Push(glua.LString(filepath.Join(parts...)))
	return 1
}

func (b *bridge) pathDirname(L *glua.LState) int {
	L.Push(glua.LString(filepath.Dir(L.CheckString(1))))
	return 1
}

func (b *bridge) pathBasename(L *glua.LState) int {
	L.Push(glua.LString(filepath.Base(L.CheckString(1))))
	return 1
}

func (b *bridge) pathExtname(L *glua.LState) int {
	L.Push(glua.LString(filepath.Ext(L.CheckString(1))))
	return 1
}

func (b *bridge) pathIsAbsolute(L *glua.LState) int {
	L.Push(glua.LBool(filepath.IsAbs(L.CheckString(1))))
	return 1
}

func (b *bridge) listHandlers(L *glua.LState) int {
	names := b.env.Handlers.Handlers(L.CheckString(1))
	tbl := L.CreateTable(len(names), 0)
	for _, name := range names {
		tbl.Append(glua.LString(name))
	}
	L.Push(tbl)
	return 1
}
