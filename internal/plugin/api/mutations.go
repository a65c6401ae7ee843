package api

import (
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/lua"
)

// offset reads a non-negative byte offset argument.
func offset(L *glua.LState, op string, n int, name string) int {
	v := L.CheckInt(n)
	if v < 0 {
		raise(L, op, capErr(op, nil, "%s must not be negative, got %d", name, v))
	}
	return v
}

// span reads a start and end argument pair.
func span(L *glua.LState, op string, n int) (int, int) {
	start := offset(L, op, n, "start")
	end := offset(L, op, n+1, "end")
	if end < start {
		raise(L, op, capErr(op, nil, "end %d is before start %d", end, start))
	}
	return start, end
}

func nonEmpty(L *glua.LState, op string, n int, name string) string {
	s := L.CheckString(n)
	if s == "" {
		raise(L, op, capErr(op, nil, "%s must not be empty", name))
	}
	return s
}

func (b *bridge) insertText(L *glua.LState) int {
	const op = "insert_text"
	info := b.buffer(L, op, 1)
	pos := offset(L, op, 2, "position")
	text := L.CheckString(3)
	if info.ReadOnly {
		raise(L, op, capErr(op, nil, "buffer %d is read-only", info.ID))
	}
	return b.send(L, op, command.InsertText{BufferID: info.ID, Position: pos, Text: text})
}

func (b *bridge) deleteRange(L *glua.LState) int {
	const op = "delete_range"
	info := b.buffer(L, op, 1)
	start, end := span(L, op, 2)
	if info.ReadOnly {
		raise(L, op, capErr(op, nil, "buffer %d is read-only", info.ID))
	}
	return b.send(L, op, command.DeleteRange{BufferID: info.ID, Start: start, End: end})
}

func (b *bridge) setCursor(L *glua.LState) int {
	const op = "set_cursor"
	info := b.buffer(L, op, 1)
	pos := offset(L, op, 2, "position")
	return b.send(L, op, command.SetCursor{BufferID: info.ID, Position: pos})
}

func (b *bridge) setStatus(L *glua.LState) int {
	return b.send(L, "set_status", command.SetStatus{Message: L.CheckString(1)})
}

func (b *bridge) setClipboard(L *glua.LState) int {
	return b.send(L, "set_clipboard", command.SetClipboard{Text: L.CheckString(1)})
}

func (b *bridge) openFile(L *glua.LState) int {
	const op = "open_file"
	path := nonEmpty(L, op, 1, "path")
	line := L.OptInt(2, 0)
	column := L.OptInt(3, 0)
	if line < 0 || column < 0 {
		raise(L, op, capErr(op, nil, "line and column must not be negative"))
	}
	return b.send(L, op, command.OpenFile{Path: path, Line: line, Column: column})
}

func (b *bridge) addOverlay(L *glua.LState) int {
	const op = "add_overlay"
	info := b.buffer(L, op, 1)
	ns := nonEmpty(L, op, 2, "namespace")
	start, end := span(L, op, 3)
	style := L.CheckString(5)
	return b.send(L, op, command.AddOverlay{
		BufferID:  info.ID,
		Namespace: ns,
		Start:     start,
		End:       end,
		Style:     style,
	})
}

func (b *bridge) clearNamespace(L *glua.LState) int {
	const op = "clear_namespace"
	info := b.buffer(L, op, 1)
	ns := nonEmpty(L, op, 2, "namespace")
	return b.send(L, op, command.ClearNamespace{BufferID: info.ID, Namespace: ns})
}

// registerCommand takes {name, description, action, contexts?}. The action
// is the name of a global function, resolved when the command runs.
func (b *bridge) registerCommand(L *glua.LState) int {
	const op = "register_command"
	spec := L.CheckTable(1)

	name, _ := lua.TableString(spec, "name")
	action, _ := lua.TableString(spec, "action")
	if name == "" || action == "" {
		raise(L, op, capErr(op, nil, "name and action are required"))
	}
	desc, _ := lua.TableString(spec, "description")

	var contexts []string
	if spec.RawGetString("contexts") != glua.LNil {
		var ok bool
		if contexts, ok = lua.TableStrings(spec, "contexts"); !ok {
			raise(L, op, capErr(op, nil, "contexts must be a list of strings"))
		}
	}

	return b.send(L, op, command.RegisterCommand{
		Name:        name,
		Description: desc,
		Action:      action,
		Contexts:    contexts,
		Source:      b.source(L),
	})
}

func (b *bridge) unregisterCommand(L *glua.LState) int {
	const op = "unregister_command"
	return b.send(L, op, command.UnregisterCommand{Name: nonEmpty(L, op, 1, "name")})
}

func (b *bridge) setConfig(L *glua.LState) int {
	const op = "set_config"
	path := nonEmpty(L, op, 1, "path")
	value := lua.ToGo(L.CheckAny(2))
	return b.send(L, op, command.SetConfig{Path: path, Value: value})
}

func (b *bridge) checkEvent(L *glua.LState, op string) (string, string) {
	name := nonEmpty(L, op, 1, "event name")
	handler := nonEmpty(L, op, 2, "handler name")
	if b.env.Surface != nil {
		if _, ok := b.env.Surface.Lookup(name); !ok {
			raise(L, op, capErr(op, event.ErrUnknownEvent, "unknown event %q", name))
		}
	}
	return name, handler
}

func (b *bridge) on(L *glua.LState) int {
	name, handler := b.checkEvent(L, "on")
	L.Push(glua.LBool(b.env.Handlers.On(name, handler)))
	return 1
}

func (b *bridge) off(L *glua.LState) int {
	name, handler := b.checkEvent(L, "off")
	L.Push(glua.LBool(b.env.Handlers.Off(name, handler)))
	return 1
}

func (b *bridge) log(L *glua.LState) int {
	const op = "log"
	level := strings.ToLower(L.CheckString(1))
	msg := L.CheckString(2)
	logger := b.logger(L)

	switch level {
	case "debug":
		logger.Debug(msg)
	case "info":
		logger.Info(msg)
	case "warn", "warning":
		logger.Warn(msg)
	case "error":
		logger.Error(msg)
	default:
		raise(L, op, capErr(op, nil, "unknown log level %q", level))
	}
	return 0
}
