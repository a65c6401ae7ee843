package api

import (
	"errors"
	"fmt"

	glua "github.com/yuin/gopher-lua"
)

// Version is the version of the capability surface.
const Version = 1

// Convention is the calling convention of a capability.
type Convention int

const (
	// FastSync capabilities return a primitive read from the snapshot or
	// enqueue an uncorrelated command. They never block.
	FastSync Convention = iota

	// SyncSerialized capabilities return a structured value built without a
	// host round trip.
	SyncSerialized

	// Async capabilities suspend the calling task until a response arrives.
	Async
)

// String returns the convention name.
func (c Convention) String() string {
	switch c {
	case FastSync:
		return "fast_sync"
	case SyncSerialized:
		return "sync_serialized"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

// Param describes one capability argument.
type Param struct {
	Name     string
	Type     string
	Optional bool
}

// Capability is one entry of the catalog.
type Capability struct {
	Name        string
	Convention  Convention
	Params      []Param
	Result      string
	Description string

	fn func(b *bridge, L *glua.LState) int

	// settles marks an async capability that returns ok, value instead of
	// raising on failure.
	settles bool
}

func p(name, typ string) Param   { return Param{Name: name, Type: typ} }
func opt(name, typ string) Param { return Param{Name: name, Type: typ, Optional: true} }

var catalog = []Capability{
	// Snapshot reads.
	{Name: "get_active_buffer_id", Convention: FastSync, Result: "int?",
		Description: "Id of the active buffer, or nil.", fn: (*bridge).getActiveBufferID},
	{Name: "get_cursor_position", Convention: FastSync, Result: "int",
		Description: "Byte offset of the primary cursor.", fn: (*bridge).getCursorPosition},
	{Name: "get_buffer_path", Convention: FastSync, Params: []Param{p("buffer_id", "int")}, Result: "string",
		Description: "File path of a buffer; empty for virtual buffers.", fn: (*bridge).getBufferPath},
	{Name: "get_buffer_length", Convention: FastSync, Params: []Param{p("buffer_id", "int")}, Result: "int",
		Description: "Length of a buffer in bytes.", fn: (*bridge).getBufferLength},
	{Name: "is_buffer_modified", Convention: FastSync, Params: []Param{p("buffer_id", "int")}, Result: "bool",
		Description: "Whether a buffer has unsaved changes.", fn: (*bridge).isBufferModified},
	{Name: "get_clipboard", Convention: FastSync, Result: "string",
		Description: "Clipboard contents.", fn: (*bridge).getClipboard},
	{Name: "get_cwd", Convention: FastSync, Result: "string",
		Description: "Host working directory.", fn: (*bridge).getCwd},
	{Name: "get_snapshot_version", Convention: FastSync, Result: "int",
		Description: "Version of the snapshot the next read will use.", fn: (*bridge).getSnapshotVersion},

	// Fire and forget mutations. Only the buffer id is checked against the
	// snapshot; offsets are checked when the host applies the command, since
	// earlier queued edits may have changed the length.
	{Name: "insert_text", Convention: FastSync,
		Params: []Param{p("buffer_id", "int"), p("position", "int"), p("text", "string")}, Result: "true",
		Description: "Insert text at a byte offset. An offset past the end is rejected by the host, not the call.", fn: (*bridge).insertText},
	{Name: "delete_range", Convention: FastSync,
		Params: []Param{p("buffer_id", "int"), p("start", "int"), p("end", "int")}, Result: "true",
		Description: "Delete a byte range. A range past the end is rejected by the host, not the call.", fn: (*bridge).deleteRange},
	{Name: "set_cursor", Convention: FastSync,
		Params: []Param{p("buffer_id", "int"), p("position", "int")}, Result: "true",
		Description: "Move the primary cursor.", fn: (*bridge).setCursor},
	{Name: "set_status", Convention: FastSync, Params: []Param{p("message", "string")}, Result: "true",
		Description: "Show a status line message.", fn: (*bridge).setStatus},
	{Name: "set_clipboard", Convention: FastSync, Params: []Param{p("text", "string")}, Result: "true",
		Description: "Replace the clipboard contents.", fn: (*bridge).setClipboard},
	{Name: "open_file", Convention: FastSync,
		Params: []Param{p("path", "string"), opt("line", "int"), opt("column", "int")}, Result: "true",
		Description: "Open a file, optionally at a position.", fn: (*bridge).openFile},
	{Name: "add_overlay", Convention: FastSync,
		Params: []Param{p("buffer_id", "int"), p("namespace", "string"), p("start", "int"), p("end", "int"), p("style", "string")},
		Result: "true", Description: "Decorate a byte range. A range past the end is rejected by the host, not the call.", fn: (*bridge).addOverlay},
	{Name: "clear_namespace", Convention: FastSync,
		Params: []Param{p("buffer_id", "int"), p("namespace", "string")}, Result: "true",
		Description: "Remove all overlays in a namespace.", fn: (*bridge).clearNamespace},
	{Name: "unregister_command", Convention: FastSync, Params: []Param{p("name", "string")}, Result: "true",
		Description: "Remove a palette command.", fn: (*bridge).unregisterCommand},

	// Event registration.
	{Name: "on", Convention: FastSync, Params: []Param{p("event_name", "string"), p("handler_name", "string")},
		Result: "bool", Description: "Register a global function by name as an event handler.", fn: (*bridge).on},
	{Name: "off", Convention: FastSync, Params: []Param{p("event_name", "string"), p("handler_name", "string")},
		Result: "bool", Description: "Remove an event handler registration.", fn: (*bridge).off},
	{Name: "list_handlers", Convention: SyncSerialized, Params: []Param{p("event_name", "string")},
		Result: "[string]", Description: "Handler names registered for an event.", fn: (*bridge).listHandlers},

	// Structured reads.
	{Name: "get_primary_cursor", Convention: SyncSerialized, Result: "cursor",
		Description: "Primary cursor with its selection.", fn: (*bridge).getPrimaryCursor},
	{Name: "get_all_cursors", Convention: SyncSerialized, Result: "[cursor]",
		Description: "All cursors of the active buffer.", fn: (*bridge).getAllCursors},
	{Name: "get_viewport", Convention: SyncSerialized, Result: "viewport",
		Description: "Visible region of the active buffer.", fn: (*bridge).getViewport},
	{Name: "list_buffers", Convention: SyncSerialized, Result: "[buffer]",
		Description: "Metadata of every open buffer.", fn: (*bridge).listBuffers},
	{Name: "get_buffer_info", Convention: SyncSerialized, Params: []Param{p("buffer_id", "int")}, Result: "buffer",
		Description: "Metadata of one buffer.", fn: (*bridge).getBufferInfo},
	{Name: "get_config", Convention: SyncSerialized, Params: []Param{opt("path", "string")}, Result: "any",
		Description: "Host configuration value at a dotted path.", fn: (*bridge).getConfig},
	{Name: "get_env", Convention: SyncSerialized, Params: []Param{p("name", "string")}, Result: "string?",
		Description: "Environment variable of the host process.", fn: (*bridge).getEnv},
	{Name: "path_join", Convention: SyncSerialized, Params: []Param{p("parts", "string...")}, Result: "string",
		Description: "Join path elements.", fn: (*bridge).pathJoin},
	{Name: "path_dirname", Convention: SyncSerialized, Params: []Param{p("path", "string")}, Result: "string",
		Description: "Directory part of a path.", fn: (*bridge).pathDirname},
	{Name: "path_basename", Convention: SyncSerialized, Params: []Param{p("path", "string")}, Result: "string",
		Description: "Last element of a path.", fn: (*bridge).pathBasename},
	{Name: "path_extname", Convention: SyncSerialized, Params: []Param{p("path", "string")}, Result: "string",
		Description: "Extension of a path including the dot.", fn: (*bridge).pathExtname},
	{Name: "path_is_absolute", Convention: SyncSerialized, Params: []Param{p("path", "string")}, Result: "bool",
		Description: "Whether a path is absolute.", fn: (*bridge).pathIsAbsolute},

	// Host registries and config.
	{Name: "register_command", Convention: SyncSerialized,
		Params: []Param{p("spec", "{name, description, action, contexts?}")}, Result: "true",
		Description: "Add a palette command bound to a global action function.", fn: (*bridge).registerCommand},
	{Name: "set_config", Convention: SyncSerialized, Params: []Param{p("path", "string"), p("value", "any")},
		Result: "true", Description: "Set a host configuration value.", fn: (*bridge).setConfig},
	{Name: "log", Convention: FastSync, Params: []Param{p("level", "string"), p("message", "string")},
		Description: "Write to the host log.", fn: (*bridge).log},

	// Processes and tasks.
	{Name: "spawn_background_process", Convention: SyncSerialized,
		Params: []Param{p("command", "string"), opt("args", "[string]"), opt("cwd", "string")}, Result: "int",
		Description: "Start a long running process and return its id.", fn: (*bridge).spawnBackgroundProcess},
	{Name: "kill_process", Convention: FastSync, Params: []Param{p("process_id", "int")}, Result: "bool",
		Description: "Kill a background process.", fn: (*bridge).killProcess},
	{Name: "is_process_running", Convention: FastSync, Params: []Param{p("process_id", "int")}, Result: "bool",
		Description: "Whether a background process is still running.", fn: (*bridge).isProcessRunning},
	{Name: "spawn", Convention: SyncSerialized, Params: []Param{p("fn", "function"), opt("args", "any...")},
		Result: "task", Description: "Run a function as a background task.", fn: (*bridge).spawn},
	{Name: "settle", Convention: Async, Params: []Param{p("task", "task")}, Result: "ok, value",
		Description: "Wait for a task and return its status without raising.", fn: (*bridge).settle, settles: true},
	{Name: "await", Convention: Async, Params: []Param{p("task", "task")}, Result: "any",
		Description: "Wait for a task and return its result, raising its error.", fn: (*bridge).await},

	// Host round trips.
	{Name: "read_file", Convention: Async, Params: []Param{p("path", "string")}, Result: "string",
		Description: "Read a file through the host.", fn: (*bridge).readFile},
	{Name: "write_file", Convention: Async, Params: []Param{p("path", "string"), p("content", "string")},
		Result: "true", Description: "Write a file through the host.", fn: (*bridge).writeFile},
	{Name: "get_buffer_text", Convention: Async,
		Params: []Param{p("buffer_id", "int"), opt("start", "int"), opt("end", "int")}, Result: "string",
		Description: "Text of a buffer range.", fn: (*bridge).getBufferText},
	{Name: "create_virtual_buffer", Convention: Async,
		Params: []Param{p("spec", "{name, content, read_only?}")}, Result: "int",
		Description: "Create a buffer not backed by a file.", fn: (*bridge).createVirtualBuffer},
	{Name: "save_buffer", Convention: Async, Params: []Param{p("buffer_id", "int")}, Result: "string",
		Description: "Save a buffer and return the written path.", fn: (*bridge).saveBuffer},
	{Name: "spawn_process", Convention: Async,
		Params: []Param{p("command", "string"), opt("args", "[string]"), opt("cwd", "string")},
		Result: "{stdout, stderr, exit_code}", Description: "Run a process to completion.", fn: (*bridge).spawnProcess},
	{Name: "delay", Convention: Async, Params: []Param{p("milliseconds", "int")},
		Description: "Suspend the calling task for a duration.", fn: (*bridge).delay},
}

var catalogIndex = func() map[string]int {
	idx := make(map[string]int, len(catalog))
	for i, c := range catalog {
		idx[c.Name] = i
	}
	return idx
}()

// Catalog returns a copy of the capability catalog in declaration order.
func Catalog() []Capability {
	out := make([]Capability, len(catalog))
	for i, c := range catalog {
		c.Params = append([]Param(nil), c.Params...)
		out[i] = c
	}
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Capability, bool) {
	i, ok := catalogIndex[name]
	if !ok {
		return Capability{}, false
	}
	c := catalog[i]
	c.Params = append([]Param(nil), c.Params...)
	return c, true
}

// ErrInvalidCatalog is returned by ValidateCatalog.
var ErrInvalidCatalog = errors.New("invalid capability catalog")

// ValidateCatalog checks that every capability has a unique name, a known
// convention and an implementation.
func ValidateCatalog() error {
	seen := make(map[string]bool, len(catalog))
	for i, c := range catalog {
		switch {
		case c.Name == "":
			return fmt.Errorf("%w: entry %d has no name", ErrInvalidCatalog, i)
		case seen[c.Name]:
			return fmt.Errorf("%w: duplicate capability %s", ErrInvalidCatalog, c.Name)
		case c.fn == nil:
			return fmt.Errorf("%w: %s has no implementation", ErrInvalidCatalog, c.Name)
		case c.Convention < FastSync || c.Convention > Async:
			return fmt.Errorf("%w: %s has unknown convention %d", ErrInvalidCatalog, c.Name, c.Convention)
		case c.settles && c.Convention != Async:
			return fmt.Errorf("%w: %s settles but is not async", ErrInvalidCatalog, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
