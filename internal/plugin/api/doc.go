// Package api provides the capability table exposed to extension scripts.
//
// Install creates a single global table, editor, holding one function per
// catalog entry. Every capability follows one of three calling conventions:
//
//   - FastSync: returns a primitive read from the current snapshot, or
//     enqueues a command on the command channel and returns true.
//   - SyncSerialized: returns a table built from the snapshot, the host
//     configuration or a pure helper. No host round trip.
//   - Async: mints a request id in the correlation table, enqueues a
//     correlated command and suspends the calling task until the host
//     responds.
//
// From a script the conventions look the same; async calls simply take
// longer to return:
//
//	local id = editor.get_active_buffer_id()
//	local text = editor.get_buffer_text(id)
//	editor.set_status("read " .. #text .. " bytes")
//
// # Errors
//
// A capability that cannot complete raises a typed error table with kind,
// op and message fields and a __tostring metamethod. The kinds are
// CapabilityError and ChannelClosedError. Invalid targets such as an unknown
// buffer id always raise; they never read as an empty default.
//
// # Tasks
//
// Async capabilities can only suspend a scheduler task and cannot suspend
// inside pcall. editor.spawn runs a function as a separate task, editor.await
// waits for it and re-raises its error, and editor.settle waits for it and
// returns ok, value without raising. These three, spawn_process and delay
// complete without a host command: their requests are resolved by task
// completion, the process supervisor or a timer.
//
// # Versioning
//
// The catalog is fixed at build time. Catalog returns a copy and
// editor.api_version reports Version.
package api
