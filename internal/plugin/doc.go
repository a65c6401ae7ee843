// Package plugin runs editor extensions written in Lua on a dedicated
// goroutine and connects them to the host.
//
// Extensions can:
//   - Read host state from the most recently published snapshot
//   - Queue mutations (insert, delete, cursor, status, overlays)
//   - Ask the host for work that needs a reply (file I/O, buffer text)
//   - Subscribe handlers to host events, some of which can be cancelled
//   - Register palette commands and run background processes
//
// # Quick Start
//
//	modules, _ := plugin.NewLoader(plugin.WithPaths(cfg.Plugins.Paths...)).Discover()
//
//	mgr, err := plugin.Start(ctx, plugin.EntryPoints(modules),
//	    plugin.WithConfig(cfg.Plugins),
//	    plugin.WithLogger(logger),
//	)
//	if errors.Is(err, plugin.ErrDisabled) {
//	    // run without extensions
//	}
//	defer mgr.Shutdown(context.Background())
//
// # Host Loop
//
// The host owns the editor state. Once per iteration it:
//
//  1. drains mgr.Commands() and applies each envelope in order
//  2. publishes a fresh snapshot to mgr.Snapshots()
//  3. answers correlated envelopes with mgr.DeliverResponse
//
// Events go in through SubmitEvent and palette actions through
// ExecuteAction. Both return a Dispatch immediately; the host polls
// Dispatch.Done rather than waiting on script code.
//
// # Module Layout
//
// A module is either a single file:
//
//	~/.config/extbridge/plugins/wordcount.lua
//
// or a directory with an entry point:
//
//	~/.config/extbridge/plugins/formatter/
//	└── init.lua
//
// All modules share one global scope and the editor capability table.
// Locals stay private to the module that declares them.
//
// # Thread Safety
//
// Manager methods may be called from any goroutine. The Lua state is only
// touched by the plugin goroutine.
package plugin
