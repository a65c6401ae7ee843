// Package host is a headless reference editor that drives the extension
// runtime.
//
// It keeps a set of in-memory buffers, applies the commands scripts send,
// publishes snapshots, answers requests and raises editor events. The CLI
// uses it to run extensions without a terminal, and the tests use it to
// exercise full round trips between Lua code and the host.
//
// An Editor is owned by one goroutine. Call Tick or RunUntilIdle from that
// goroutine only.
package host
