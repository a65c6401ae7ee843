// Package event delivers host events to extension handlers.
//
// The Surface is the closed list of events the host emits, each with a JSON
// Schema for its payload. The Registry maps event names to handler names in
// registration order. The Dispatcher resolves each handler name at dispatch
// time through an Invoker, so a handler may be registered before the function
// exists or be redefined later.
package event
