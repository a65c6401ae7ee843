package plugin

import (
	"errors"

	"github.com/dshills/extbridge/internal/plugin/event"
)

// Plugin system errors.
var (
	// ErrDisabled is returned by Start when extensions are disabled in the
	// configuration. No engine is created.
	ErrDisabled = errors.New("extensions are disabled")

	// ErrPlatformInit is returned when process-wide engine initialisation
	// failed. Every later Start returns it as well.
	ErrPlatformInit = errors.New("script platform initialisation failed")

	// ErrEngineInit is returned when the plugin goroutine could not build
	// the runtime.
	ErrEngineInit = errors.New("script engine initialisation failed")

	// ErrShutdown is returned for submissions after Shutdown.
	ErrShutdown = errors.New("plugin manager is shut down")

	// ErrUnknownEvent is returned by SubmitEvent for an event outside the
	// event surface.
	ErrUnknownEvent = event.ErrUnknownEvent

	// ErrNoEntryPoint is returned when a module directory has no init.lua.
	ErrNoEntryPoint = errors.New("module has no entry point (init.lua)")

	// ErrModuleNotFound is returned when a module cannot be located.
	ErrModuleNotFound = errors.New("module not found")

	// ErrActionNotFound is returned when an action name does not resolve to
	// a global function.
	ErrActionNotFound = errors.New("action not found")

	// ErrAlreadyLoaded marks a module path loaded earlier in the session.
	ErrAlreadyLoaded = errors.New("module is already loaded")
)
