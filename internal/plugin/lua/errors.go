package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrModuleNotFound is returned when a module file does not exist.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNotInTask is returned when an async operation is attempted outside
	// a scheduler task.
	ErrNotInTask = errors.New("async call outside of a task")

	// ErrProtectedCall is returned when an async operation is attempted
	// inside pcall or xpcall.
	ErrProtectedCall = errors.New("async call inside pcall; use editor.spawn and editor.settle")
)

// LoadError reports a module that could not be read, parsed or compiled.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ScriptError reports an uncaught error raised by script code.
type ScriptError struct {
	// Where names the entry point, for example "load foo" or "handler on_save".
	Where string

	// Kind is the kind field of a typed error value, or empty for plain errors.
	Kind string

	Message string
}

func (e *ScriptError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s: %s", e.Where, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Where, e.Message)
}
