package api

import (
	"errors"
	"fmt"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/lua"
)

// CapabilityError reports a capability call that could not complete.
type CapabilityError struct {
	Op      string
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// ErrUnknownBuffer is wrapped by capability errors naming a buffer that is
// not in the current snapshot.
var ErrUnknownBuffer = errors.New("unknown buffer")

// ErrNoActiveBuffer is wrapped by capability errors that need an active buffer.
var ErrNoActiveBuffer = errors.New("no active buffer")

// errorKind maps a Go error to the kind of Lua error value raised for it.
func errorKind(err error) string {
	if errors.Is(err, command.ErrChannelClosed) {
		return lua.KindChannelClosedError
	}
	return lua.KindCapabilityError
}

// errorValue builds the Lua error value for err.
func errorValue(L *glua.LState, op string, err error) *glua.LTable {
	msg := err.Error()
	var ce *CapabilityError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	return lua.NewErrorValue(L, errorKind(err), op, msg)
}

// raise raises err as a typed Lua error. It does not return.
func raise(L *glua.LState, op string, err error) {
	L.Error(errorValue(L, op, err), 1)
}

func capErr(op string, err error, format string, args ...any) *CapabilityError {
	return &CapabilityError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}
