package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Kinds of typed error values raised into script code.
const (
	KindCapabilityError    = "CapabilityError"
	KindChannelClosedError = "ChannelClosedError"
)

const errorTypeName = "extbridge.error"

func installErrorType(L *lua.LState) {
	mt := L.NewTypeMetatable(errorTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		L.Push(lua.LString(formatErrorTable(t)))
		return 1
	}))
}

// NewErrorValue builds a typed error table {kind, op, message}.
func NewErrorValue(L *lua.LState, kind, op, message string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("kind", lua.LString(kind))
	t.RawSetString("op", lua.LString(op))
	t.RawSetString("message", lua.LString(message))
	if mt, ok := L.GetTypeMetatable(errorTypeName).(*lua.LTable); ok {
		L.SetMetatable(t, mt)
	}
	return t
}

// RaiseError raises a typed error value. It does not return.
func RaiseError(L *lua.LState, kind, op, format string, args ...any) {
	L.Error(NewErrorValue(L, kind, op, fmt.Sprintf(format, args...)), 1)
}

// ErrorKind returns the kind of a typed error value.
func ErrorKind(lv lua.LValue) (string, bool) {
	t, ok := lv.(*lua.LTable)
	if !ok {
		return "", false
	}
	kind, ok := t.RawGetString("kind").(lua.LString)
	if !ok {
		return "", false
	}
	return string(kind), true
}

func formatErrorTable(t *lua.LTable) string {
	kind := lua.LVAsString(t.RawGetString("kind"))
	op := lua.LVAsString(t.RawGetString("op"))
	msg := lua.LVAsString(t.RawGetString("message"))
	if op == "" {
		return kind + ": " + msg
	}
	return kind + ": " + op + ": " + msg
}

// scriptErrorFrom converts an error returned by Resume or PCall.
func scriptErrorFrom(where string, err error) *ScriptError {
	se := &ScriptError{Where: where, Message: err.Error()}
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return se
	}
	switch v := apiErr.Object.(type) {
	case lua.LString:
		se.Message = string(v)
	case *lua.LTable:
		if kind, ok := ErrorKind(v); ok {
			se.Kind = kind
			se.Message = lua.LVAsString(v.RawGetString("message"))
			if op := lua.LVAsString(v.RawGetString("op")); op != "" {
				se.Message = op + ": " + se.Message
			}
		} else {
			se.Message = v.String()
		}
	case nil:
	default:
		se.Message = v.String()
	}
	return se
}
