package lua

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// asyncPrelude turns a function returning ok, value into one that returns
// value or raises it. The raise function is passed in so scripts that
// redefine the error global do not change capability behavior.
const asyncPrelude = `local call, raise = ...
return function(...)
	local ok, res = call(...)
	if not ok then
		raise(res, 0)
	end
	return res
end
`

var (
	platformOnce sync.Once
	platformErr  error
	preludeProto *lua.FunctionProto
)

// InitPlatform prepares process-wide engine resources. It runs once; later
// calls return the first result.
func InitPlatform() error {
	platformOnce.Do(func() {
		preludeProto, platformErr = compileSource("=async_prelude", asyncPrelude)
		if platformErr != nil {
			platformErr = fmt.Errorf("compile async prelude: %w", platformErr)
		}
	})
	return platformErr
}

// WrapAsync returns a Lua function that calls fn, which must return ok and a
// value, and raises the value when ok is false.
func WrapAsync(L *lua.LState, fn lua.LGFunction) (*lua.LFunction, error) {
	if err := InitPlatform(); err != nil {
		return nil, err
	}

	L.Push(L.NewFunctionFromProto(preludeProto))
	L.Push(L.NewFunction(fn))
	L.Push(L.GetGlobal("error"))
	if err := L.PCall(2, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	wrapper, ok := ret.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("async prelude returned %s", ret.Type())
	}
	return wrapper, nil
}

func compileSource(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, name)
}
