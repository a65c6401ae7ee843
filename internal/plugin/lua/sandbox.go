package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// PrintFunc receives the text of one print call.
type PrintFunc func(L *lua.LState, line string)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	print   PrintFunc
	allowed map[string]bool

	onProtect func(L *lua.LState, delta int)
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L: L,
		allowed: map[string]bool{
			"string":    true,
			"table":     true,
			"math":      true,
			"coroutine": true,
		},
	}
}

// SetPrint sets the print destination. A nil fn discards output.
func (s *Sandbox) SetPrint(fn PrintFunc) {
	s.print = fn
}

// Allow adds a module name to the require whitelist.
func (s *Sandbox) Allow(name string) {
	s.allowed[name] = true
}

// OnProtectedCall registers fn to run with delta +1 when pcall or xpcall is
// entered and -1 when it returns.
func (s *Sandbox) OnProtectedCall(fn func(L *lua.LState, delta int)) {
	s.onProtect = fn
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.L.SetGlobal("print", s.L.NewFunction(s.safePrint))
	s.L.SetGlobal("pcall", s.L.NewFunction(s.protectedCall))
	s.L.SetGlobal("xpcall", s.L.NewFunction(s.protectedXCall))
	s.installSafeRequire()
}

func (s *Sandbox) safePrint(L *lua.LState) int {
	if s.print == nil {
		return 0
	}
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.print(L, strings.Join(parts, "\t"))
	return 0
}

func (s *Sandbox) enter(L *lua.LState) func() {
	if s.onProtect == nil {
		return func() {}
	}
	s.onProtect(L, 1)
	return func() { s.onProtect(L, -1) }
}

// protectedCall is pcall with protected-call tracking.
func (s *Sandbox) protectedCall(L *lua.LState) int {
	L.CheckAny(1)
	v := L.Get(1)
	if v.Type() != lua.LTFunction && L.GetMetaField(v, "__call").Type() != lua.LTFunction {
		L.Push(lua.LFalse)
		L.Push(lua.LString("attempt to call a " + v.Type().String() + " value"))
		return 2
	}

	leave := s.enter(L)
	err := L.PCall(L.GetTop()-1, lua.MultRet, nil)
	leave()

	if err != nil {
		L.Push(lua.LFalse)
		L.Push(errorObject(err))
		return 2
	}
	L.Insert(lua.LTrue, 1)
	return L.GetTop()
}

// protectedXCall is xpcall with protected-call tracking.
func (s *Sandbox) protectedXCall(L *lua.LState) int {
	fn := L.CheckFunction(1)
	handler := L.CheckFunction(2)

	top := L.GetTop()
	L.Push(fn)

	leave := s.enter(L)
	err := L.PCall(0, lua.MultRet, handler)
	leave()

	if err != nil {
		L.Push(lua.LFalse)
		L.Push(errorObject(err))
		return 2
	}
	L.Insert(lua.LTrue, top+1)
	return L.GetTop() - top
}

func errorObject(err error) lua.LValue {
	if apiErr, ok := err.(*lua.ApiError); ok {
		return apiErr.Object
	}
	return lua.LString(err.Error())
}

// installSafeRequire replaces require with a version that only loads
// whitelisted built-in and preloaded modules. package.path and
// package.cpath are cleared so nothing is loaded from disk.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.allowed[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}
