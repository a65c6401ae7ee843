// Package lua runs extension code on a single owner goroutine.
package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Default engine limits.
const (
	DefaultCallStackSize   = 200
	DefaultRegistrySize    = 1024
	DefaultRegistryMaxSize = 1024 * 256
)

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. A State is owned by the
// goroutine running its Executor and must only be touched from there.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	sandbox *Sandbox
	closed  bool
}

type stateConfig struct {
	callStackSize int
	registrySize  int
	registryMax   int
	print         PrintFunc
	preload       map[string]lua.LGFunction
}

// StateOption configures a State.
type StateOption func(*stateConfig)

// WithCallStackSize sets the call stack depth of the state and of every
// coroutine it creates.
func WithCallStackSize(n int) StateOption {
	return func(c *stateConfig) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// WithRegistrySize sets the initial and maximum data stack size.
func WithRegistrySize(initial, max int) StateOption {
	return func(c *stateConfig) {
		if initial > 0 {
			c.registrySize = initial
		}
		if max >= initial {
			c.registryMax = max
		}
	}
}

// WithPrint routes the print builtin to fn.
func WithPrint(fn PrintFunc) StateOption {
	return func(c *stateConfig) {
		c.print = fn
	}
}

// WithPreload makes a module available to require.
func WithPreload(name string, loader lua.LGFunction) StateOption {
	return func(c *stateConfig) {
		if c.preload == nil {
			c.preload = make(map[string]lua.LGFunction)
		}
		c.preload[name] = loader
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	cfg := stateConfig{
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
		registryMax:   DefaultRegistryMaxSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       cfg.callStackSize,
		RegistrySize:        cfg.registrySize,
		RegistryMaxSize:     cfg.registryMax,
		MinimizeStackMemory: true,
	})

	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, err
	}
	installErrorType(L)

	sandbox := NewSandbox(L)
	sandbox.SetPrint(cfg.print)
	for name, loader := range cfg.preload {
		sandbox.Allow(name)
		L.PreloadModule(name, loader)
	}
	sandbox.Install()

	return &State{L: L, sandbox: sandbox}, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
// io, os and debug are intentionally not opened.
func openSafeLibraries(L *lua.LState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open libraries: %v", r)
		}
	}()

	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	for _, lib := range libs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return nil
}

// Sandbox returns the sandbox installed on the state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. It is safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
