package lua

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestNewState(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	defer state.Close()

	if state.L == nil {
		t.Error("LState should not be nil")
	}
	if state.Sandbox() == nil {
		t.Error("Sandbox should not be nil")
	}
}

func TestStateSafeLibraries(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	defer state.Close()

	for _, name := range []string{"string", "table", "math", "coroutine"} {
		if state.L.GetGlobal(name).Type() != lua.LTTable {
			t.Errorf("%s library should be open", name)
		}
	}
	for _, name := range []string{"io", "os", "debug"} {
		if state.L.GetGlobal(name) != lua.LNil {
			t.Errorf("%s library should not be open", name)
		}
	}
}

func TestStateDangerousFunctionsRemoved(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	defer state.Close()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		if state.L.GetGlobal(name) != lua.LNil {
			t.Errorf("%s should be removed", name)
		}
	}
}

func TestStateClose(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}

	if state.IsClosed() {
		t.Error("new state should not be closed")
	}
	if err := state.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if !state.IsClosed() {
		t.Error("state should be closed")
	}
}

func TestStatePrintIsRouted(t *testing.T) {
	var lines []string
	state, err := NewState(WithPrint(func(L *lua.LState, line string) {
		lines = append(lines, line)
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer state.Close()

	if err := state.L.DoString(`print("hello", 42, true)`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if len(lines) != 1 || lines[0] != "hello\t42\ttrue" {
		t.Errorf("lines = %q", lines)
	}
}

func TestStateOptions(t *testing.T) {
	state, err := NewState(WithCallStackSize(50), WithRegistrySize(512, 4096))
	if err != nil {
		t.Fatal(err)
	}
	defer state.Close()

	if state.L.Options.CallStackSize != 50 {
		t.Errorf("CallStackSize = %d, want 50", state.L.Options.CallStackSize)
	}
	if state.L.Options.RegistrySize != 512 {
		t.Errorf("RegistrySize = %d, want 512", state.L.Options.RegistrySize)
	}
}

func TestStateSyntaxError(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	defer state.Close()

	err = state.L.DoString("this is not valid lua")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !strings.Contains(err.Error(), "syntax error") && !strings.Contains(err.Error(), "parse") {
		t.Logf("syntax error message: %v", err)
	}
}
