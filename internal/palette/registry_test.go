package palette

import (
	"errors"
	"testing"
)

func noop() error { return nil }

func newTestRegistry() *Registry {
	return NewRegistry(
		&Command{Name: "Save File", Description: "Write the active buffer", Handler: noop},
		&Command{Name: "Quit", Handler: noop},
	)
}

func names(cmds []*Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRegistry(t *testing.T) {
	r := newTestRegistry()

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if r.ExtensionCount() != 0 {
		t.Errorf("ExtensionCount() = %d, want 0", r.ExtensionCount())
	}
	cmd, ok := r.Find("Quit")
	if !ok || cmd.Source != "builtin" {
		t.Errorf("Find(Quit) = %+v, %v", cmd, ok)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := newTestRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil command")
	}
	if err := r.Register(&Command{Action: "fn"}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(&Command{Name: "Nothing"}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Register() error = %v, want ErrNoHandler", err)
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := newTestRegistry()

	_ = r.Register(&Command{Name: "Test Command", Description: "First version", Action: "first"})
	_ = r.Register(&Command{Name: "Other", Action: "other"})
	_ = r.Register(&Command{Name: "Test Command", Description: "Second version", Action: "second"})

	if r.ExtensionCount() != 2 {
		t.Fatalf("ExtensionCount() = %d, want 2", r.ExtensionCount())
	}
	cmd, ok := r.Find("Test Command")
	if !ok || cmd.Description != "Second version" || cmd.Action != "second" {
		t.Errorf("Find() = %+v", cmd)
	}

	want := []string{"Save File", "Quit", "Other", "Test Command"}
	if got := names(r.All()); !equal(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}

func TestExtensionShadowsBuiltin(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "Quit", Action: "confirm_quit", Source: "guard"})

	cmd, _ := r.Find("Quit")
	if !cmd.IsExtension() || cmd.Action != "confirm_quit" {
		t.Errorf("Find(Quit) = %+v, want extension command", cmd)
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}

	r.Unregister("Quit")
	cmd, _ = r.Find("Quit")
	if cmd.IsExtension() {
		t.Error("built-in should be visible again after unregister")
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "Test Command", Action: "x"})

	if !r.Unregister("Test Command") {
		t.Error("Unregister() = false, want true")
	}
	if r.Unregister("Test Command") {
		t.Error("second Unregister() = true, want false")
	}
	if r.Unregister("Save File") {
		t.Error("built-ins cannot be unregistered")
	}
}

func TestUnregisterByPrefix(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "Plugin A: Command 1", Action: "a1"})
	_ = r.Register(&Command{Name: "Plugin A: Command 2", Action: "a2"})
	_ = r.Register(&Command{Name: "Plugin B: Command", Action: "b"})

	if n := r.UnregisterByPrefix("Plugin A:"); n != 2 {
		t.Errorf("UnregisterByPrefix() = %d, want 2", n)
	}
	want := []string{"Save File", "Quit", "Plugin B: Command"}
	if got := names(r.All()); !equal(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}

func TestUnregisterBySource(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "One", Action: "one", Source: "load fmt"})
	_ = r.Register(&Command{Name: "Two", Action: "two", Source: "load lint"})

	if n := r.UnregisterBySource("load fmt"); n != 1 {
		t.Errorf("UnregisterBySource() = %d, want 1", n)
	}
	if _, ok := r.Find("One"); ok {
		t.Error("One should be gone")
	}
}

func TestAllReturnsCopies(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "Cmd", Action: "cmd", Contexts: []string{"normal"}})

	all := r.All()
	all[2].Name = "mutated"
	all[2].Contexts[0] = "insert"

	cmd, ok := r.Find("Cmd")
	if !ok || cmd.Contexts[0] != "normal" {
		t.Errorf("registry was modified through All(): %+v", cmd)
	}
}

func TestFilter(t *testing.T) {
	r := newTestRegistry()
	_ = r.Register(&Command{Name: "Format Document", Action: "fmt", Contexts: []string{"insert"}})
	_ = r.Register(&Command{Name: "Find Files", Action: "find"})

	tests := []struct {
		name    string
		query   string
		context string
		want    []string
		enabled []bool
	}{
		{"empty query lists all", "", "normal",
			[]string{"Save File", "Quit", "Find Files", "Format Document"},
			[]bool{true, true, true, false}},
		{"subsequence", "fdoc", "normal",
			[]string{"Format Document"}, []bool{false}},
		{"case insensitive", "SAVE", "normal",
			[]string{"Save File"}, []bool{true}},
		{"available in context", "f", "insert",
			[]string{"Save File", "Format Document", "Find Files"},
			[]bool{true, true, true}},
		{"disabled sorted last", "f", "normal",
			[]string{"Save File", "Find Files", "Format Document"},
			[]bool{true, true, false}},
		{"no match", "xyz", "normal", nil, nil},
		{"order matters", "elif", "normal", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Filter(tt.query, tt.context)
			if len(got) != len(tt.want) {
				t.Fatalf("Filter(%q) returned %d matches, want %d", tt.query, len(got), len(tt.want))
			}
			for i, m := range got {
				if m.Command.Name != tt.want[i] || m.Enabled != tt.enabled[i] {
					t.Errorf("match %d = %s (enabled %v), want %s (enabled %v)",
						i, m.Command.Name, m.Enabled, tt.want[i], tt.enabled[i])
				}
			}
		})
	}
}

func TestHighlight(t *testing.T) {
	r := newTestRegistry()
	matches := r.Filter("sf", "")
	if len(matches) != 1 {
		t.Fatalf("Filter() returned %d matches", len(matches))
	}

	got := Highlight(matches[0].Command.Name, matches[0].Positions, "[", "]")
	if got != "[S]ave [F]ile" {
		t.Errorf("Highlight() = %q", got)
	}
	if Highlight("Quit", nil, "[", "]") != "Quit" {
		t.Error("Highlight without positions should return the name")
	}
}

func TestOnChange(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	r.OnChange(func() { calls++ })

	_ = r.Register(&Command{Name: "A", Action: "a"})
	r.Unregister("A")
	r.Unregister("A")
	r.UnregisterByPrefix("nothing")

	if calls != 2 {
		t.Errorf("OnChange called %d times, want 2", calls)
	}
}
