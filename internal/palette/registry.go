package palette

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds built-in and extension commands.
type Registry struct {
	mu        sync.RWMutex
	builtins  []*Command
	extension []*Command

	// onChange callbacks run after the extension command set changes.
	onChange []func()
}

// NewRegistry creates a registry with the given built-in commands.
func NewRegistry(builtins ...*Command) *Registry {
	r := &Registry{}
	for _, cmd := range builtins {
		if cmd == nil {
			continue
		}
		cp := cmd.clone()
		if cp.Source == "" {
			cp.Source = "builtin"
		}
		r.builtins = append(r.builtins, cp)
	}
	return r
}

// Register adds an extension command. A command with the same name is
// replaced and moves to the end of the list.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}
	if err := cmd.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.extension = removeWhere(r.extension, func(c *Command) bool { return c.Name == cmd.Name })
	r.extension = append(r.extension, cmd.clone())
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

// Unregister removes the extension command with the given name.
func (r *Registry) Unregister(name string) bool {
	return r.unregisterWhere(func(c *Command) bool { return c.Name == name }) > 0
}

// UnregisterByPrefix removes every extension command whose name starts
// with prefix and returns how many were removed.
func (r *Registry) UnregisterByPrefix(prefix string) int {
	return r.unregisterWhere(func(c *Command) bool { return strings.HasPrefix(c.Name, prefix) })
}

// UnregisterBySource removes all extension commands from a specific source.
func (r *Registry) UnregisterBySource(source string) int {
	return r.unregisterWhere(func(c *Command) bool { return c.Source == source })
}

func (r *Registry) unregisterWhere(match func(*Command) bool) int {
	r.mu.Lock()
	before := len(r.extension)
	r.extension = removeWhere(r.extension, match)
	removed := before - len(r.extension)
	r.mu.Unlock()

	if removed > 0 {
		r.notifyChange()
	}
	return removed
}

func removeWhere(cmds []*Command, match func(*Command) bool) []*Command {
	out := cmds[:0]
	for _, c := range cmds {
		if !match(c) {
			out = append(out, c)
		}
	}
	for i := len(out); i < len(cmds); i++ {
		cmds[i] = nil
	}
	return out
}

// Find returns the command with the given name. Extension commands shadow
// built-ins.
func (r *Registry) Find(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.extension {
		if c.Name == name {
			return c.clone(), true
		}
	}
	for _, c := range r.builtins {
		if c.Name == name {
			return c.clone(), true
		}
	}
	return nil, false
}

// All returns built-in commands followed by extension commands, each in
// registration order.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Command, 0, len(r.builtins)+len(r.extension))
	for _, c := range r.builtins {
		all = append(all, c.clone())
	}
	for _, c := range r.extension {
		all = append(all, c.clone())
	}
	return all
}

// ExtensionCount returns the number of extension commands.
func (r *Registry) ExtensionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.extension)
}

// Count returns the number of commands, built-in and extension.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.builtins) + len(r.extension)
}

// Filter returns the commands matching query, see Match.
func (r *Registry) Filter(query, context string) []Match {
	return filter(r.All(), query, context)
}

// OnChange registers a callback for extension command changes.
// Callbacks should not register or unregister commands.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// notifyChange calls the callbacks without holding the lock.
func (r *Registry) notifyChange() {
	r.mu.RLock()
	callbacks := make([]func(), len(r.onChange))
	copy(callbacks, r.onChange)
	r.mu.RUnlock()

	for _, fn := range callbacks {
		fn()
	}
}
