package palette

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Command is one palette entry.
type Command struct {
	// Name is shown in the palette and identifies the command.
	Name string

	Description string

	// Action names the extension function to run. Empty for built-ins.
	Action string

	// Handler runs a built-in command.
	Handler func() error

	// Contexts lists the input contexts the command is available in.
	// Empty means every context.
	Contexts []string

	// Source indicates where the command was registered, e.g. "builtin" or
	// the extension task that registered it.
	Source string
}

// ErrNoHandler is returned when a command has neither a handler nor an action.
var ErrNoHandler = errors.New("command has no handler")

// Available reports whether the command can run in context.
func (c *Command) Available(context string) bool {
	return len(c.Contexts) == 0 || slices.Contains(c.Contexts, context)
}

// IsExtension reports whether the command runs extension code.
func (c *Command) IsExtension() bool {
	return c.Action != ""
}

// SearchText returns the text matched by the palette filter.
func (c *Command) SearchText() string {
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		return c.Name
	}
	return c.Name + " " + desc
}

func (c *Command) validate() error {
	if c.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if c.Action == "" && c.Handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, c.Name)
	}
	return nil
}

func (c *Command) clone() *Command {
	cp := *c
	cp.Contexts = slices.Clone(c.Contexts)
	return &cp
}
