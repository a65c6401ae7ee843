package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Host event names.
const (
	EditorInitialized = "editor_initialized"
	BufferActivated   = "buffer_activated"
	AfterFileOpen     = "after_file_open"
	BeforeFileSave    = "before_file_save"
	AfterFileSave     = "after_file_save"
	BufferClosed      = "buffer_closed"
	BeforeInsert      = "before_insert"
	AfterInsert       = "after_insert"
	AfterDelete       = "after_delete"
	CursorMoved       = "cursor_moved"
	PromptConfirmed   = "prompt_confirmed"
)

var (
	// ErrUnknownEvent is returned for names outside the event surface.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrDuplicateEvent is returned when a surface defines a name twice.
	ErrDuplicateEvent = errors.New("duplicate event definition")
)

// PayloadError reports a payload that does not match its event's schema.
type PayloadError struct {
	Event    string
	Problems []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event %s: invalid payload: %s", e.Event, strings.Join(e.Problems, "; "))
}

// Definition describes one host event.
type Definition struct {
	Name        string
	Description string

	// Cancelable events let a handler abort the host action by returning false.
	Cancelable bool

	// Schema is a JSON Schema for the payload object.
	Schema string
}

type compiled struct {
	def    Definition
	schema *gojsonschema.Schema
}

// Surface is a closed set of event definitions.
type Surface struct {
	events map[string]*compiled
	names  []string
}

// NewSurface compiles the given definitions.
func NewSurface(defs ...Definition) (*Surface, error) {
	s := &Surface{events: make(map[string]*compiled, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("event definition without a name")
		}
		if _, exists := s.events[def.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, def.Name)
		}
		c := &compiled{def: def}
		if def.Schema != "" {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.Schema))
			if err != nil {
				return nil, fmt.Errorf("event %s: compile schema: %w", def.Name, err)
			}
			c.schema = schema
		}
		s.events[def.Name] = c
		s.names = append(s.names, def.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Lookup returns the definition for name.
func (s *Surface) Lookup(name string) (Definition, bool) {
	c, ok := s.events[name]
	if !ok {
		return Definition{}, false
	}
	return c.def, true
}

// Cancelable reports whether name is a known cancelable event.
func (s *Surface) Cancelable(name string) bool {
	c, ok := s.events[name]
	return ok && c.def.Cancelable
}

// Names returns the event names in sorted order.
func (s *Surface) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Validate checks that name is part of the surface and payload matches its
// schema. A nil payload is validated as an empty object.
func (s *Surface) Validate(name string, payload map[string]any) error {
	c, ok := s.events[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if c.schema == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("event %s: validate payload: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	perr := &PayloadError{Event: name}
	for _, desc := range result.Errors() {
		perr.Problems = append(perr.Problems, desc.String())
	}
	return perr
}

const (
	bufferOnly = `{
		"type": "object",
		"required": ["buffer_id"],
		"properties": {"buffer_id": {"type": "integer"}}
	}`
	bufferPath = `{
		"type": "object",
		"required": ["buffer_id", "path"],
		"properties": {
			"buffer_id": {"type": "integer"},
			"path": {"type": "string"}
		}
	}`
	insertion = `{
		"type": "object",
		"required": ["buffer_id", "position", "text"],
		"properties": {
			"buffer_id": {"type": "integer"},
			"position": {"type": "integer", "minimum": 0},
			"text": {"type": "string"}
		}
	}`
)

// Builtin returns the host's event definitions.
func Builtin() []Definition {
	return []Definition{
		{
			Name:        EditorInitialized,
			Description: "The host finished starting and all modules are loaded.",
			Schema:      `{"type": "object"}`,
		},
		{
			Name:        BufferActivated,
			Description: "A buffer became the active buffer.",
			Schema:      bufferOnly,
		},
		{
			Name:        AfterFileOpen,
			Description: "A file was opened into a buffer.",
			Schema:      bufferPath,
		},
		{
			Name:        BeforeFileSave,
			Description: "A buffer is about to be written. Returning false aborts the save.",
			Cancelable:  true,
			Schema:      bufferPath,
		},
		{
			Name:        AfterFileSave,
			Description: "A buffer was written to disk.",
			Schema:      bufferPath,
		},
		{
			Name:        BufferClosed,
			Description: "A buffer was closed.",
			Schema:      bufferOnly,
		},
		{
			Name:        BeforeInsert,
			Description: "Text is about to be inserted. Returning false aborts the edit.",
			Cancelable:  true,
			Schema:      insertion,
		},
		{
			Name:        AfterInsert,
			Description: "Text was inserted.",
			Schema:      insertion,
		},
		{
			Name:        AfterDelete,
			Description: "A byte range was deleted.",
			Schema: `{
				"type": "object",
				"required": ["buffer_id", "start", "end"],
				"properties": {
					"buffer_id": {"type": "integer"},
					"start": {"type": "integer", "minimum": 0},
					"end": {"type": "integer", "minimum": 0}
				}
			}`,
		},
		{
			Name:        CursorMoved,
			Description: "The primary cursor moved.",
			Schema: `{
				"type": "object",
				"required": ["buffer_id", "new_position"],
				"properties": {
					"buffer_id": {"type": "integer"},
					"old_position": {"type": "integer", "minimum": 0},
					"new_position": {"type": "integer", "minimum": 0}
				}
			}`,
		},
		{
			Name:        PromptConfirmed,
			Description: "The user confirmed a prompt opened by an extension.",
			Schema: `{
				"type": "object",
				"required": ["prompt_type", "input"],
				"properties": {
					"prompt_type": {"type": "string"},
					"input": {"type": "string"}
				}
			}`,
		},
	}
}

var (
	defaultOnce    sync.Once
	defaultSurface *Surface
	defaultErr     error
)

// DefaultSurface returns the compiled builtin surface.
func DefaultSurface() (*Surface, error) {
	defaultOnce.Do(func() {
		defaultSurface, defaultErr = NewSurface(Builtin()...)
	})
	return defaultSurface, defaultErr
}
