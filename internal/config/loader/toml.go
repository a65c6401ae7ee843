package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IncludeKey names the files a TOML file pulls in underneath itself.
const IncludeKey = "@include"

// DefaultMaxIncludeDepth bounds nested includes.
const DefaultMaxIncludeDepth = 8

var (
	// ErrIncludeDepth is returned when include nesting exceeds the limit.
	ErrIncludeDepth = errors.New("include depth exceeded")

	// ErrIncludeCycle is returned when a file includes itself, directly or
	// through other files.
	ErrIncludeCycle = errors.New("include cycle")
)

// TOMLLoader loads a TOML file and the files it includes.
type TOMLLoader struct {
	path     string
	fsys     fs.FS
	maxDepth int
}

// TOMLOption configures a TOMLLoader.
type TOMLOption func(*TOMLLoader)

// WithFS reads files from fsys instead of the OS. Paths are then slash
// separated and relative to the root of fsys.
func WithFS(fsys fs.FS) TOMLOption {
	return func(l *TOMLLoader) {
		l.fsys = fsys
	}
}

// WithMaxIncludeDepth overrides DefaultMaxIncludeDepth.
func WithMaxIncludeDepth(n int) TOMLOption {
	return func(l *TOMLLoader) {
		l.maxDepth = n
	}
}

// NewTOMLLoader creates a loader for the file at path.
func NewTOMLLoader(path string, opts ...TOMLOption) *TOMLLoader {
	l := &TOMLLoader{path: path, maxDepth: DefaultMaxIncludeDepth}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file. A missing top-level file yields nil, nil; a missing
// include is an error. Values of an including file win over its includes.
func (l *TOMLLoader) Load() (map[string]any, error) {
	return l.load(l.path, 0, nil)
}

func (l *TOMLLoader) load(name string, depth int, chain []string) (map[string]any, error) {
	if depth > l.maxDepth {
		return nil, fmt.Errorf("%w: %s", ErrIncludeDepth, name)
	}
	for _, seen := range chain {
		if seen == name {
			return nil, fmt.Errorf("%w: %s", ErrIncludeCycle, name)
		}
	}
	chain = append(chain, name)

	data, err := l.read(name)
	if err != nil {
		if depth == 0 && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", name, err)
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, newParseError(name, err)
	}

	includes, err := includeList(name, doc[IncludeKey])
	if err != nil {
		return nil, err
	}
	delete(doc, IncludeKey)
	if len(includes) == 0 {
		return doc, nil
	}

	layers := make([]map[string]any, 0, len(includes)+1)
	for _, inc := range includes {
		sub, err := l.load(l.resolve(name, inc), depth+1, chain)
		if err != nil {
			return nil, err
		}
		layers = append(layers, sub)
	}
	return Merge(append(layers, doc)...), nil
}

func (l *TOMLLoader) read(name string) ([]byte, error) {
	if l.fsys != nil {
		return fs.ReadFile(l.fsys, name)
	}
	return os.ReadFile(name)
}

// resolve interprets an include relative to the including file.
func (l *TOMLLoader) resolve(from, inc string) string {
	if l.fsys != nil {
		if path.IsAbs(inc) {
			return path.Clean(inc[1:])
		}
		return path.Join(path.Dir(from), inc)
	}
	if filepath.IsAbs(inc) {
		return inc
	}
	return filepath.Join(filepath.Dir(from), inc)
}

func includeList(name string, v any) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %s entries must be strings, got %T", name, IncludeKey, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: %s must be a string or a list of strings, got %T", name, IncludeKey, v)
	}
}

// ParseError is a TOML syntax or type error with its position.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func newParseError(name string, err error) *ParseError {
	perr := &ParseError{Path: name, Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		perr.Line, perr.Column = derr.Position()
	}
	return perr
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
