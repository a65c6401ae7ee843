package lua

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Module is a compiled extension source file.
type Module struct {
	Name string
	Path string

	proto *lua.FunctionProto
}

// CompileFile reads, parses and compiles the module at path. Failures are
// reported as *LoadError.
func CompileFile(path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrModuleNotFound, path)
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return compile(ModuleName(path), path, string(src))
}

// CompileString compiles source held in memory.
func CompileString(name, source string) (*Module, error) {
	return compile(name, name, source)
}

func compile(name, path, source string) (*Module, error) {
	proto, err := compileSource(path, source)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &Module{Name: name, Path: path, proto: proto}, nil
}

// Function instantiates the module's top-level chunk in L.
func (m *Module) Function(L *lua.LState) *lua.LFunction {
	return L.NewFunctionFromProto(m.proto)
}

// ModuleName derives a module name from its path: the file name without
// extension, or the directory name for init.lua.
func ModuleName(path string) string {
	base := filepath.Base(path)
	if base == "init.lua" {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
