package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader discovers extension modules on the filesystem.
//
// A module is either a single file root/name.lua or a directory
// root/name/init.lua. Roots are searched in order; the first root that
// provides a name wins.
type Loader struct {
	// Search paths for modules (checked in order)
	paths []string

	// Discovered modules by name
	discovered map[string]*ModuleInfo
}

// ModuleInfo contains discovery information about a module.
type ModuleInfo struct {
	Name string

	// Path is the entry file.
	Path string

	// Root is the search path the module was found in.
	Root string

	rank  int
	Error error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths replaces the search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new module loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*ModuleInfo),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default module search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 3)

	// User modules: $XDG_CONFIG_HOME/extbridge/plugins
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "extbridge", "plugins"))
	}

	// User data modules: ~/.local/share/extbridge/plugins
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "extbridge", "plugins"))
	}

	// Project modules: .extbridge/plugins
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".extbridge", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// AddPath appends a search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Discover finds all modules in the search paths, ordered by root and then
// by name. Directories without an entry point are reported with Error set.
func (l *Loader) Discover() ([]*ModuleInfo, error) {
	l.discovered = make(map[string]*ModuleInfo)

	var errs []error
	for rank, root := range l.paths {
		if err := l.discoverInPath(rank, root); err != nil {
			errs = append(errs, err)
		}
	}

	modules := make([]*ModuleInfo, 0, len(l.discovered))
	for _, info := range l.discovered {
		modules = append(modules, info)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].rank != modules[j].rank {
			return modules[i].rank < modules[j].rank
		}
		return modules[i].Name < modules[j].Name
	})

	return modules, errors.Join(errs...)
}

// discoverInPath finds modules in a single directory. A missing directory is
// not an error.
func (l *Loader) discoverInPath(rank int, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", root, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		var info *ModuleInfo
		if entry.IsDir() {
			info = inspectDir(name, filepath.Join(root, name))
		} else if filepath.Ext(name) == ".lua" {
			info = &ModuleInfo{
				Name: strings.TrimSuffix(name, ".lua"),
				Path: filepath.Join(root, name),
			}
		} else {
			continue
		}
		info.Root = root
		info.rank = rank

		// First root wins.
		if _, exists := l.discovered[info.Name]; !exists {
			l.discovered[info.Name] = info
		}
	}
	return nil
}

// inspectDir examines a module directory.
func inspectDir(name, dir string) *ModuleInfo {
	info := &ModuleInfo{Name: name}
	entry := filepath.Join(dir, "init.lua")
	if st, err := os.Stat(entry); err == nil && !st.IsDir() {
		info.Path = entry
		return info
	}
	info.Error = fmt.Errorf("%w: %s", ErrNoEntryPoint, dir)
	return info
}

// Get returns a discovered module by name.
func (l *Loader) Get(name string) (*ModuleInfo, bool) {
	info, ok := l.discovered[name]
	return info, ok
}

// FindModule searches the roots for a module by name without a full
// discovery pass.
func (l *Loader) FindModule(name string) (*ModuleInfo, error) {
	if info, ok := l.discovered[name]; ok && info.Error == nil {
		return info, nil
	}

	for rank, root := range l.paths {
		dir := filepath.Join(root, name)
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			info := inspectDir(name, dir)
			if info.Error == nil {
				info.Root, info.rank = root, rank
				l.discovered[name] = info
				return info, nil
			}
		}

		file := filepath.Join(root, name+".lua")
		if st, err := os.Stat(file); err == nil && !st.IsDir() {
			info := &ModuleInfo{Name: name, Path: file, Root: root, rank: rank}
			l.discovered[name] = info
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// EntryPoints returns the entry files of the usable modules in discovery
// order.
func EntryPoints(modules []*ModuleInfo) []string {
	paths := make([]string, 0, len(modules))
	for _, m := range modules {
		if m.Error == nil {
			paths = append(paths, m.Path)
		}
	}
	return paths
}

// Errors returns the discovered modules that cannot be loaded.
func (l *Loader) Errors() []*ModuleInfo {
	var errored []*ModuleInfo
	for _, info := range l.discovered {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	sort.Slice(errored, func(i, j int) bool { return errored[i].Name < errored[j].Name })
	return errored
}
