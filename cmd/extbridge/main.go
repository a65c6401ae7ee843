// Package main runs editor extensions against a headless host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dshills/extbridge/internal/config"
	"github.com/dshills/extbridge/internal/host"
	"github.com/dshills/extbridge/internal/logging"
	"github.com/dshills/extbridge/internal/palette"
	"github.com/dshills/extbridge/internal/plugin"
	"github.com/dshills/extbridge/internal/plugin/event"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	ConfigPath    string
	SettingsPath  string
	WorkspacePath string
	LogLevel      string
	PluginPaths   stringList
	Modules       stringList
	Commands      stringList
	Iterations    int
	ListCommands  bool
	Filter        string
	Files         []string
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	cfg.Plugins.Paths = append(cfg.Plugins.Paths, opts.PluginPaths...)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logging.Set(logger)

	settings, err := readSettings(opts.SettingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	editor := host.New(
		host.WithLogger(logger.Named("host")),
		host.WithWorkspace(opts.WorkspacePath),
		host.WithConfigJSON(settings),
	)
	for _, f := range opts.Files {
		if _, err := editor.OpenFile(f, 0, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	editor.Publish()

	mgr := attachExtensions(ctx, cfg, opts, editor, logger)
	if mgr != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Plugins.ShutdownTimeout.Duration)
			defer cancel()
			if err := mgr.Shutdown(sctx); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
		}()
	}

	if err := editor.EmitEvent(event.EditorInitialized, map[string]any{
		"workspace": opts.WorkspacePath,
		"version":   version,
	}); err != nil {
		logger.Warn("editor_initialized", zap.Error(err))
	}
	if err := editor.RunUntilIdle(ctx, opts.Iterations); err != nil {
		logger.Warn("startup did not settle", zap.Error(err))
	}

	code := 0
	for _, name := range opts.Commands {
		if err := editor.RunCommand(name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
			continue
		}
		if err := editor.RunUntilIdle(ctx, opts.Iterations); err != nil {
			logger.Warn("command did not settle", zap.String("command", name), zap.Error(err))
		}
	}

	for _, msg := range editor.StatusLog() {
		fmt.Println(msg)
	}
	if opts.ListCommands || opts.Filter != "" {
		printPalette(editor, opts.Filter, term.IsTerminal(int(os.Stdout.Fd())))
	}
	if mgr != nil {
		s := mgr.Stats()
		logger.Debug("session stats",
			zap.String("session", mgr.SessionID()),
			zap.Uint64("events", s.Events),
			zap.Uint64("actions", s.Actions),
			zap.Uint64("commands", s.CommandsSent),
			zap.Uint64("handler_failures", s.Dispatch.Failed),
		)
	}
	return code
}

// attachExtensions starts the extension runtime and attaches it to the
// editor. A start failure is reported and the editor carries on without
// extensions; the returned manager is nil in that case.
func attachExtensions(ctx context.Context, cfg *config.Config, opts options, editor *host.Editor, logger *zap.Logger) *plugin.Manager {
	mgr, err := startExtensions(ctx, cfg, opts, editor, logger)
	switch {
	case errors.Is(err, plugin.ErrDisabled):
		logger.Info("extensions disabled")
		return nil
	case err != nil:
		logger.Error("extensions unavailable", zap.Error(err))
		editor.SetStatus("extensions unavailable: " + err.Error())
		return nil
	}
	editor.Attach(mgr)
	return mgr
}

// startExtensions finds modules and starts the manager on the editor's
// snapshot store.
func startExtensions(ctx context.Context, cfg *config.Config, opts options, editor *host.Editor, logger *zap.Logger) (*plugin.Manager, error) {
	if !cfg.Plugins.Enabled {
		return nil, plugin.ErrDisabled
	}

	loader := plugin.NewLoader()
	loader.AddPath(filepath.Join(opts.WorkspacePath, ".extbridge", "plugins"))
	for _, p := range cfg.Plugins.Paths {
		loader.AddPath(p)
	}

	modules, err := findModules(loader, opts.Modules)
	if err != nil {
		logger.Warn("module discovery", zap.Error(err))
	}
	for _, m := range loader.Errors() {
		logger.Warn("module skipped", zap.String("module", m.Name), zap.Error(m.Error))
	}

	mgr, err := plugin.Start(ctx, plugin.EntryPoints(modules),
		plugin.WithConfig(cfg.Plugins),
		plugin.WithLogger(logger.Named("plugin")),
		plugin.WithSnapshotStore(editor.Snapshots()),
	)
	if err != nil {
		return nil, err
	}

	results, err := mgr.WaitLoaded(ctx)
	if err != nil {
		logger.Warn("modules did not finish loading", zap.Error(err))
		return mgr, nil
	}
	for _, r := range results {
		if r.Err != nil && r.State != plugin.StateSkipped {
			fmt.Fprintf(os.Stderr, "extension %s: %v\n", r.Name, r.Err)
		}
	}
	return mgr, nil
}

// findModules discovers every module, or only the named ones in the order
// given.
func findModules(loader *plugin.Loader, names []string) ([]*plugin.ModuleInfo, error) {
	if len(names) == 0 {
		return loader.Discover()
	}
	var (
		modules []*plugin.ModuleInfo
		errs    []error
	)
	for _, name := range names {
		info, err := loader.FindModule(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		modules = append(modules, info)
	}
	return modules, errors.Join(errs...)
}

// readSettings loads the JSON document scripts see through get_config.
func readSettings(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("settings %s: not valid JSON", path)
	}
	return data, nil
}

// printPalette lists the commands matching query. On a terminal the
// matched characters are highlighted.
func printPalette(editor *host.Editor, query string, color bool) {
	for _, m := range editor.Palette().Filter(query, editor.Context()) {
		mark := " "
		if !m.Enabled {
			mark = "-"
		}
		name := m.Command.Name
		pad := max(32-len([]rune(name)), 0)
		if color {
			name = palette.Highlight(name, m.Positions, "\x1b[1m", "\x1b[0m")
		}
		line := fmt.Sprintf("%s %s%s %s", mark, name, strings.Repeat(" ", pad), m.Command.Description)
		if m.Command.IsExtension() {
			line += " [" + m.Command.Source + "]"
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.SettingsPath, "settings", "", "JSON settings exposed to extensions")
	flag.StringVar(&opts.WorkspacePath, "workspace", "", "Workspace/project directory")
	flag.StringVar(&opts.WorkspacePath, "w", "", "Workspace/project directory (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Var(&opts.PluginPaths, "plugins", "Extra module search path (repeatable)")
	flag.Var(&opts.Modules, "module", "Load only the named module (repeatable)")
	flag.Var(&opts.Commands, "run", "Palette command to run after startup (repeatable)")
	flag.IntVar(&opts.Iterations, "iterations", 1000, "Host loop iterations allowed per step")
	flag.BoolVar(&opts.ListCommands, "list", false, "Print the command palette")
	flag.StringVar(&opts.Filter, "filter", "", "Print palette commands matching a fuzzy query")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "extbridge - run editor extensions headless\n\n")
		fmt.Fprintf(os.Stderr, "Usage: extbridge [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  extbridge -list                        Show registered commands\n")
		fmt.Fprintf(os.Stderr, "  extbridge -run 'Format Document' a.go  Run a command on a file\n")
		fmt.Fprintf(os.Stderr, "  extbridge -plugins ./ext -w ./project  Load extra modules\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("extbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.Iterations <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -iterations must be positive\n")
		os.Exit(1)
	}

	opts.Files = flag.Args()
	for i, f := range opts.Files {
		if abs, err := filepath.Abs(f); err == nil {
			opts.Files[i] = abs
		}
	}

	if opts.WorkspacePath == "" && len(opts.Files) > 0 {
		if abs, err := filepath.Abs(opts.Files[0]); err == nil {
			opts.WorkspacePath = filepath.Dir(abs)
		}
	}
	if opts.WorkspacePath == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.WorkspacePath = wd
		}
	}
	if abs, err := filepath.Abs(opts.WorkspacePath); err == nil {
		opts.WorkspacePath = abs
	}

	return opts
}
