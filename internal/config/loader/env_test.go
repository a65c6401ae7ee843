package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func getByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	v, ok := current[parts[len(parts)-1]]
	return v, ok
}

func TestEnvLoader_Load(t *testing.T) {
	t.Setenv("EXTBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("EXTBRIDGE_PLUGINS_ENABLED", "off")
	t.Setenv("EXTBRIDGE_PLUGIN_PATHS", strings.Join([]string{"/a", "/b"}, string(os.PathListSeparator)))
	t.Setenv("EXTBRIDGE_PLUGINS_MAX_PROCESSES", "3")
	t.Setenv("EXTBRIDGE_PLUGINS_START_TIMEOUT", "250ms")

	config, err := NewEnvLoader(DefaultEnvPrefix).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		path string
		want any
	}{
		{"logging.level", "debug"},
		{"plugins.enabled", false},
		{"plugins.max_processes", int64(3)},
		{"plugins.start_timeout", "250ms"},
	}
	for _, tt := range tests {
		got, ok := getByPath(config, tt.path)
		if !ok || got != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.path, got, got, tt.want)
		}
	}

	paths, _ := getByPath(config, "plugins.paths")
	list, ok := paths.([]any)
	if !ok || len(list) != 2 || list[0] != filepath.Clean("/a") {
		t.Errorf("plugins.paths = %v", paths)
	}
}

func TestEnvLoader_Empty(t *testing.T) {
	l := NewEnvLoader("EXTBRIDGE_TEST_UNUSED_")
	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config != nil {
		t.Errorf("config = %v, want nil", config)
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	l := NewEnvLoader(DefaultEnvPrefix)

	tests := []struct {
		env  string
		want string
	}{
		{"EXTBRIDGE_PLUGINS_MAX_PROCESSES", "plugins.max_processes"},
		{"EXTBRIDGE_LOGGING_FORMAT", "logging.format"},
		{"EXTBRIDGE_SIMPLE", ""},
	}
	for _, tt := range tests {
		if got := l.envToPath(tt.env); got != tt.want {
			t.Errorf("envToPath(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"YES", true},
		{"off", false},
		{"1", int64(1)},
		{"-12", int64(-12)},
		{"1.5", 1.5},
		{"5s", "5s"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}

	arr, ok := parseValue(`["a","b"]`).([]any)
	if !ok || len(arr) != 2 {
		t.Errorf("parseValue(JSON array) = %v", arr)
	}
}
