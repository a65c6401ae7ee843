// Package config provides the extbridge configuration.
//
// Configuration is layered, higher layers overriding lower:
//
//  1. Built-in defaults (Default)
//  2. A TOML file, with optional @include directives
//  3. EXTBRIDGE_* environment variables
//
// Example file:
//
//	[plugins]
//	enabled = true
//	paths = ["$HOME/src/my-extensions"]
//	cancel_on_error = false
//	start_timeout = "5s"
//	shutdown_timeout = "5s"
//	max_processes = 16
//
//	[logging]
//	level = "info"
//	format = "console"
//
// Unknown keys are rejected. Durations are Go duration strings. Plugin
// paths expand environment variables.
//
// # Basic Usage
//
//	cfg, err := config.Load(*configPath)
//	if err != nil {
//	    return err
//	}
//	if !cfg.Plugins.Enabled {
//	    ...
//	}
package config
