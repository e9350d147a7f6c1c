// Package config loads and validates pressroom configuration.
//
// Configuration is a TOML file with defaults applied first, the file layered
// on top, and PRESSROOM_* environment variables taking final precedence.
// Durations are declared in whole seconds so every knob can be overridden
// from a flat environment variable.
package config
