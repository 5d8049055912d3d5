// Package config loads coordinator settings from defaults, an optional
// YAML file and RELAY_* environment variables, in increasing precedence.
package config
