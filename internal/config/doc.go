// Package config provides loading and environment overlay for the server
// configuration. Defaults come from Default(), a YAML file overrides them,
// and TIDAL_* environment variables override the file.
//
// Example:
//
//	cfg, err := config.Load("/etc/tidal.yaml")
//	if err != nil { ... }
//	if err := config.FromEnv(&cfg); err != nil { ... }
package config
