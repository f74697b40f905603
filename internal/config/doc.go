// Package config loads, normalizes, and validates recast configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RECAST_API_TOKEN. The Config type centralizes every knob the daemon and CLI
// need, from worker pool sizes and retry timing to tenant quota overrides.
package config
