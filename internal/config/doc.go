// Package config loads, normalizes, and validates cachegen configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for secrets
// such as CACHEGEN_REDIS_PASSWORD and CACHEGEN_API_TOKEN. The Config type
// centralizes every knob the daemon and CLI need: storage backends, queue
// timing, lock timeouts, retry policy, and batch/progress retention.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
