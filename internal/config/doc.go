// Package config loads, normalizes, and validates storyreel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env secrets, and honours environment
// fallbacks such as OPENROUTER_API_KEY. The Config type centralizes every knob
// the daemon, CLI, and pipeline steps need.
package config
