// Package config loads, normalizes, and validates newscast configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as OPENROUTER_API_KEY and SYNC_API_KEY. Vendor credentials
// are optional at load time so read-only commands work without them;
// MissingCredentials reports what a pipeline run still needs.
package config
