// Package config loads the relay's YAML configuration.
//
// Values may reference environment variables as ${VAR}. After parsing,
// defaults are applied, then the PORT environment variable overrides
// server.port, then the result is validated.
package config
