// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including serving and gateway addresses, ML client tuning, circuit breaker
// settings, the optional vision fallback, and health check intervals.
package config
