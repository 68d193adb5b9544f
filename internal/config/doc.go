// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to the settings needed by the sorter, the task store and the
// dispatcher while keeping configuration details separate from their logic.
package config
