// Package config loads and validates the service's YAML configuration.
// Missing values fall back to documented defaults before validation runs.
package config
