// Package config loads and validates the application configuration for the
// HydroSuite licensing core. Configuration is read from environment variables
// (HYDRO_ prefix) first, optionally merged with a YAML file next to the
// executable, and all relative paths are resolved against the executable
// directory so the application behaves the same regardless of the working
// directory it was launched from.
package config
