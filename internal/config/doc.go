// Package config loads the SDK host configuration from YAML, applies
// environment overrides for the backend credentials, and validates every
// section. It also builds the process logger.
package config
