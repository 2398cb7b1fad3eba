// Package config loads and validates YAML configuration for the
// streaming client and the recorder pipeline. Values referencing
// ${ENV_VARS} are expanded at load time; unset optional fields fall
// back to documented defaults.
package config
