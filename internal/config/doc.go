// Package config provides configuration loading and validation for the voice
// microphone device controller. It overlays YAML-based overrides on the
// built-in defaults that mirror the firmware's compile-time constants.
package config
