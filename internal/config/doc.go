// Package config provides configuration loading and validation for the meeting
// transcription bot service. It handles YAML-based configuration with struct
// validation, default filling, and environment overrides for API secrets.
package config
