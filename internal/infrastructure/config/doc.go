// Package config provides YAML-based configuration for the Victron bridge.
//
// Configuration is loaded from a single YAML file with sensible defaults,
// environment variable overrides (VICTRONBRIDGE_* pattern), and validation
// at load time. A failed validation reports every problem at once rather
// than stopping at the first.
//
// The worker section describes the external victron-ble decoder process:
// where its binary lives, which Bluetooth adapter it should scan with, and
// the per-device credential entries it needs to decrypt advertisements.
// Device entries are passed through to the worker verbatim; the bridge never
// interprets advertisement keys itself.
package config
