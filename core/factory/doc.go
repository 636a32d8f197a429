// Package factory provides a generic registry used to pick pluggable
// implementations (pump actuators, metrics sinks) from configuration.
// Adapters register themselves in init functions; the application only
// needs to import them for side effects.
package factory
