// Package infra contains technical adapters: the Envoy power source, GPIO
// relays, the MQTT bridge, metrics sinks, logging and error monitoring.
// These packages should depend only on the interfaces defined in the core
// packages.
package infra
