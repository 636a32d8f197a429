// Package pump implements the pump state machine: daily runtime accounting,
// the scheduling predicates ShouldRun and CanRun, and the upstream chain
// that lets a pump draw power only while the pump it depends on is running.
//
// A Pump is mutated by one writer at a time (the scheduler in AUTO mode,
// manual commands in MANUAL mode). Its fields are still guarded by a mutex
// so that telemetry and the HTTP API can read it concurrently. Listeners
// are always invoked without the lock held.
package pump
