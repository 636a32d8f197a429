// Package runlog keeps a history of completed pump runs. The history is
// informational: daily counters are never restored from it.
package runlog
