package monitoring

import "time"

// Monitor reports errors to an external tracker.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover(r any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover(any)                               {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init sets the process wide monitor. A nil monitor is ignored.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException records err with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil || current == nil {
		return
	}
	current.CaptureException(err, tags)
}

// Capture is a shorthand for the common module/pump tag pair.
func Capture(err error, module, pump string) {
	tags := map[string]string{"module": module}
	if pump != "" {
		tags["pump"] = pump
	}
	CaptureException(err, tags)
}

// Recover reports a panic of the calling goroutine and re-panics. It must
// be deferred directly.
func Recover() {
	if r := recover(); r != nil {
		if current != nil {
			current.Recover(r)
		}
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	if current != nil {
		current.Flush(d)
	}
}
