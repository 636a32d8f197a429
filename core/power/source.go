package power

import "context"

// Source provides the power budget to the scheduler.
//
// Update takes a fresh reading and returns the smoothed availability in
// watts. It must not fail: transient errors are absorbed and the last
// smoothed value is returned instead.
type Source interface {
	Update(ctx context.Context) int
	Production() int
	Consumption() int
	// ResetConsumption drops the consumption average after the scheduler
	// changed the load, so the next decision is not based on a stale mean.
	ResetConsumption()
}

// Static is a Source fed by hand. It is used by dry runs and tests.
type Static struct {
	*Smoother
	// Next is called on every Update to obtain the raw sample.
	Next func() (production, consumption int, ok bool)
}

// NewStatic returns a Static source averaging over window samples.
func NewStatic(window int, next func() (int, int, bool)) *Static {
	return &Static{Smoother: NewSmoother(window), Next: next}
}

// Update records the next sample, if any, and returns the availability.
func (s *Static) Update(_ context.Context) int {
	if s.Next != nil {
		if p, c, ok := s.Next(); ok {
			s.RecordProduction(p)
			s.RecordConsumption(c)
		}
	}
	return s.Availability()
}
