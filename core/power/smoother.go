package power

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of samples averaged per metric.
const DefaultWindow = 5

// history is a fixed capacity FIFO of raw watt samples.
type history struct {
	samples []float64
	size    int
}

func (h *history) add(w int) {
	h.samples = append(h.samples, float64(w))
	if len(h.samples) > h.size {
		h.samples = h.samples[len(h.samples)-h.size:]
	}
}

func (h *history) mean() int {
	if len(h.samples) == 0 {
		return 0
	}
	return int(math.Round(stat.Mean(h.samples, nil)))
}

func (h *history) reset() { h.samples = h.samples[:0] }

// Smoother keeps a moving average of the last readings of production and
// consumption. The zero value is not usable; call NewSmoother.
type Smoother struct {
	mu          sync.RWMutex
	production  history
	consumption history
}

// NewSmoother returns a smoother averaging over window samples. A
// non-positive window selects DefaultWindow.
func NewSmoother(window int) *Smoother {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Smoother{
		production:  history{size: window},
		consumption: history{size: window},
	}
}

// RecordProduction appends a raw production sample, evicting the oldest one
// when the window is full.
func (s *Smoother) RecordProduction(watts int) {
	s.mu.Lock()
	s.production.add(watts)
	s.mu.Unlock()
}

// RecordConsumption appends a raw consumption sample.
func (s *Smoother) RecordConsumption(watts int) {
	s.mu.Lock()
	s.consumption.add(watts)
	s.mu.Unlock()
}

// Production is the mean of the production window, 0 when empty.
func (s *Smoother) Production() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.production.mean()
}

// Consumption is the mean of the consumption window, 0 when empty.
func (s *Smoother) Consumption() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumption.mean()
}

// Availability is the smoothed surplus, production minus consumption. It
// may be negative.
func (s *Smoother) Availability() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.production.mean() - s.consumption.mean()
}

// HasProduction reports whether at least one production sample is held.
func (s *Smoother) HasProduction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.production.samples) > 0
}

// HasConsumption reports whether at least one consumption sample is held.
func (s *Smoother) HasConsumption() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.consumption.samples) > 0
}

// ResetProduction clears the production window.
func (s *Smoother) ResetProduction() {
	s.mu.Lock()
	s.production.reset()
	s.mu.Unlock()
}

// ResetConsumption clears the consumption window.
func (s *Smoother) ResetConsumption() {
	s.mu.Lock()
	s.consumption.reset()
	s.mu.Unlock()
}

// Reset clears both windows.
func (s *Smoother) Reset() {
	s.mu.Lock()
	s.production.reset()
	s.consumption.reset()
	s.mu.Unlock()
}
