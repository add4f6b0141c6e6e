package publisher

import (
	"math/rand/v2"
	"sync"

	audit "qgate/pkg/platform/audit"
)

// Sampler thins high-volume operations events. Compliance and security
// events are never sampled out.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
	rnd          func() float64
}

// NewSampler keeps operations events with probability defaultRate,
// clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[string]float64),
		rnd:          rand.Float64,
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action audit.AuditEvent, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[string(action)] = clampRate(rate)
}

// Keep reports whether event should be recorded.
func (s *Sampler) Keep(event audit.Event) bool {
	if event.Category != audit.CategoryOperations {
		return true
	}
	rate := s.rateFor(event.Action)
	if rate >= 1 {
		return true
	}
	return s.rnd() < rate
}

func (s *Sampler) rateFor(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	return min(max(rate, 0), 1)
}
