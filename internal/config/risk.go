package config

import (
	"sync"

	"github.com/openarb/arbot/internal/domain"
)

// RiskSource serves the active risk profile to the detector and executor.
// Reload swaps the profile at runtime without restarting the trading loops;
// in-flight executions keep the profile they started with.
type RiskSource struct {
	mu      sync.RWMutex
	profile domain.RiskProfile
}

// NewRiskSource creates a source serving the given profile.
func NewRiskSource(profile domain.RiskProfile) *RiskSource {
	return &RiskSource{profile: profile}
}

// Current returns the active risk profile.
func (s *RiskSource) Current() domain.RiskProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Reload replaces the active profile.
func (s *RiskSource) Reload(profile domain.RiskProfile) {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
}

// Compile-time interface check.
var _ domain.RiskProfileSource = (*RiskSource)(nil)
