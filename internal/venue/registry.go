// Package venue holds the per-venue adapters (feeds and execution clients)
// and the registry that maps venue identifiers to them. Extending the system
// to a new venue means registering a new implementation at startup, never
// editing a dispatch switch.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openarb/arbot/internal/domain"
)

// Entry bundles the two per-venue contracts. Either may be nil when a mode
// does not need it (monitor mode registers feeds only).
type Entry struct {
	Feed domain.VenueFeed
	Exec domain.TradeExecutionClient
}

// Registry maps venue identifiers to their adapters. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the adapters for a venue.
func (r *Registry) Register(venueID string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[venueID] = e
}

// Feed returns the venue's feed adapter.
func (r *Registry) Feed(venueID string) (domain.VenueFeed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[venueID]
	if !ok || e.Feed == nil {
		return nil, fmt.Errorf("venue %q: %w", venueID, domain.ErrVenueUnknown)
	}
	return e.Feed, nil
}

// Exec returns the venue's trade execution client.
func (r *Registry) Exec(venueID string) (domain.TradeExecutionClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[venueID]
	if !ok || e.Exec == nil {
		return nil, fmt.Errorf("venue %q: %w", venueID, domain.ErrVenueUnknown)
	}
	return e.Exec, nil
}

// List returns all registered venue IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
