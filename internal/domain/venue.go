package domain

import "time"

// VenueStatus summarizes one venue's feed health for the monitor mode.
type VenueStatus struct {
	VenueID       string
	Connected     bool
	TrackedPairs  int
	LastMessageAt time.Time
	Reconnects    int64
}
