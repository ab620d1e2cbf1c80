package types

import "time"

// Device represents one paired device that prices are computed for. Each
// device owns its own settings, caches, and recompute lock.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	PairedAt time.Time `json:"pairedAt"`
}
