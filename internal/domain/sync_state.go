package domain

import "time"

// SyncState is what the server knows about one device. Collections holds the
// tracked versions (bumped for each of the device's applied writes);
// Watermarks holds the last change-feed version the device acknowledged.
type SyncState struct {
	UserID      string           `json:"user_id"`
	DeviceID    string           `json:"device_id"`
	Collections map[string]int64 `json:"collections"`
	Watermarks  map[string]int64 `json:"watermarks"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CollectionVersion is kept in its own document, one per (user, device,
// collection). Watermark is a change-feed position and is only moved by an
// explicit acknowledgement, never by Bump.
type CollectionVersion struct {
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	Collection string    `json:"collection"`
	Version    int64     `json:"version"`
	Watermark  int64     `json:"watermark"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type VersionEntry struct {
	Version int64 `json:"version"`
}

type UpdateSyncStateRequest struct {
	Collections map[string]VersionEntry `json:"collections" validate:"required"`
}
