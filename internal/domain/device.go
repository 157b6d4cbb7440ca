package domain

import "time"

// Device is one client installation that syncs a user's data. Its id is
// the device id operations, batches and sync state are keyed by.
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	OS         string    `json:"os"`
	AppVersion string    `json:"app_version"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	IsRevoked  bool      `json:"is_revoked"`
}

// CanSync reports whether the device may still push or pull changes.
func (d *Device) CanSync(userID string) bool {
	return d.UserID == userID && !d.IsRevoked
}

type RegisterDeviceRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Type       string `json:"type" validate:"required,oneof=phone tablet desktop web"`
	OS         string `json:"os" validate:"required"`
	AppVersion string `json:"app_version" validate:"required"`
}

type DeviceResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	OS         string    `json:"os"`
	AppVersion string    `json:"app_version"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	IsRevoked  bool      `json:"is_revoked"`
}
