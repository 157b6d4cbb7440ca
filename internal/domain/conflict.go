package domain

import "time"

type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
)

type SyncConflict struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	DeviceID      string         `json:"device_id"`
	OperationID   string         `json:"operation_id"`
	Collection    string         `json:"collection"`
	DocumentID    string         `json:"document_id"`
	Kind          OperationKind  `json:"kind"`
	BaseVersion   int64          `json:"base_version"`
	RemoteNumber  int64          `json:"remote_version_number"`
	LocalVersion  map[string]any `json:"local_version"`
	RemoteVersion map[string]any `json:"remote_version"`
	Status        ConflictStatus `json:"status"`
	Resolution    Resolution     `json:"resolution,omitempty"`
	ResolvedData  map[string]any `json:"resolved_data,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

type ConflictResolutionRequest struct {
	Resolution Resolution     `json:"resolution" validate:"required,oneof=local remote merge"`
	MergedData map[string]any `json:"merged_data,omitempty"`
}
