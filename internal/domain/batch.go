package domain

import "time"

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchProcessed BatchStatus = "processed"
)

type SyncBatch struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	DeviceID     string        `json:"device_id"`
	OperationIDs []string      `json:"operation_ids"`
	Status       BatchStatus   `json:"status"`
	LastSyncedAt time.Time     `json:"last_synced_at"`
	Summary      *BatchSummary `json:"summary,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

type BatchSummary struct {
	Applied    int `json:"applied"`
	Conflicted int `json:"conflicted"`
	Deferred   int `json:"deferred"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

type SubmitBatchRequest struct {
	DeviceID     string      `json:"device_id" validate:"required"`
	LastSyncedAt time.Time   `json:"last_synced_at"`
	Items        []BatchItem `json:"items" validate:"dive"`
}

// ItemOutcome is where the detector routed a single batch item.
type ItemOutcome string

const (
	OutcomeApplied    ItemOutcome = "applied"
	OutcomeConflicted ItemOutcome = "conflicted"
	OutcomeDeferred   ItemOutcome = "deferred"
	OutcomeFailed     ItemOutcome = "failed"
	OutcomeDuplicate  ItemOutcome = "duplicate"
)

type ItemResult struct {
	OperationID string      `json:"operation_id"`
	Collection  string      `json:"collection"`
	DocumentID  string      `json:"document_id"`
	Outcome     ItemOutcome `json:"outcome"`
	Version     int64       `json:"version,omitempty"`
	ConflictID  string      `json:"conflict_id,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

type BatchResult struct {
	BatchID string       `json:"batch_id"`
	Summary BatchSummary `json:"summary"`
	Results []ItemResult `json:"results"`
}

type BatchStatusResponse struct {
	HasPendingChanges bool      `json:"has_pending_changes"`
	LastSyncedAt      time.Time `json:"last_synced_at"`
}
