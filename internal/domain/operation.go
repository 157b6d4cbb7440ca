package domain

import (
	"strings"
	"time"
)

type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

// Failure reasons stored on failed operations.
const (
	FailureConflict         = "conflict"
	FailureDocumentNotFound = "document_not_found"
	FailureStoreError       = "store_error"
)

type Operation struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	DeviceID      string          `json:"device_id"`
	Collection    string          `json:"collection"`
	DocumentID    string          `json:"document_id"`
	Kind          OperationKind   `json:"kind"`
	BaseVersion   int64           `json:"base_version"`
	Changes       map[string]any  `json:"changes,omitempty"`
	Status        OperationStatus `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	BatchID       string          `json:"batch_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type OperationInput struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id" validate:"required"`
	Collection  string         `json:"collection" validate:"required"`
	DocumentID  string         `json:"document_id" validate:"required"`
	Kind        OperationKind  `json:"kind" validate:"required,oneof=create update delete"`
	BaseVersion int64          `json:"base_version" validate:"gte=0"`
	Changes     map[string]any `json:"changes"`
}

// CompareOperations orders operations by insertion: creation time, then id.
func CompareOperations(a, b *Operation) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
