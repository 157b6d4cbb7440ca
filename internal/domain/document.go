package domain

import "time"

// Document is an authoritative business document (recipe, shopping list,
// favorite, ...) owned by its collection.
type Document struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Collection     string         `json:"collection"`
	Data           map[string]any `json:"data"`
	Version        int64          `json:"version"`
	Seq            int64          `json:"seq"`
	Deleted        bool           `json:"deleted"`
	LastEditDevice string         `json:"last_edit_device"`
	// LastOperationID is the operation that produced this revision, empty
	// for writes made by a conflict resolution.
	LastOperationID string    `json:"last_operation_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// ChangeRecord is one entry of the change feed. Version is the collection
// version the change was written at.
type ChangeRecord struct {
	Collection      string         `json:"collection"`
	DocumentID      string         `json:"document_id"`
	Operation       ChangeType     `json:"operation"`
	Version         int64          `json:"version"`
	DocumentVersion int64          `json:"document_version"`
	Data            map[string]any `json:"data,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func NewChangeRecord(doc *Document) ChangeRecord {
	change := ChangeRecord{
		Collection:      doc.Collection,
		DocumentID:      doc.ID,
		Operation:       ChangeUpsert,
		Version:         doc.Seq,
		DocumentVersion: doc.Version,
		Data:            doc.Data,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.Deleted {
		change.Operation = ChangeDelete
		change.Data = nil
	}
	return change
}

type ChangesResponse struct {
	Changes  []ChangeRecord `json:"changes"`
	SyncTime time.Time      `json:"sync_time"`
}
