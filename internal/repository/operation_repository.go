package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type OperationRepository interface {
	// Create stores a new operation; ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, op *domain.Operation) error
	Get(ctx context.Context, userID, opID string) (*domain.Operation, error)
	ListPending(ctx context.Context, userID, deviceID string) ([]*domain.Operation, error)
	// Finish moves a pending operation to a terminal status and returns the
	// stored record. An operation that is already terminal is returned as is.
	Finish(ctx context.Context, userID, opID string, status domain.OperationStatus, reason string) (*domain.Operation, error)
}

type operationRecord struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Operation
}

type operationRepository struct {
	client     *kivik.Client
	dbName     string
	maxRetries int
}

func NewOperationRepository(client *kivik.Client, dbName string, maxRetries int) OperationRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultWriteRetries
	}
	return &operationRepository{
		client:     client,
		dbName:     dbName,
		maxRetries: maxRetries,
	}
}

func (r *operationRepository) Create(ctx context.Context, op *domain.Operation) error {
	db := r.client.DB(r.dbName)

	id := docID(docTypeOperation, op.UserID, op.ID)
	rec := operationRecord{
		ID:        id,
		DocType:   docTypeOperation,
		Operation: *op,
	}

	if _, err := db.Put(ctx, id, rec); err != nil {
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create operation: %w", err)
	}
	return nil
}

func (r *operationRepository) load(ctx context.Context, db *kivik.DB, userID, opID string) (*operationRecord, error) {
	var rec operationRecord
	if err := db.Get(ctx, docID(docTypeOperation, userID, opID)).ScanDoc(&rec); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return &rec, nil
}

func (r *operationRepository) Get(ctx context.Context, userID, opID string) (*domain.Operation, error) {
	rec, err := r.load(ctx, r.client.DB(r.dbName), userID, opID)
	if err != nil {
		return nil, err
	}
	return &rec.Operation, nil
}

func (r *operationRepository) ListPending(ctx context.Context, userID, deviceID string) ([]*domain.Operation, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  docTypeOperation,
			"user_id":   userID,
			"device_id": deviceID,
			"status":    domain.OperationPending,
		},
	}

	recs, err := findAll[operationRecord](ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	ops := make([]*domain.Operation, 0, len(recs))
	for i := range recs {
		ops = append(ops, &recs[i].Operation)
	}
	slices.SortStableFunc(ops, domain.CompareOperations)

	return ops, nil
}

func (r *operationRepository) Finish(ctx context.Context, userID, opID string, status domain.OperationStatus, reason string) (*domain.Operation, error) {
	db := r.client.DB(r.dbName)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		rec, err := r.load(ctx, db, userID, opID)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return &rec.Operation, nil
		}

		now := time.Now().UTC()
		rec.Status = status
		rec.FailureReason = reason
		rec.CompletedAt = &now

		_, err = db.Put(ctx, rec.ID, rec)
		if err == nil {
			return &rec.Operation, nil
		}
		if !isConflict(err) {
			return nil, fmt.Errorf("failed to update operation status: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to update operation status after %d attempts", r.maxRetries)
}
