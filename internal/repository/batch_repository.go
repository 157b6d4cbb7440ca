package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type BatchRepository interface {
	Create(ctx context.Context, batch *domain.SyncBatch) error
	Get(ctx context.Context, userID, batchID string) (*domain.SyncBatch, error)
	// MarkProcessed moves a pending batch to processed. A batch that is
	// already processed keeps its first summary.
	MarkProcessed(ctx context.Context, userID, batchID string, operationIDs []string, summary domain.BatchSummary) error
	// Latest returns the newest batch of a device or ErrNotFound.
	Latest(ctx context.Context, userID, deviceID string) (*domain.SyncBatch, error)
	// ExistsSince reports whether the device has a batch created after since.
	ExistsSince(ctx context.Context, userID, deviceID string, since time.Time) (bool, error)
}

type batchRecord struct {
	ID          string `json:"_id"`
	Rev         string `json:"_rev,omitempty"`
	DocType     string `json:"doc_type"`
	CreatedUnix int64  `json:"created_unix"`
	domain.SyncBatch
}

type batchRepository struct {
	client     *kivik.Client
	dbName     string
	maxRetries int
}

func NewBatchRepository(client *kivik.Client, dbName string, maxRetries int) BatchRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultWriteRetries
	}
	return &batchRepository{
		client:     client,
		dbName:     dbName,
		maxRetries: maxRetries,
	}
}

func (r *batchRepository) Create(ctx context.Context, batch *domain.SyncBatch) error {
	db := r.client.DB(r.dbName)

	id := docID(docTypeBatch, batch.UserID, batch.ID)
	rec := batchRecord{
		ID:          id,
		DocType:     docTypeBatch,
		CreatedUnix: batch.CreatedAt.UnixNano(),
		SyncBatch:   *batch,
	}

	if _, err := db.Put(ctx, id, rec); err != nil {
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *batchRepository) load(ctx context.Context, db *kivik.DB, userID, batchID string) (*batchRecord, error) {
	var rec batchRecord
	if err := db.Get(ctx, docID(docTypeBatch, userID, batchID)).ScanDoc(&rec); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &rec, nil
}

func (r *batchRepository) Get(ctx context.Context, userID, batchID string) (*domain.SyncBatch, error) {
	rec, err := r.load(ctx, r.client.DB(r.dbName), userID, batchID)
	if err != nil {
		return nil, err
	}
	return &rec.SyncBatch, nil
}

func (r *batchRepository) MarkProcessed(ctx context.Context, userID, batchID string, operationIDs []string, summary domain.BatchSummary) error {
	db := r.client.DB(r.dbName)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		rec, err := r.load(ctx, db, userID, batchID)
		if err != nil {
			return err
		}
		if rec.Status == domain.BatchProcessed {
			return nil
		}

		now := time.Now().UTC()
		rec.Status = domain.BatchProcessed
		rec.OperationIDs = operationIDs
		rec.Summary = &summary
		rec.ProcessedAt = &now

		_, err = db.Put(ctx, rec.ID, rec)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("failed to mark batch processed: %w", err)
		}
	}

	return fmt.Errorf("failed to mark batch processed after %d attempts", r.maxRetries)
}

func (r *batchRepository) Latest(ctx context.Context, userID, deviceID string) (*domain.SyncBatch, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":     docTypeBatch,
			"user_id":      userID,
			"device_id":    deviceID,
			"created_unix": map[string]interface{}{"$gt": 0},
		},
		"sort": []map[string]string{
			{"doc_type": "desc"},
			{"user_id": "desc"},
			{"device_id": "desc"},
			{"created_unix": "desc"},
		},
	}

	rec, err := findOne[batchRecord](ctx, db, query)
	if err != nil {
		return nil, err
	}
	return &rec.SyncBatch, nil
}

func (r *batchRepository) ExistsSince(ctx context.Context, userID, deviceID string, since time.Time) (bool, error) {
	db := r.client.DB(r.dbName)

	var after int64
	if !since.IsZero() {
		after = since.UnixNano()
	}

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":     docTypeBatch,
			"user_id":      userID,
			"device_id":    deviceID,
			"created_unix": map[string]interface{}{"$gt": after},
		},
		"fields": []string{"_id"},
	}

	_, err := findOne[batchRecord](ctx, db, query)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
