package repository

import (
	"context"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SyncStateRepository keeps one document per (user, device, collection) so
// that bumps on different collections never contend.
type SyncStateRepository interface {
	List(ctx context.Context, userID, deviceID string) ([]*domain.CollectionVersion, error)
	Put(ctx context.Context, cv *domain.CollectionVersion) error
	Increment(ctx context.Context, userID, deviceID, collection string) (int64, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error
}

type syncStateRecord struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.CollectionVersion
}

type syncStateRepository struct {
	client     *kivik.Client
	dbName     string
	maxRetries int
}

func NewSyncStateRepository(client *kivik.Client, dbName string, maxRetries int) SyncStateRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultWriteRetries
	}
	return &syncStateRepository{
		client:     client,
		dbName:     dbName,
		maxRetries: maxRetries,
	}
}

func (r *syncStateRepository) List(ctx context.Context, userID, deviceID string) ([]*domain.CollectionVersion, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  docTypeSyncState,
			"user_id":   userID,
			"device_id": deviceID,
		},
	}

	recs, err := findAll[syncStateRecord](ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync state: %w", err)
	}

	versions := make([]*domain.CollectionVersion, 0, len(recs))
	for i := range recs {
		versions = append(versions, &recs[i].CollectionVersion)
	}
	return versions, nil
}

// update applies fn to the stored record (or a fresh one) and writes it back,
// retrying when another writer got there first.
func (r *syncStateRepository) update(ctx context.Context, userID, deviceID, collection string, fn func(cv *domain.CollectionVersion)) (*domain.CollectionVersion, error) {
	db := r.client.DB(r.dbName)
	id := docID(docTypeSyncState, userID, deviceID, collection)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		rec := syncStateRecord{
			ID:      id,
			DocType: docTypeSyncState,
			CollectionVersion: domain.CollectionVersion{
				UserID:     userID,
				DeviceID:   deviceID,
				Collection: collection,
			},
		}
		if err := db.Get(ctx, id).ScanDoc(&rec); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to read sync state: %w", err)
		}

		fn(&rec.CollectionVersion)
		rec.UpdatedAt = time.Now().UTC()

		_, err := db.Put(ctx, id, rec)
		if err == nil {
			return &rec.CollectionVersion, nil
		}
		if !isConflict(err) {
			return nil, fmt.Errorf("failed to write sync state: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to write sync state after %d attempts", r.maxRetries)
}

func (r *syncStateRepository) Put(ctx context.Context, cv *domain.CollectionVersion) error {
	_, err := r.update(ctx, cv.UserID, cv.DeviceID, cv.Collection, func(stored *domain.CollectionVersion) {
		stored.Version = cv.Version
		stored.Watermark = cv.Watermark
	})
	return err
}

func (r *syncStateRepository) Increment(ctx context.Context, userID, deviceID, collection string) (int64, error) {
	cv, err := r.update(ctx, userID, deviceID, collection, func(stored *domain.CollectionVersion) {
		stored.Version++
	})
	if err != nil {
		return 0, err
	}
	return cv.Version, nil
}

func (r *syncStateRepository) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  docTypeSyncState,
			"user_id":   userID,
			"device_id": deviceID,
		},
	}

	recs, err := findAll[syncStateRecord](ctx, db, query)
	if err != nil {
		return fmt.Errorf("failed to list sync state: %w", err)
	}

	for _, rec := range recs {
		if _, err := db.Delete(ctx, rec.ID, rec.Rev); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete sync state: %w", err)
		}
	}
	return nil
}
