package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ConflictRepository stores sync conflicts. A marker document keyed by
// (user, collection, document id) guarantees at most one unresolved
// conflict per document.
type ConflictRepository interface {
	// Create stores an unresolved conflict; ErrAlreadyExists when the
	// document already has one.
	Create(ctx context.Context, conflict *domain.SyncConflict) error
	HasOpen(ctx context.Context, userID, collection, documentID string) (bool, error)
	// GetUnresolved returns an unresolved conflict of the user or ErrNotFound.
	GetUnresolved(ctx context.Context, userID, conflictID string) (*domain.SyncConflict, error)
	ListUnresolved(ctx context.Context, userID string) ([]*domain.SyncConflict, error)
	// Claim marks an unresolved conflict resolved. Only the first caller
	// wins; everybody else gets ErrNotFound.
	Claim(ctx context.Context, userID, conflictID string, resolution domain.Resolution, resolvedData map[string]any) (*domain.SyncConflict, error)
	// Reopen reverts a claim whose document write failed.
	Reopen(ctx context.Context, userID, conflictID string) error
	// SetResolvedData replaces the resolved data of a claimed conflict with
	// what was actually written.
	SetResolvedData(ctx context.Context, userID, conflictID string, data map[string]any) error
	// Release drops the open marker once the resolution is durable.
	Release(ctx context.Context, userID, collection, documentID string) error
}

// markerGracePeriod is how long a marker without its conflict record is
// considered in flight rather than abandoned.
const markerGracePeriod = time.Minute

type conflictRecord struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.SyncConflict
}

type openConflictRecord struct {
	ID         string    `json:"_id"`
	Rev        string    `json:"_rev,omitempty"`
	DocType    string    `json:"doc_type"`
	ConflictID string    `json:"conflict_id"`
	UserID     string    `json:"user_id"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type conflictRepository struct {
	client *kivik.Client
	dbName string
}

func NewConflictRepository(client *kivik.Client, dbName string) ConflictRepository {
	return &conflictRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *conflictRepository) Create(ctx context.Context, conflict *domain.SyncConflict) error {
	db := r.client.DB(r.dbName)

	markerID := docID(docTypeOpenConflict, conflict.UserID, conflict.Collection, conflict.DocumentID)
	marker := openConflictRecord{
		ID:         markerID,
		DocType:    docTypeOpenConflict,
		ConflictID: conflict.ID,
		UserID:     conflict.UserID,
		Collection: conflict.Collection,
		DocumentID: conflict.DocumentID,
		CreatedAt:  conflict.DetectedAt,
	}

	markerRev, err := db.Put(ctx, markerID, marker)
	if isConflict(err) {
		open, checkErr := r.HasOpen(ctx, conflict.UserID, conflict.Collection, conflict.DocumentID)
		if checkErr != nil {
			return checkErr
		}
		if open {
			return ErrAlreadyExists
		}
		markerRev, err = db.Put(ctx, markerID, marker)
		if isConflict(err) {
			return ErrAlreadyExists
		}
	}
	if err != nil {
		return fmt.Errorf("failed to reserve conflict slot: %w", err)
	}

	id := docID(docTypeConflict, conflict.UserID, conflict.ID)
	rec := conflictRecord{
		ID:           id,
		DocType:      docTypeConflict,
		SyncConflict: *conflict,
	}
	if _, err := db.Put(ctx, id, rec); err != nil {
		_, _ = db.Delete(ctx, markerID, markerRev)
		return fmt.Errorf("failed to create conflict: %w", err)
	}

	return nil
}

// HasOpen reports whether the document has an unresolved conflict. A marker
// left behind by an interrupted resolution is removed on the way.
func (r *conflictRepository) HasOpen(ctx context.Context, userID, collection, documentID string) (bool, error) {
	db := r.client.DB(r.dbName)

	markerID := docID(docTypeOpenConflict, userID, collection, documentID)
	var marker openConflictRecord
	if err := db.Get(ctx, markerID).ScanDoc(&marker); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check open conflict: %w", err)
	}

	rec, err := r.load(ctx, db, userID, marker.ConflictID)
	switch {
	case err == nil && rec.Status == domain.ConflictUnresolved:
		return true, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, err
	case err != nil && time.Since(marker.CreatedAt) < markerGracePeriod:
		// The conflict record is still being written.
		return true, nil
	}

	if _, err := db.Delete(ctx, markerID, marker.Rev); err != nil && !isNotFound(err) && !isConflict(err) {
		return false, fmt.Errorf("failed to drop stale conflict marker: %w", err)
	}
	return false, nil
}

func (r *conflictRepository) load(ctx context.Context, db *kivik.DB, userID, conflictID string) (*conflictRecord, error) {
	var rec conflictRecord
	if err := db.Get(ctx, docID(docTypeConflict, userID, conflictID)).ScanDoc(&rec); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return &rec, nil
}

func (r *conflictRepository) GetUnresolved(ctx context.Context, userID, conflictID string) (*domain.SyncConflict, error) {
	rec, err := r.load(ctx, r.client.DB(r.dbName), userID, conflictID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.ConflictUnresolved {
		return nil, ErrNotFound
	}
	return &rec.SyncConflict, nil
}

func (r *conflictRepository) ListUnresolved(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeConflict,
			"user_id":  userID,
			"status":   domain.ConflictUnresolved,
		},
	}

	recs, err := findAll[conflictRecord](ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	conflicts := make([]*domain.SyncConflict, 0, len(recs))
	for i := range recs {
		conflicts = append(conflicts, &recs[i].SyncConflict)
	}
	slices.SortStableFunc(conflicts, func(a, b *domain.SyncConflict) int {
		return a.DetectedAt.Compare(b.DetectedAt)
	})

	return conflicts, nil
}

func (r *conflictRepository) Claim(ctx context.Context, userID, conflictID string, resolution domain.Resolution, resolvedData map[string]any) (*domain.SyncConflict, error) {
	db := r.client.DB(r.dbName)

	rec, err := r.load(ctx, db, userID, conflictID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.ConflictUnresolved {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	rec.Status = domain.ConflictResolved
	rec.Resolution = resolution
	rec.ResolvedData = resolvedData
	rec.ResolvedAt = &now

	if _, err := db.Put(ctx, rec.ID, rec); err != nil {
		if isConflict(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}

	return &rec.SyncConflict, nil
}

func (r *conflictRepository) Reopen(ctx context.Context, userID, conflictID string) error {
	db := r.client.DB(r.dbName)

	rec, err := r.load(ctx, db, userID, conflictID)
	if err != nil {
		return err
	}

	rec.Status = domain.ConflictUnresolved
	rec.Resolution = ""
	rec.ResolvedData = nil
	rec.ResolvedAt = nil

	if _, err := db.Put(ctx, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to reopen conflict: %w", err)
	}
	return nil
}

func (r *conflictRepository) SetResolvedData(ctx context.Context, userID, conflictID string, data map[string]any) error {
	db := r.client.DB(r.dbName)

	rec, err := r.load(ctx, db, userID, conflictID)
	if err != nil {
		return err
	}
	if rec.Status != domain.ConflictResolved {
		return ErrNotFound
	}

	rec.ResolvedData = data
	if _, err := db.Put(ctx, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to store resolved data: %w", err)
	}
	return nil
}

func (r *conflictRepository) Release(ctx context.Context, userID, collection, documentID string) error {
	db := r.client.DB(r.dbName)

	id := docID(docTypeOpenConflict, userID, collection, documentID)
	var marker openConflictRecord
	if err := db.Get(ctx, id).ScanDoc(&marker); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to read conflict marker: %w", err)
	}

	if _, err := db.Delete(ctx, id, marker.Rev); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to release conflict marker: %w", err)
	}
	return nil
}
