package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// DocumentRepository is the authoritative store for business documents.
// Every write is conditional on the version the caller read.
type DocumentRepository interface {
	// Get returns the document, tombstoned or not, or ErrNotFound.
	Get(ctx context.Context, userID, collection, id string) (*domain.Document, error)
	// Write stores doc if the stored version still equals expectedVersion
	// (0 for a document that does not exist yet) and returns the stored
	// document with its new version and collection sequence. A lost race
	// yields ErrVersionMismatch.
	Write(ctx context.Context, doc *domain.Document, expectedVersion int64) (*domain.Document, error)
	List(ctx context.Context, userID, collection string) ([]*domain.Document, error)
	// ListChanges returns up to limit documents of a collection written at a
	// sequence strictly greater than since, ascending.
	ListChanges(ctx context.Context, userID, collection string, since int64, limit int) ([]*domain.Document, error)
	CollectionVersion(ctx context.Context, userID, collection string) (int64, error)
}

type documentRecord struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Document
}

type counterRecord struct {
	ID         string    `json:"_id"`
	Rev        string    `json:"_rev,omitempty"`
	DocType    string    `json:"doc_type"`
	UserID     string    `json:"user_id"`
	Collection string    `json:"collection"`
	Value      int64     `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type documentRepository struct {
	client     *kivik.Client
	dbName     string
	maxRetries int
}

func NewDocumentRepository(client *kivik.Client, dbName string, maxRetries int) DocumentRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultWriteRetries
	}
	return &documentRepository{
		client:     client,
		dbName:     dbName,
		maxRetries: maxRetries,
	}
}

func (r *documentRepository) load(ctx context.Context, db *kivik.DB, id string) (*documentRecord, error) {
	var rec documentRecord
	if err := db.Get(ctx, id).ScanDoc(&rec); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &rec, nil
}

func (r *documentRepository) Get(ctx context.Context, userID, collection, id string) (*domain.Document, error) {
	db := r.client.DB(r.dbName)

	rec, err := r.load(ctx, db, docID(docTypeDocument, userID, collection, id))
	if err != nil {
		return nil, err
	}
	return &rec.Document, nil
}

func (r *documentRepository) Write(ctx context.Context, doc *domain.Document, expectedVersion int64) (*domain.Document, error) {
	db := r.client.DB(r.dbName)
	id := docID(docTypeDocument, doc.UserID, doc.Collection, doc.ID)
	now := time.Now().UTC()

	rec := documentRecord{
		ID:       id,
		DocType:  docTypeDocument,
		Document: *doc,
	}
	rec.CreatedAt = now

	current, err := r.load(ctx, db, id)
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedVersion != 0 {
			return nil, ErrVersionMismatch
		}
	case err != nil:
		return nil, err
	default:
		if current.Version != expectedVersion {
			return nil, ErrVersionMismatch
		}
		rec.Rev = current.Rev
		rec.CreatedAt = current.CreatedAt
	}

	seq, err := r.nextSeq(ctx, db, doc.UserID, doc.Collection)
	if err != nil {
		return nil, err
	}

	rec.Version = expectedVersion + 1
	rec.Seq = seq
	rec.UpdatedAt = now

	if _, err := db.Put(ctx, id, rec); err != nil {
		if isConflict(err) {
			return nil, ErrVersionMismatch
		}
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	stored := rec.Document
	return &stored, nil
}

// nextSeq increments the per-collection counter document.
func (r *documentRepository) nextSeq(ctx context.Context, db *kivik.DB, userID, collection string) (int64, error) {
	id := docID(docTypeCounter, userID, collection)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		counter := counterRecord{
			ID:         id,
			DocType:    docTypeCounter,
			UserID:     userID,
			Collection: collection,
		}
		if err := db.Get(ctx, id).ScanDoc(&counter); err != nil && !isNotFound(err) {
			return 0, fmt.Errorf("failed to read collection counter: %w", err)
		}

		counter.Value++
		counter.UpdatedAt = time.Now().UTC()

		_, err := db.Put(ctx, id, counter)
		if err == nil {
			return counter.Value, nil
		}
		if !isConflict(err) {
			return 0, fmt.Errorf("failed to increment collection counter: %w", err)
		}
	}

	return 0, fmt.Errorf("failed to increment collection counter after %d attempts", r.maxRetries)
}

func (r *documentRepository) List(ctx context.Context, userID, collection string) ([]*domain.Document, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":   docTypeDocument,
			"user_id":    userID,
			"collection": collection,
			"deleted":    false,
		},
	}

	recs, err := findAll[documentRecord](ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]*domain.Document, 0, len(recs))
	for i := range recs {
		docs = append(docs, &recs[i].Document)
	}
	return docs, nil
}

func (r *documentRepository) ListChanges(ctx context.Context, userID, collection string, since int64, limit int) ([]*domain.Document, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":   docTypeDocument,
			"user_id":    userID,
			"collection": collection,
			"seq":        map[string]interface{}{"$gt": since},
		},
		"sort": []map[string]string{
			{"doc_type": "asc"},
			{"user_id": "asc"},
			{"collection": "asc"},
			{"seq": "asc"},
		},
		"limit": limit,
	}

	rows := db.Find(ctx, query)
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var rec documentRecord
		if err := rows.ScanDoc(&rec); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		doc := rec.Document
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	return docs, nil
}

func (r *documentRepository) CollectionVersion(ctx context.Context, userID, collection string) (int64, error) {
	db := r.client.DB(r.dbName)

	var counter counterRecord
	if err := db.Get(ctx, docID(docTypeCounter, userID, collection)).ScanDoc(&counter); err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read collection counter: %w", err)
	}
	return counter.Value, nil
}
