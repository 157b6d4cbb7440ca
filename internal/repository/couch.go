package repository

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeUser         = "user"
	docTypeDevice       = "device"
	docTypeDocument     = "document"
	docTypeCounter      = "collection_counter"
	docTypeOperation    = "operation"
	docTypeSyncState    = "sync_state"
	docTypeBatch        = "batch"
	docTypeConflict     = "conflict"
	docTypeOpenConflict = "open_conflict"

	findPageSize = 200

	// DefaultWriteRetries bounds optimistic retries on revision conflicts.
	DefaultWriteRetries = 5
)

// docID joins a document type and key parts into a CouchDB id. Parts are
// query-escaped so that client supplied names cannot collide across the
// ':' separator.
func docID(docType string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, docType)
	for _, p := range parts {
		escaped = append(escaped, url.QueryEscape(p))
	}
	return strings.Join(escaped, ":")
}

// findAll runs a Mango query and pages through every match with skip/limit.
func findAll[T any](ctx context.Context, db *kivik.DB, query map[string]interface{}) ([]T, error) {
	var out []T
	skip := 0
	for {
		q := maps.Clone(query)
		q["limit"] = findPageSize
		q["skip"] = skip

		rows := db.Find(ctx, q)
		n := 0
		for rows.Next() {
			var rec T
			if err := rows.ScanDoc(&rec); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan row: %w", err)
			}
			out = append(out, rec)
			n++
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to query: %w", err)
		}
		_ = rows.Close()

		if n < findPageSize {
			return out, nil
		}
		skip += n
	}
}

// findOne returns the first match of a Mango query or ErrNotFound.
func findOne[T any](ctx context.Context, db *kivik.DB, query map[string]interface{}) (*T, error) {
	q := maps.Clone(query)
	q["limit"] = 1

	rows := db.Find(ctx, q)
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query: %w", err)
		}
		return nil, ErrNotFound
	}

	var rec T
	if err := rows.ScanDoc(&rec); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return &rec, nil
}

type index struct {
	name   string
	fields []string
}

var indexes = []index{
	{name: "users-by-email", fields: []string{"doc_type", "email"}},
	{name: "users-by-username", fields: []string{"doc_type", "username"}},
	{name: "devices-by-user", fields: []string{"doc_type", "user_id"}},
	{name: "documents-by-seq", fields: []string{"doc_type", "user_id", "collection", "seq"}},
	{name: "operations-by-status", fields: []string{"doc_type", "user_id", "device_id", "status"}},
	{name: "sync-states-by-device", fields: []string{"doc_type", "user_id", "device_id"}},
	{name: "batches-by-created", fields: []string{"doc_type", "user_id", "device_id", "created_unix"}},
	{name: "conflicts-by-status", fields: []string{"doc_type", "user_id", "status"}},
}

// EnsureDatabase creates the database when missing and installs the Mango
// indexes every repository query relies on.
func EnsureDatabase(ctx context.Context, client *kivik.Client, dbName string) (created bool, err error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return false, fmt.Errorf("failed to create database: %w", err)
		}
		created = true
	}

	db := client.DB(dbName)
	for _, idx := range indexes {
		def := map[string]interface{}{"fields": idx.fields}
		if err := db.CreateIndex(ctx, "sync-"+idx.name, idx.name, def); err != nil {
			return created, fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return created, nil
}
