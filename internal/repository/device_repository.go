package repository

import (
	"context"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	List(ctx context.Context, userID string) ([]*domain.Device, error)
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	Revoke(ctx context.Context, deviceID string) error
	UpdateLastActive(ctx context.Context, deviceID string) error
}

type deviceRecord struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Device
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.Device) error {
	db := r.client.DB(r.dbName)

	id := docID(docTypeDevice, device.ID)
	rec := deviceRecord{ID: id, DocType: docTypeDevice, Device: *device}
	if _, err := db.Put(ctx, id, rec); err != nil {
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeDevice,
			"user_id":  userID,
		},
	}

	recs, err := findAll[deviceRecord](ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*domain.Device, 0, len(recs))
	for i := range recs {
		devices = append(devices, &recs[i].Device)
	}
	return devices, nil
}

func (r *deviceRepository) load(ctx context.Context, db *kivik.DB, deviceID string) (*deviceRecord, error) {
	var rec deviceRecord
	if err := db.Get(ctx, docID(docTypeDevice, deviceID)).ScanDoc(&rec); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return &rec, nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	rec, err := r.load(ctx, r.client.DB(r.dbName), deviceID)
	if err != nil {
		return nil, err
	}
	return &rec.Device, nil
}

func (r *deviceRepository) modify(ctx context.Context, deviceID string, fn func(d *domain.Device)) error {
	db := r.client.DB(r.dbName)

	rec, err := r.load(ctx, db, deviceID)
	if err != nil {
		return err
	}

	fn(&rec.Device)

	if _, err := db.Put(ctx, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return nil
}

func (r *deviceRepository) Revoke(ctx context.Context, deviceID string) error {
	return r.modify(ctx, deviceID, func(d *domain.Device) {
		d.IsRevoked = true
	})
}

func (r *deviceRepository) UpdateLastActive(ctx context.Context, deviceID string) error {
	return r.modify(ctx, deviceID, func(d *domain.Device) {
		d.LastActive = time.Now().UTC()
	})
}
