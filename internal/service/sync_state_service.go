package service

import (
	"context"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"
)

// SyncStateService tracks, per device, the collection versions the device
// has acknowledged.
type SyncStateService struct {
	repo repository.SyncStateRepository
}

func NewSyncStateService(repo repository.SyncStateRepository) *SyncStateService {
	return &SyncStateService{
		repo: repo,
	}
}

func (s *SyncStateService) Get(ctx context.Context, userID, deviceID string) (*domain.SyncState, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "device_id", Message: "is required"}
	}

	versions, err := s.repo.List(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &NotFoundError{Resource: "sync state", ID: deviceID}
	}

	return buildSyncState(userID, deviceID, versions), nil
}

// Update overwrites the given collection versions and leaves the others as
// they are. Calling it twice with the same map stores the same state. The
// submitted version also becomes the collection's change-feed watermark.
func (s *SyncStateService) Update(ctx context.Context, userID, deviceID string, collections map[string]int64) (*domain.SyncState, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "device_id", Message: "is required"}
	}
	if len(collections) == 0 {
		return nil, &ValidationError{Field: "collections", Message: "is required"}
	}
	for name, version := range collections {
		if name == "" {
			return nil, &ValidationError{Field: "collections", Message: "collection name is required"}
		}
		if version < 0 {
			return nil, &ValidationError{
				Field:   "collections." + name,
				Message: fmt.Sprintf("version must be non-negative, got %d", version),
			}
		}
	}

	for name, version := range collections {
		err := s.repo.Put(ctx, &domain.CollectionVersion{
			UserID:     userID,
			DeviceID:   deviceID,
			Collection: name,
			Version:    version,
			Watermark:  version,
		})
		if err != nil {
			return nil, err
		}
	}

	versions, err := s.repo.List(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	return buildSyncState(userID, deviceID, versions), nil
}

// Bump atomically increments one (user, device, collection) version.
func (s *SyncStateService) Bump(ctx context.Context, userID, deviceID, collection string) (int64, error) {
	if deviceID == "" || collection == "" {
		return 0, &ValidationError{Field: "collection", Message: "device and collection are required"}
	}
	return s.repo.Increment(ctx, userID, deviceID, collection)
}

// Version returns the device's tracked version of one collection, 0 when
// the device never synced it.
func (s *SyncStateService) Version(ctx context.Context, userID, deviceID, collection string) (int64, error) {
	cv, err := s.lookup(ctx, userID, deviceID, collection)
	if err != nil || cv == nil {
		return 0, err
	}
	return cv.Version, nil
}

// Watermark returns the last change-feed version the device acknowledged for
// a collection. Bumps from the device's own writes do not move it.
func (s *SyncStateService) Watermark(ctx context.Context, userID, deviceID, collection string) (int64, error) {
	cv, err := s.lookup(ctx, userID, deviceID, collection)
	if err != nil || cv == nil {
		return 0, err
	}
	return cv.Watermark, nil
}

func (s *SyncStateService) lookup(ctx context.Context, userID, deviceID, collection string) (*domain.CollectionVersion, error) {
	versions, err := s.repo.List(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Collection == collection {
			return v, nil
		}
	}
	return nil, nil
}

// Drop forgets a device's state, used when the device is revoked.
func (s *SyncStateService) Drop(ctx context.Context, userID, deviceID string) error {
	return s.repo.DeleteDevice(ctx, userID, deviceID)
}

func buildSyncState(userID, deviceID string, versions []*domain.CollectionVersion) *domain.SyncState {
	state := &domain.SyncState{
		UserID:      userID,
		DeviceID:    deviceID,
		Collections: make(map[string]int64, len(versions)),
		Watermarks:  make(map[string]int64, len(versions)),
	}

	var updated time.Time
	for _, v := range versions {
		state.Collections[v.Collection] = v.Version
		state.Watermarks[v.Collection] = v.Watermark
		if v.UpdatedAt.After(updated) {
			updated = v.UpdatedAt
		}
	}
	state.UpdatedAt = updated

	return state
}
