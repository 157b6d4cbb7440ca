package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type DeviceService struct {
	repo     repository.DeviceRepository
	state    *SyncStateService
	validate *validator.Validate
}

func NewDeviceService(repo repository.DeviceRepository, state *SyncStateService) *DeviceService {
	return &DeviceService{
		repo:     repo,
		state:    state,
		validate: newValidator(),
	}
}

func (s *DeviceService) Register(ctx context.Context, userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	device := &domain.Device{
		ID:         uuid.New().String(),
		UserID:     userID,
		Name:       req.Name,
		Type:       req.Type,
		OS:         req.OS,
		AppVersion: req.AppVersion,
		LastActive: now,
		CreatedAt:  now,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	return toDeviceResponse(device), nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, toDeviceResponse(d))
	}

	return responses, nil
}

// Authorize checks that the device belongs to the user and is not revoked,
// and marks it active.
func (s *DeviceService) Authorize(ctx context.Context, userID, deviceID string) error {
	device, err := s.owned(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if !device.CanSync(userID) {
		return &ValidationError{Field: "device_id", Message: "device is revoked"}
	}
	return s.repo.UpdateLastActive(ctx, deviceID)
}

// Revoke disables a device and forgets its sync state. Devices of other
// users are reported as not found.
func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	if _, err := s.owned(ctx, userID, deviceID); err != nil {
		return err
	}

	if err := s.repo.Revoke(ctx, deviceID); err != nil {
		return err
	}

	return s.state.Drop(ctx, userID, deviceID)
}

func (s *DeviceService) owned(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	device, err := s.repo.FindByID(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && device.UserID != userID) {
		return nil, &NotFoundError{Resource: "device", ID: deviceID}
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func toDeviceResponse(d *domain.Device) *domain.DeviceResponse {
	return &domain.DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Type:       d.Type,
		OS:         d.OS,
		AppVersion: d.AppVersion,
		LastActive: d.LastActive,
		CreatedAt:  d.CreatedAt,
		IsRevoked:  d.IsRevoked,
	}
}
