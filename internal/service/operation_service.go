package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// OperationService is the per-device operation log.
type OperationService struct {
	repo     repository.OperationRepository
	validate *validator.Validate
	log      *slog.Logger
	// terminal remembers recently finished operations so resubmissions are
	// answered without a store round trip.
	terminal *lru.Cache[string, domain.Operation]
}

func NewOperationService(repo repository.OperationRepository, cacheSize int, log *slog.Logger) (*OperationService, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, domain.Operation](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation cache: %w", err)
	}

	return &OperationService{
		repo:     repo,
		validate: newValidator(),
		log:      log.With(slog.String("component", "operation_service")),
		terminal: cache,
	}, nil
}

func cacheKey(userID, opID string) string {
	return userID + "/" + opID
}

// Record stores a new pending operation. Resubmitting an id the user already
// used returns the stored record unchanged.
func (s *OperationService) Record(ctx context.Context, userID string, in *domain.OperationInput) (*domain.Operation, error) {
	op, _, err := s.record(ctx, userID, in, "")
	return op, err
}

func (s *OperationService) record(ctx context.Context, userID string, in *domain.OperationInput, batchID string) (*domain.Operation, bool, error) {
	if err := validateStruct(s.validate, in); err != nil {
		return nil, false, err
	}

	if in.ID != "" {
		if cached, ok := s.terminal.Get(cacheKey(userID, in.ID)); ok {
			return &cached, true, nil
		}
	}

	op := &domain.Operation{
		ID:          in.ID,
		UserID:      userID,
		DeviceID:    in.DeviceID,
		Collection:  in.Collection,
		DocumentID:  in.DocumentID,
		Kind:        in.Kind,
		BaseVersion: in.BaseVersion,
		Changes:     in.Changes,
		Status:      domain.OperationPending,
		BatchID:     batchID,
		CreatedAt:   time.Now().UTC(),
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	err := s.repo.Create(ctx, op)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, err := s.repo.Get(ctx, userID, op.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing operation: %w", err)
		}
		s.remember(existing)
		return existing, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to record operation: %w", err)
	}

	return op, false, nil
}

func (s *OperationService) Get(ctx context.Context, userID, opID string) (*domain.Operation, error) {
	op, err := s.repo.Get(ctx, userID, opID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "operation", ID: opID}
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// ListPending returns the device's pending operations in insertion order.
func (s *OperationService) ListPending(ctx context.Context, userID, deviceID string) ([]*domain.Operation, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "device_id", Message: "is required"}
	}

	ops, err := s.repo.ListPending(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// MarkCompleted is idempotent; an operation that is already terminal keeps
// its first outcome.
func (s *OperationService) MarkCompleted(ctx context.Context, userID, opID string) (*domain.Operation, error) {
	return s.finish(ctx, userID, opID, domain.OperationCompleted, "")
}

// MarkFailed is idempotent like MarkCompleted.
func (s *OperationService) MarkFailed(ctx context.Context, userID, opID, reason string) (*domain.Operation, error) {
	return s.finish(ctx, userID, opID, domain.OperationFailed, reason)
}

func (s *OperationService) finish(ctx context.Context, userID, opID string, status domain.OperationStatus, reason string) (*domain.Operation, error) {
	if cached, ok := s.terminal.Get(cacheKey(userID, opID)); ok {
		return &cached, nil
	}

	op, err := s.repo.Finish(ctx, userID, opID, status, reason)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "operation", ID: opID}
	}
	if err != nil {
		return nil, err
	}

	if op.Status != status {
		s.log.Debug("operation already terminal",
			slog.String("operation_id", opID),
			slog.String("status", string(op.Status)),
		)
	}
	s.remember(op)
	return op, nil
}

func (s *OperationService) remember(op *domain.Operation) {
	if op.Status.IsTerminal() {
		s.terminal.Add(cacheKey(op.UserID, op.ID), *op)
	}
}
