package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
)

type UserService struct {
	userRepo repository.UserRepository
	validate *validator.Validate
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{
		userRepo: userRepo,
		validate: newValidator(),
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, err
	}

	return user.Redacted(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *domain.UpdateUserRequest) (*domain.User, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, err
	}

	if user.Username != req.Username {
		taken, err := s.userRepo.UsernameExists(ctx, req.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
		if taken {
			return nil, &ValidationError{Field: "username", Message: "already taken"}
		}
	}

	user.Username = req.Username
	user.UpdatedAt = time.Now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user.Redacted(), nil
}
