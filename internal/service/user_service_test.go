package service

import (
	"context"
	"errors"
	"testing"

	"recipe-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_GetByID(t *testing.T) {
	repo := newMockUserRepository()
	service := NewUserService(repo)
	seedUser(t, repo, "u1", "alice", "alice@example.com", "Password123!")

	user, err := service.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.PasswordHash)

	_, err = service.GetByID(context.Background(), "missing")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestUserService_UpdateProfile(t *testing.T) {
	repo := newMockUserRepository()
	service := NewUserService(repo)
	seedUser(t, repo, "u1", "alice", "alice@example.com", "Password123!")
	seedUser(t, repo, "u2", "bob", "bob@example.com", "Password123!")

	tests := []struct {
		name      string
		userID    string
		username  string
		wantField string
		notFound  bool
	}{
		{name: "rename", userID: "u1", username: "alicia"},
		{name: "same name", userID: "u1", username: "alicia"},
		{name: "taken", userID: "u1", username: "bob", wantField: "username"},
		{name: "too short", userID: "u1", username: "al", wantField: "username"},
		{name: "not alphanumeric", userID: "u1", username: "ali ce", wantField: "username"},
		{name: "unknown user", userID: "ghost", username: "ghost", notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := service.UpdateProfile(context.Background(), tt.userID, &domain.UpdateUserRequest{Username: tt.username})

			switch {
			case tt.notFound:
				var nf *NotFoundError
				assert.True(t, errors.As(err, &nf))
			case tt.wantField != "":
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tt.wantField, verr.Field)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.username, user.Username)
				assert.Empty(t, user.PasswordHash)

				stored, err := repo.FindByID(context.Background(), tt.userID)
				require.NoError(t, err)
				assert.Equal(t, tt.username, stored.Username)
				assert.NotEmpty(t, stored.PasswordHash)
			}
		})
	}
}
