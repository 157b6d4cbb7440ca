package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/middleware"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"
)

const maxBodyBytes = 4 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return "", false
	}
	return userID, true
}

// writeError maps service errors onto HTTP statuses. Anything unexpected is
// logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		response.FieldError(w, validationErr.Field, validationErr.Message)
	case errors.As(err, &notFoundErr):
		response.NotFound(w, notFoundErr.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Unauthorized(w, err.Error())
	default:
		log.Error("request failed", logger.Err(err))
		response.InternalError(w, "Internal server error")
	}
}
