package handler

import (
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"
)

type OperationHandler struct {
	operations *service.OperationService
	log        *slog.Logger
}

func NewOperationHandler(operations *service.OperationService, log *slog.Logger) *OperationHandler {
	return &OperationHandler{
		operations: operations,
		log:        log,
	}
}

// Record appends one operation to the device log without routing it.
func (h *OperationHandler) Record(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in domain.OperationInput
	if !decodeJSON(w, r, &in) {
		return
	}

	op, err := h.operations.Record(r.Context(), userID, &in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Created(w, op)
}

func (h *OperationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ops, err := h.operations.ListPending(r.Context(), userID, r.URL.Query().Get("device_id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, ops)
}
