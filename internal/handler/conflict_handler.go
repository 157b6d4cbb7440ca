package handler

import (
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

type ConflictHandler struct {
	conflicts *service.ConflictService
	log       *slog.Logger
}

func NewConflictHandler(conflicts *service.ConflictService, log *slog.Logger) *ConflictHandler {
	return &ConflictHandler{
		conflicts: conflicts,
		log:       log,
	}
}

func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conflicts, err := h.conflicts.ListUnresolved(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if conflicts == nil {
		conflicts = []*domain.SyncConflict{}
	}
	response.Success(w, conflicts)
}

// Resolve applies the decision of the device named by the device_id query
// parameter; that device is not notified of its own resolution.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req domain.ConflictResolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conflict, doc, err := h.conflicts.Resolve(r.Context(), userID, r.URL.Query().Get("device_id"), mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"conflict": conflict,
		"document": doc,
	})
}
