package handler

import (
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

type SyncStateHandler struct {
	state *service.SyncStateService
	log   *slog.Logger
}

func NewSyncStateHandler(state *service.SyncStateService, log *slog.Logger) *SyncStateHandler {
	return &SyncStateHandler{
		state: state,
		log:   log,
	}
}

func (h *SyncStateHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	state, err := h.state.Get(r.Context(), userID, mux.Vars(r)["deviceId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, state)
}

func (h *SyncStateHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req domain.UpdateSyncStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Collections == nil {
		response.FieldError(w, "collections", "is required")
		return
	}

	versions := make(map[string]int64, len(req.Collections))
	for collection, entry := range req.Collections {
		versions[collection] = entry.Version
	}

	state, err := h.state.Update(r.Context(), userID, mux.Vars(r)["deviceId"], versions)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, state)
}
