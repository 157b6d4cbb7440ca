package handler

import (
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service *service.DeviceService
	log     *slog.Logger
}

func NewDeviceHandler(service *service.DeviceService, log *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		log:     log,
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req domain.RegisterDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	device, err := h.service.Register(r.Context(), userID, &req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	devices, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	deviceID := mux.Vars(r)["id"]
	if err := h.service.Revoke(r.Context(), userID, deviceID); err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, map[string]string{"message": "Device revoked successfully"})
}
