package handler

import (
	"net/http"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/config"
	"recipe-sync-server/internal/middleware"

	"github.com/gorilla/mux"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth      *AuthHandler
	User      *UserHandler
	Device    *DeviceHandler
	Operation *OperationHandler
	SyncState *SyncStateHandler
	Batch     *BatchHandler
	Conflict  *ConflictHandler
	Document  *DocumentHandler
	WebSocket *WebSocketHandler
}

func NewRouter(h Handlers, cfg *config.Config, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", h.Auth.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", h.Auth.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", h.Auth.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/users/me", h.User.GetMe).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", h.User.UpdateMe).Methods("PUT", "OPTIONS")

	protected.HandleFunc("/devices", h.Device.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/register", h.Device.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}", h.Device.Revoke).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/sync/operations", h.Operation.Record).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/operations/pending", h.Operation.ListPending).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/state/{deviceId}", h.SyncState.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/state/{deviceId}", h.SyncState.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/sync/batch", h.Batch.Submit).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/status", h.Batch.Status).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/changes", h.Batch.Changes).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts", h.Conflict.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/{id}/resolve", h.Conflict.Resolve).Methods("POST", "OPTIONS")

	protected.HandleFunc("/documents/{collection}", h.Document.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/documents/{collection}/{id}", h.Document.Get).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", h.WebSocket.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"recipe-sync-server"}`))
}
