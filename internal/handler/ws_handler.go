package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/config"
	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/internal/websocket"
	"recipe-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	devices   *service.DeviceService
	jwtSecret string
	upgrader  ws.Upgrader
	log       *slog.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, devices *service.DeviceService, jwtSecret string, cfg config.WebSocketConfig, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		devices:   devices,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With(slog.String("component", "websocket_handler")),
	}
}

// HandleConnection upgrades an authenticated device. The token comes from
// the token query parameter or a bearer Authorization header.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil || claims.IsRefresh() {
		h.log.Debug("websocket token rejected", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	if err := h.devices.Authorize(r.Context(), claims.UserID, deviceID); err != nil {
		var (
			notFound *service.NotFoundError
			invalid  *service.ValidationError
		)
		switch {
		case errors.As(err, &notFound):
			http.Error(w, "unknown device", http.StatusNotFound)
		case errors.As(err, &invalid):
			http.Error(w, invalid.Message, http.StatusForbidden)
		default:
			h.log.Error("failed to authorize device", slog.String("device_id", deviceID), logger.Err(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", logger.Err(err))
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, deviceID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers pings and change-feed requests sent over
// the socket.
type WebSocketMessageHandler struct {
	batches *service.BatchService
	timeout time.Duration
}

func NewWebSocketMessageHandler(batches *service.BatchService, timeout time.Duration) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		batches: batches,
		timeout: timeout,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeChangesRequest:
		return h.handleChangesRequest(ctx, client, msg)

	case websocket.TypePing:
		return h.reply(client, msg.ID, websocket.TypePong, nil)

	default:
		return h.reply(client, msg.ID, websocket.TypeAck, &websocket.AckPayload{
			MessageID: msg.ID,
			Error:     "unsupported message type: " + string(msg.Type),
		})
	}
}

func (h *WebSocketMessageHandler) handleChangesRequest(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.ChangesRequestPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.reply(client, msg.ID, websocket.TypeAck, &websocket.AckPayload{MessageID: msg.ID, Error: "invalid payload"})
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	syncTime := time.Now().UTC()
	changes, err := h.batches.CollectChanges(ctx, client.UserID, client.DeviceID, payload.Collections, payload.SinceVersion)
	if err != nil {
		var invalid *service.ValidationError
		if errors.As(err, &invalid) {
			return h.reply(client, msg.ID, websocket.TypeAck, &websocket.AckPayload{MessageID: msg.ID, Error: invalid.Error()})
		}
		return err
	}

	return h.reply(client, msg.ID, websocket.TypeChangesResponse, &websocket.ChangesResponsePayload{
		Changes:  changes,
		SyncTime: syncTime,
	})
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, requestID string, msgType websocket.MessageType, payload interface{}) error {
	out, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	out.ID = requestID
	return client.Manager.SendToClient(client.ID, out)
}
