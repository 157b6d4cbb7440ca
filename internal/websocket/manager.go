package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/logger"
)

const defaultMaxMessageSize = 1 << 20

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager is the hub of connected devices. It pushes document changes and
// new conflicts to every device of a user except the one that caused them.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	messageHandler MessageHandler
	log            *slog.Logger
	// done is closed when Run returns so pumps stop waiting on the hub.
	done chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error
}

func NewManager(maxConnPerUser int, writeWait, pongWait, pingPeriod time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		maxMessageSize: defaultMaxMessageSize,
		log:            log.With(slog.String("component", "websocket")),
		done:           make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// SetMaxMessageSize limits the size of inbound frames. Non-positive values
// keep the default.
func (m *Manager) SetMaxMessageSize(n int64) {
	if n > 0 {
		m.maxMessageSize = n
	}
}

// Run serves register, unregister and inbound messages until ctx is done,
// then disconnects every client.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)

		case <-ctx.Done():
			m.closeAll()
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.log.Warn("max connections reached", slog.String("user_id", client.UserID))
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	m.log.Info("client registered",
		slog.String("client_id", client.ID),
		slog.String("user_id", client.UserID),
		slog.String("device_id", client.DeviceID),
	)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	m.remove(client)
}

// remove expects clientsMutex to be held for writing.
func (m *Manager) remove(client *Client) {
	if _, ok := m.clients[client.ID]; !ok {
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	close(client.Send)
	m.log.Info("client unregistered", slog.String("client_id", client.ID))
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for _, client := range m.clients {
		m.remove(client)
	}
}

func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Warn("malformed message", slog.String("client_id", clientMsg.Client.ID), logger.Err(err))
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(ctx, clientMsg.Client, &msg); err != nil {
			m.log.Error("failed to handle message",
				slog.String("client_id", clientMsg.Client.ID),
				slog.String("type", string(msg.Type)),
				logger.Err(err),
			)
		}
	}
}

// BroadcastToUser queues message for every connection of the user except
// those of excludeDeviceID. Connections with a full send buffer are dropped.
func (m *Manager) BroadcastToUser(userID string, message *Message, excludeDeviceID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var stale []*Client

	m.clientsMutex.RLock()
	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			stale = append(stale, client)
		}
	}
	m.clientsMutex.RUnlock()

	if len(stale) > 0 {
		m.clientsMutex.Lock()
		for _, client := range stale {
			m.log.Warn("send buffer full, closing connection", slog.String("client_id", client.ID))
			m.remove(client)
		}
		m.clientsMutex.Unlock()
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.log.Warn("send buffer full", slog.String("client_id", clientID))
	}

	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.userIndex[userID])
}

// NotifyChange pushes an applied write to the user's other devices.
func (m *Manager) NotifyChange(userID, originDeviceID string, change domain.ChangeRecord) {
	m.notify(userID, originDeviceID, TypeDocumentChange, DocumentChangePayload{
		ChangeRecord: change,
		DeviceID:     originDeviceID,
	})
}

// NotifyConflict tells the user's other devices that a document is blocked
// until the conflict is resolved.
func (m *Manager) NotifyConflict(userID, originDeviceID string, conflict *domain.SyncConflict) {
	m.notify(userID, originDeviceID, TypeConflict, newConflictPayload(originDeviceID, conflict))
}

func (m *Manager) notify(userID, originDeviceID string, msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err == nil {
		err = m.BroadcastToUser(userID, msg, originDeviceID)
	}
	if err != nil {
		m.log.Error("failed to notify devices",
			slog.String("user_id", userID),
			slog.String("type", string(msgType)),
			logger.Err(err),
		)
	}
}
