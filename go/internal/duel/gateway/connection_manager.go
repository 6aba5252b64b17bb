package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// ErrBroadcastBacklog is returned when the broadcast queue is full.
var ErrBroadcastBacklog = errors.New("broadcast channel full")

// ClientHandler reacts to messages and disconnects from room connections.
type ClientHandler interface {
	HandleClientMessage(ctx context.Context, conn *Connection, msg ClientMessage)
	HandleDisconnect(ctx context.Context, conn *Connection)
}

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	// Connection pools organized by room code
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ClientHandler

	broadcastCh chan *events.Envelope
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	ParticipantID string // empty for anonymous spectators
	Role          models.Role
	RoomCode      string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan *events.Envelope, 1000),
	}
}

// SetHandler installs the handler for client messages and disconnects.
func (cm *ConnectionManager) SetHandler(h ClientHandler) {
	cm.handler = h
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case env := <-cm.broadcastCh:
			cm.handleBroadcast(env)
		}
	}
}

// Publish queues an event for the room's connections. It never blocks.
func (cm *ConnectionManager) Publish(_ context.Context, env *events.Envelope) error {
	select {
	case cm.broadcastCh <- env:
		return nil
	default:
		log.Warn().
			Str("room_code", env.RoomCode).
			Str("event_type", string(env.Type)).
			Msg("broadcast channel full, dropping message")
		return ErrBroadcastBacklog
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
// in the room's pool.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID string, role models.Role, roomCode string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Role:          role,
		RoomCode:      roomCode,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		ConnectedAt:   now,
		LastPing:      now,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID).
		Str("role", string(role)).
		Str("room_code", roomCode).
		Msg("WebSocket connection established")

	return connection, nil
}

// SendTo delivers an event to a single connection.
func (cm *ConnectionManager) SendTo(conn *Connection, env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	cm.mu.RLock()
	registered := cm.roomConnections[conn.RoomCode][conn]
	sent := false
	if registered {
		select {
		case conn.Send <- data:
			sent = true
		default:
		}
	}
	cm.mu.RUnlock()

	if !registered {
		return fmt.Errorf("connection %s is closed", conn.ID)
	}
	if !sent {
		cm.dropConnection(conn)
		return fmt.Errorf("connection %s send buffer full", conn.ID)
	}
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", len(cm.roomConnections[conn.RoomCode])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and, when it was the participant's
// last connection to the room, reports the disconnect to the handler.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.roomConnections[conn.RoomCode]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)

	stillConnected := false
	if conn.ParticipantID != "" {
		for other := range connections {
			if other.ParticipantID == conn.ParticipantID {
				stillConnected = true
				break
			}
		}
	}
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomCode)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID).
		Str("room_code", conn.RoomCode).
		Msg("connection unregistered")

	if cm.handler != nil && conn.ParticipantID != "" && !stillConnected {
		go cm.handler.HandleDisconnect(context.Background(), conn)
	}
}

func (cm *ConnectionManager) dropConnection(conn *Connection) {
	log.Warn().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID).
		Msg("connection send buffer full, closing connection")
	cm.unregisterConnection(conn)
	conn.Conn.Close()
}

// handleBroadcast fans an event out to the room, honouring Target.
func (cm *ConnectionManager) handleBroadcast(env *events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0

	// Sends are non-blocking, so holding the read lock keeps Send channels
	// from being closed underneath us.
	cm.mu.RLock()
	for conn := range cm.roomConnections[env.RoomCode] {
		if env.Target != "" && conn.ParticipantID != env.Target {
			continue
		}
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		cm.dropConnection(conn)
	}

	log.Debug().
		Str("event_type", string(env.Type)).
		Str("room_code", env.RoomCode).
		Int("connections", delivered).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		conn.Conn.Close()
	}
}

// ConnectionStats summarizes open connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{RoomConnections: make(map[string]int, len(cm.roomConnections))}
	for code, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[code] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes a client frame and hands it to the handler.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("", "malformed message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("participant_id", c.ParticipantID).
		Str("message_type", string(msg.Type)).
		Msg("received client message")

	if c.Manager.handler == nil {
		return
	}
	c.Manager.handler.HandleClientMessage(context.Background(), c, msg)
}

func (c *Connection) sendError(kind, message string) {
	env, err := events.NewEnvelope(c.RoomCode, 0, events.Error{Kind: kind, Message: message}, time.Now())
	if err != nil {
		return
	}
	if err := c.Manager.SendTo(c, env.To(c.ParticipantID)); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send error to client")
	}
}
