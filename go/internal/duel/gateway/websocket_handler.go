package gateway

import (
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/identity"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             RoomService
	identity          IdentityResolver
	clock             clockwork.Clock
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, rooms RoomService, identity IdentityResolver, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
		identity:          identity,
		clock:             clock,
	}
}

// HandleRoomConnection handles GET /ws/duel?room=CODE. The first frame on a
// new connection is room-joined with the caller's role and the current
// snapshot.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		writeError(w, &duel.Error{Kind: duel.KindInvalidArgument, Message: "room is required"})
		return
	}

	participantID, err := h.identity.Resolve(r)
	if err != nil && !errors.Is(err, identity.ErrMissingIdentity) {
		writeError(w, &duel.Error{Kind: duel.KindUnauthenticated, Message: "invalid credentials", Err: err})
		return
	}

	// Reject unknown rooms before upgrading so clients get a plain 404.
	snap, err := h.rooms.GetRoomState(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	role := snap.RoleOf(participantID)

	conn, err := h.connectionManager.UpgradeConnection(w, r, participantID, role, snap.Code)
	if err != nil {
		// The upgrader has already replied to the client.
		log.Error().
			Err(err).
			Str("room_code", snap.Code).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	// Re-read so the greeting is not older than anything broadcast since
	// registration.
	if latest, err := h.rooms.GetRoomState(r.Context(), snap.Code); err == nil {
		snap = latest
	}

	env, err := events.NewEnvelope(snap.Code, snap.Version, events.RoomJoined{Role: role, Snapshot: snap}, h.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_code", snap.Code).Msg("failed to build room-joined event")
		return
	}
	if err := h.connectionManager.SendTo(conn, env); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("failed to send room-joined")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/duel", h.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
