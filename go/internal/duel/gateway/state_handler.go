package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// HistoryProvider lists archived duels of a participant.
type HistoryProvider interface {
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.DuelResult, error)
}

// StateResponse is the polling view of a room: the same snapshot pushed over
// the WebSocket plus the caller's role and transport hints.
type StateResponse struct {
	models.RoomSnapshot
	Role           models.Role `json:"role"`
	ServerTime     time.Time   `json:"serverTime"`
	PollIntervalMs int64       `json:"pollIntervalMs"`
	PushGraceMs    int64       `json:"pushGraceMs"`
}

// RoomSummary is one entry of the active rooms listing.
type RoomSummary struct {
	RoomCode       string            `json:"roomCode"`
	Status         models.RoomStatus `json:"status"`
	ProblemID      string            `json:"problemId"`
	Difficulty     models.Difficulty `json:"difficulty"`
	Host           string            `json:"host"`
	Opponent       string            `json:"opponent,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	LobbyExpiresAt time.Time         `json:"lobbyExpiresAt"`
	MatchDeadline  *time.Time        `json:"matchDeadline,omitempty"`
}

// StateHandler serves read-only room state
type StateHandler struct {
	rooms    RoomService
	identity IdentityResolver
	history  HistoryProvider
	clock    clockwork.Clock
	config   SyncConfig
}

// NewStateHandler creates a new state handler. history may be nil.
func NewStateHandler(rooms RoomService, identity IdentityResolver, history HistoryProvider, clock clockwork.Clock, config SyncConfig) *StateHandler {
	return &StateHandler{
		rooms:    rooms,
		identity: identity,
		history:  history,
		clock:    clock,
		config:   config,
	}
}

// HandleGetRoomState handles GET /api/duels/{code}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.rooms.GetRoomState(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}

	// Anonymous callers poll as spectators.
	participantID, _ := h.identity.Resolve(r)

	writeJSON(w, http.StatusOK, StateResponse{
		RoomSnapshot:   snap,
		Role:           snap.RoleOf(participantID),
		ServerTime:     h.clock.Now(),
		PollIntervalMs: h.config.PollInterval.Milliseconds(),
		PushGraceMs:    h.config.PushGrace.Milliseconds(),
	})
}

// HandleGetActiveRooms handles GET /api/duels/active
func (h *StateHandler) HandleGetActiveRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.ActiveRooms(r.Context())

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, snap := range rooms {
		summaries = append(summaries, RoomSummary{
			RoomCode:       snap.Code,
			Status:         snap.Status,
			ProblemID:      snap.Problem.ID,
			Difficulty:     snap.Problem.Difficulty,
			Host:           snap.Host,
			Opponent:       snap.Opponent,
			CreatedAt:      snap.CreatedAt,
			LobbyExpiresAt: snap.LobbyExpiresAt,
			MatchDeadline:  snap.MatchDeadline,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// HandleGetHistory handles GET /api/history?participant=ID
func (h *StateHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		id, err := h.identity.Resolve(r)
		if err != nil {
			writeError(w, &duel.Error{Kind: duel.KindInvalidArgument, Message: "participant is required"})
			return
		}
		participantID = id
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, &duel.Error{Kind: duel.KindInvalidArgument, Message: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	results, err := h.history.ListByParticipant(r.Context(), participantID, limit)
	if err != nil {
		writeError(w, &duel.Error{Kind: duel.KindExternalServiceFailure, Message: "history unavailable", Err: err})
		return
	}
	if results == nil {
		results = []models.DuelResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/duels/active", h.HandleGetActiveRooms)
	mux.HandleFunc("GET /api/duels/{code}/state", h.HandleGetRoomState)
	if h.history != nil {
		mux.HandleFunc("GET /api/history", h.HandleGetHistory)
	}
}
