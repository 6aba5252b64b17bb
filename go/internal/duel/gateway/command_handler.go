package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/identity"
	"github.com/mcdev12/codeduel/go/internal/models"
)

const maxSubmissionBytes = 256 << 10

type CreateRoomRequest struct {
	ProblemID string `json:"problemId"`
}

type CreateRoomResponse struct {
	RoomCode       string            `json:"roomCode"`
	Status         models.RoomStatus `json:"status"`
	LobbyExpiresAt time.Time         `json:"lobbyExpiresAt"`
}

type SetReadyRequest struct {
	Ready bool `json:"ready"`
}

type SetReadyResponse struct {
	RoomCode string `json:"roomCode"`
	Ready    bool   `json:"ready"`
}

type SubmitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type LeaveRoomResponse struct {
	RoomCode string `json:"roomCode"`
	Left     bool   `json:"left"`
}

// CommandHandler serves the room mutation endpoints.
type CommandHandler struct {
	rooms    RoomService
	identity IdentityResolver
}

func NewCommandHandler(rooms RoomService, identity IdentityResolver) *CommandHandler {
	return &CommandHandler{rooms: rooms, identity: identity}
}

// HandleCreateRoom handles POST /api/duels
func (h *CommandHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := h.rooms.CreateRoom(r.Context(), participantID, req.ProblemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{
		RoomCode:       snap.Code,
		Status:         snap.Status,
		LobbyExpiresAt: snap.LobbyExpiresAt,
	})
}

// HandleJoinRoom handles POST /api/duels/{code}/join
func (h *CommandHandler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	res, err := h.rooms.JoinRoom(r.Context(), r.PathValue("code"), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSetReady handles POST /api/duels/{code}/ready
func (h *CommandHandler) HandleSetReady(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SetReadyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := h.rooms.SetReady(r.Context(), r.PathValue("code"), participantID, req.Ready)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetReadyResponse{RoomCode: snap.Code, Ready: req.Ready})
}

// HandleSubmit handles POST /api/duels/{code}/submit. The response is sent
// once the verdict is known.
func (h *CommandHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.rooms.Submit(r.Context(), r.PathValue("code"), participantID, req.Code, req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleLeaveRoom handles POST /api/duels/{code}/leave
func (h *CommandHandler) HandleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	code := r.PathValue("code")
	if err := h.rooms.LeaveRoom(r.Context(), code, participantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaveRoomResponse{RoomCode: code, Left: true})
}

// RegisterCommandRoutes registers room mutation routes
func (h *CommandHandler) RegisterCommandRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/duels", h.HandleCreateRoom)
	mux.HandleFunc("POST /api/duels/{code}/join", h.HandleJoinRoom)
	mux.HandleFunc("POST /api/duels/{code}/ready", h.HandleSetReady)
	mux.HandleFunc("POST /api/duels/{code}/submit", h.HandleSubmit)
	mux.HandleFunc("POST /api/duels/{code}/leave", h.HandleLeaveRoom)
}

// caller resolves the participant making a mutating request. Commands are
// never anonymous.
func (h *CommandHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	participantID, err := h.identity.Resolve(r)
	if err != nil {
		msg := "invalid credentials"
		if errors.Is(err, identity.ErrMissingIdentity) {
			msg = "caller identity required"
		}
		writeError(w, &duel.Error{Kind: duel.KindUnauthenticated, Message: msg, Err: err})
		return "", false
	}
	return participantID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, &duel.Error{Kind: duel.KindInvalidArgument, Message: "request body too large"})
		return false
	}
	writeError(w, &duel.Error{Kind: duel.KindInvalidArgument, Message: "invalid request body", Err: err})
	return false
}
