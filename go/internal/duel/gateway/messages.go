package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel"
)

// ClientMessageType names a frame sent by a client over the WebSocket.
type ClientMessageType string

const (
	ClientMessagePlayerReady ClientMessageType = "player-ready"
	ClientMessageLeaveRoom   ClientMessageType = "leave-room"
	ClientMessagePing        ClientMessageType = "ping"
)

// ClientMessage is the envelope of a client frame.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// PlayerReadyData is the payload of player-ready.
type PlayerReadyData struct {
	Ready bool `json:"ready"`
}

// roomCommands applies client frames to rooms.
type roomCommands struct {
	rooms RoomService
}

func (h *roomCommands) HandleClientMessage(ctx context.Context, conn *Connection, msg ClientMessage) {
	switch msg.Type {
	case ClientMessagePing:
		return

	case ClientMessagePlayerReady:
		var data PlayerReadyData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				conn.sendError(string(duel.KindInvalidArgument), "invalid player-ready payload")
				return
			}
		}
		if _, err := h.rooms.SetReady(ctx, conn.RoomCode, conn.ParticipantID, data.Ready); err != nil {
			h.reject(conn, msg.Type, err)
		}

	case ClientMessageLeaveRoom:
		if err := h.rooms.LeaveRoom(ctx, conn.RoomCode, conn.ParticipantID); err != nil {
			h.reject(conn, msg.Type, err)
		}

	default:
		conn.sendError(string(duel.KindInvalidArgument), "unknown message type: "+string(msg.Type))
	}
}

// HandleDisconnect applies the leave policy when a participant's last
// connection to the room goes away.
func (h *roomCommands) HandleDisconnect(ctx context.Context, conn *Connection) {
	err := h.rooms.LeaveRoom(ctx, conn.RoomCode, conn.ParticipantID)
	if err != nil && !errors.Is(err, duel.ErrRoomNotFound) && !errors.Is(err, duel.ErrNotParticipant) {
		log.Warn().
			Err(err).
			Str("room_code", conn.RoomCode).
			Str("participant_id", conn.ParticipantID).
			Msg("failed to apply disconnect")
	}
}

func (h *roomCommands) reject(conn *Connection, typ ClientMessageType, err error) {
	log.Debug().
		Err(err).
		Str("connection_id", conn.ID).
		Str("message_type", string(typ)).
		Msg("client command rejected")
	conn.sendError(string(duel.KindOf(err)), errorMessage(err))
}
