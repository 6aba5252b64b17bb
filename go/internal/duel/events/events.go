package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/codeduel/go/internal/models"
)

// Type names a push event on the wire.
type Type string

const (
	TypeRoomJoined           Type = "room-joined"
	TypeRoomUpdated          Type = "room-updated"
	TypeOpponentJoined       Type = "opponent-joined"
	TypeOpponentReadyChanged Type = "opponent-ready-changed"
	TypeMatchCountdown       Type = "match-countdown"
	TypeMatchStarted         Type = "match-started"
	TypeOpponentSubmitted    Type = "opponent-submitted"
	TypeMatchFinished        Type = "match-finished"
	TypeRoomExpired          Type = "room-expired"
	TypeError                Type = "error"
)

// Event is implemented only by the payload structs in this package.
type Event interface {
	EventType() Type
	isEvent()
}

// RoomJoined is sent to a connection right after it subscribes.
type RoomJoined struct {
	Role     models.Role         `json:"role"`
	Snapshot models.RoomSnapshot `json:"snapshot"`
}

// RoomUpdated carries the full snapshot after any mutation.
type RoomUpdated struct {
	Snapshot models.RoomSnapshot `json:"snapshot"`
}

type OpponentJoined struct {
	ParticipantID string            `json:"participantId"`
	Status        models.RoomStatus `json:"status"`
}

type OpponentReadyChanged struct {
	ParticipantID string `json:"participantId"`
	Ready         bool   `json:"ready"`
}

// MatchCountdown is emitted once per tick, counting down to 1.
type MatchCountdown struct {
	Tick int `json:"tick"`
}

type MatchStarted struct {
	StartedAt   time.Time `json:"startedAt"`
	Deadline    time.Time `json:"deadline"`
	DurationSec int       `json:"durationSec"`
}

type OpponentSubmitted struct {
	ParticipantID string    `json:"participantId"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// MatchFinished reports the winner id or "tie".
type MatchFinished struct {
	Winner        string              `json:"winner"`
	MatchDuration int                 `json:"matchDuration"`
	Reason        models.FinishReason `json:"reason"`
}

type RoomExpired struct {
	Reason models.ExpireReason `json:"reason"`
}

// Error is sent to a single connection in reply to a bad client message.
type Error struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (RoomJoined) EventType() Type           { return TypeRoomJoined }
func (RoomUpdated) EventType() Type          { return TypeRoomUpdated }
func (OpponentJoined) EventType() Type       { return TypeOpponentJoined }
func (OpponentReadyChanged) EventType() Type { return TypeOpponentReadyChanged }
func (MatchCountdown) EventType() Type       { return TypeMatchCountdown }
func (MatchStarted) EventType() Type         { return TypeMatchStarted }
func (OpponentSubmitted) EventType() Type    { return TypeOpponentSubmitted }
func (MatchFinished) EventType() Type        { return TypeMatchFinished }
func (RoomExpired) EventType() Type          { return TypeRoomExpired }
func (Error) EventType() Type                { return TypeError }

func (RoomJoined) isEvent()           {}
func (RoomUpdated) isEvent()          {}
func (OpponentJoined) isEvent()       {}
func (OpponentReadyChanged) isEvent() {}
func (MatchCountdown) isEvent()       {}
func (MatchStarted) isEvent()         {}
func (OpponentSubmitted) isEvent()    {}
func (MatchFinished) isEvent()        {}
func (RoomExpired) isEvent()          {}
func (Error) isEvent()                {}

// Envelope is the wire form shared by WebSocket frames and NATS messages.
type Envelope struct {
	ID        string          `json:"id"`
	RoomCode  string          `json:"roomCode"`
	Type      Type            `json:"type"`
	Version   int64           `json:"version"`
	Target    string          `json:"target,omitempty"` // participant id; empty means everyone in the room
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps ev for roomCode. version is the room version the event
// was produced at, letting clients discard stale frames.
func NewEnvelope(roomCode string, version int64, ev Event, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		RoomCode:  roomCode,
		Type:      ev.EventType(),
		Version:   version,
		Timestamp: now,
		Data:      data,
	}, nil
}

// To returns a copy addressed to a single participant.
func (e *Envelope) To(participantID string) *Envelope {
	c := *e
	c.Target = participantID
	return &c
}

// Decode parses Data into the payload struct for e.Type.
func (e *Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Type {
	case TypeRoomJoined:
		ev = &RoomJoined{}
	case TypeRoomUpdated:
		ev = &RoomUpdated{}
	case TypeOpponentJoined:
		ev = &OpponentJoined{}
	case TypeOpponentReadyChanged:
		ev = &OpponentReadyChanged{}
	case TypeMatchCountdown:
		ev = &MatchCountdown{}
	case TypeMatchStarted:
		ev = &MatchStarted{}
	case TypeOpponentSubmitted:
		ev = &OpponentSubmitted{}
	case TypeMatchFinished:
		ev = &MatchFinished{}
	case TypeRoomExpired:
		ev = &RoomExpired{}
	case TypeError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}
	if err := json.Unmarshal(e.Data, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return deref(ev), nil
}

// SnapshotOf extracts the room snapshot carried by room-joined and room-updated.
func SnapshotOf(ev Event) (models.RoomSnapshot, bool) {
	switch v := ev.(type) {
	case RoomJoined:
		return v.Snapshot, true
	case RoomUpdated:
		return v.Snapshot, true
	default:
		return models.RoomSnapshot{}, false
	}
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *RoomJoined:
		return *v
	case *RoomUpdated:
		return *v
	case *OpponentJoined:
		return *v
	case *OpponentReadyChanged:
		return *v
	case *MatchCountdown:
		return *v
	case *MatchStarted:
		return *v
	case *OpponentSubmitted:
		return *v
	case *MatchFinished:
		return *v
	case *RoomExpired:
		return *v
	case *Error:
		return *v
	}
	return ev
}
