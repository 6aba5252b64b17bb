package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/models"
)

func TestEnvelopeDecodeReturnsValuePayload(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	env, err := NewEnvelope("ABC234", 7, MatchFinished{Winner: "alice", MatchDuration: 102, Reason: models.FinishReasonAccepted}, now)
	require.NoError(t, err)
	assert.Equal(t, TypeMatchFinished, env.Type)
	assert.Equal(t, int64(7), env.Version)
	assert.NotEmpty(t, env.ID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var wire Envelope
	require.NoError(t, json.Unmarshal(raw, &wire))
	ev, err := wire.Decode()
	require.NoError(t, err)

	finished, ok := ev.(MatchFinished)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "alice", finished.Winner)
	assert.Equal(t, 102, finished.MatchDuration)
}

func TestEnvelopeWireFieldNames(t *testing.T) {
	env, err := NewEnvelope("ABC234", 1, OpponentReadyChanged{ParticipantID: "bob", Ready: true}, time.Now())
	require.NoError(t, err)

	var generic map[string]any
	raw, err := json.Marshal(env.To("alice"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &generic))

	assert.Equal(t, "opponent-ready-changed", generic["type"])
	assert.Equal(t, "alice", generic["target"])
	data := generic["data"].(map[string]any)
	assert.Equal(t, "bob", data["participantId"])
	assert.Equal(t, true, data["ready"])

	assert.Empty(t, env.Target, "To must not modify the original")
}

func TestSnapshotOf(t *testing.T) {
	snap := models.RoomSnapshot{Code: "ABC234", Status: models.RoomStatusStarting}

	got, ok := SnapshotOf(RoomJoined{Role: models.RoleHost, Snapshot: snap})
	require.True(t, ok)
	assert.Equal(t, snap.Code, got.Code)

	_, ok = SnapshotOf(MatchCountdown{Tick: 3})
	assert.False(t, ok)
}

func TestDecodeUnknownType(t *testing.T) {
	env := &Envelope{Type: "pick-made", Data: json.RawMessage(`{}`)}
	_, err := env.Decode()
	assert.Error(t, err)
}
