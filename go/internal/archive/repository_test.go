package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/archive/db"
	"github.com/mcdev12/codeduel/go/internal/models"
)

var created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func finishedSnapshot() models.RoomSnapshot {
	started := created.Add(18 * time.Second)
	finished := created.Add(120 * time.Second)
	duration := 102
	return models.RoomSnapshot{
		Code:             "ABC234",
		Status:           models.RoomStatusFinished,
		Problem:          models.ProblemRef{ID: "two-sum", Title: "Two Sum", Difficulty: models.DifficultyEasy},
		Version:          9,
		Host:             "alice",
		Opponent:         "bob",
		CreatedAt:        created,
		MatchStartedAt:   &started,
		FinishedAt:       &finished,
		MatchDurationSec: &duration,
		Winner:           "alice",
		FinishReason:     models.FinishReasonAccepted,
		Submissions: []models.SubmissionSummary{
			{ID: "s1", ParticipantID: "bob", Verdict: models.VerdictRejected, Passed: 2, Total: 3},
			{ID: "s2", ParticipantID: "alice", Verdict: models.VerdictAccepted, Passed: 3, Total: 3, IsWinning: true},
			{ID: "s3", ParticipantID: "bob", Verdict: models.VerdictRejected, Passed: 1, Total: 3},
		},
	}
}

func TestResultRowsFinished(t *testing.T) {
	id := uuid.New()
	result, participants, err := resultRows(id, finishedSnapshot())
	require.NoError(t, err)

	assert.Equal(t, id, result.ID)
	assert.Equal(t, "ABC234", result.RoomCode)
	assert.Equal(t, "EASY", result.Difficulty)
	assert.Equal(t, "FINISHED", result.Status)
	assert.Equal(t, "alice", result.Winner.String)
	assert.Equal(t, "accepted", result.Reason.String)
	assert.Equal(t, int32(102), result.MatchDurationSec.Int32)
	assert.True(t, result.FinishedAt.Valid)

	require.True(t, result.Submissions.Valid)
	var subs []models.SubmissionSummary
	require.NoError(t, json.Unmarshal(result.Submissions.RawMessage, &subs))
	assert.Len(t, subs, 3)

	assert.Equal(t, []db.DuelParticipant{
		{ResultID: id, ParticipantID: "alice", Role: "host", Outcome: "won", Submissions: 1},
		{ResultID: id, ParticipantID: "bob", Role: "opponent", Outcome: "lost", Submissions: 2},
	}, participants)
}

func TestResultRowsExpiredWithoutOpponent(t *testing.T) {
	snap := models.RoomSnapshot{
		Code:         "XYZ789",
		Status:       models.RoomStatusExpired,
		Problem:      models.ProblemRef{ID: "lru-cache", Difficulty: models.DifficultyMedium},
		Host:         "alice",
		CreatedAt:    created,
		ExpireReason: models.ExpireReasonLobbyTimeout,
	}

	result, participants, err := resultRows(uuid.New(), snap)
	require.NoError(t, err)

	assert.False(t, result.Winner.Valid)
	assert.Equal(t, "lobby-timeout", result.Reason.String)
	assert.False(t, result.MatchDurationSec.Valid)
	assert.False(t, result.Submissions.Valid)
	require.Len(t, participants, 1)
	assert.Equal(t, "expired", participants[0].Outcome)
}

func TestResultRowsRejectsLiveRoom(t *testing.T) {
	snap := finishedSnapshot()
	snap.Status = models.RoomStatusInProgress

	_, _, err := resultRows(uuid.New(), snap)
	assert.Error(t, err)
}

func TestRowToModel(t *testing.T) {
	snap := finishedSnapshot()
	id := uuid.New()
	result, _, err := resultRows(id, snap)
	require.NoError(t, err)

	got := rowToModel(db.ListResultsByParticipantRow{
		ID:               result.ID,
		RoomCode:         result.RoomCode,
		ProblemID:        result.ProblemID,
		Difficulty:       result.Difficulty,
		Status:           result.Status,
		Winner:           result.Winner,
		Reason:           result.Reason,
		MatchDurationSec: result.MatchDurationSec,
		CreatedAt:        result.CreatedAt,
		FinishedAt:       result.FinishedAt,
		Role:             "opponent",
		Outcome:          "lost",
		Submissions:      2,
		OpponentID:       result.Winner,
	})

	assert.Equal(t, models.DuelResult{
		ID:               id,
		RoomCode:         "ABC234",
		ProblemID:        "two-sum",
		Difficulty:       models.DifficultyEasy,
		Status:           models.RoomStatusFinished,
		Role:             models.RoleOpponent,
		Outcome:          models.OutcomeLost,
		OpponentID:       "alice",
		Winner:           "alice",
		Reason:           "accepted",
		MatchDurationSec: snap.MatchDurationSec,
		Submissions:      2,
		CreatedAt:        created,
		FinishedAt:       snap.FinishedAt,
	}, got)
}
