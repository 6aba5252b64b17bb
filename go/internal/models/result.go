package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is a participant's result in an archived duel.
type Outcome string

const (
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeTie     Outcome = "tie"
	OutcomeExpired Outcome = "expired"
)

// DuelResult is an archived terminal room as seen by one participant.
type DuelResult struct {
	ID               uuid.UUID  `json:"id"`
	RoomCode         string     `json:"roomCode"`
	ProblemID        string     `json:"problemId"`
	Difficulty       Difficulty `json:"difficulty"`
	Status           RoomStatus `json:"status"`
	Role             Role       `json:"role"`
	Outcome          Outcome    `json:"outcome"`
	OpponentID       string     `json:"opponentId,omitempty"`
	Winner           string     `json:"winner,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	MatchDurationSec *int       `json:"matchDuration,omitempty"`
	Submissions      int        `json:"submissions"`
	CreatedAt        time.Time  `json:"createdAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// OutcomeFor derives a participant's outcome from a terminal snapshot.
func OutcomeFor(snap RoomSnapshot, participantID string) Outcome {
	switch {
	case snap.Status == RoomStatusExpired:
		return OutcomeExpired
	case snap.Winner == WinnerTie:
		return OutcomeTie
	case snap.Winner == participantID:
		return OutcomeWon
	default:
		return OutcomeLost
	}
}
