package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a duel room.
type RoomStatus string

const (
	RoomStatusWaiting    RoomStatus = "WAITING"
	RoomStatusStarting   RoomStatus = "STARTING"
	RoomStatusInProgress RoomStatus = "IN_PROGRESS"
	RoomStatusFinished   RoomStatus = "FINISHED"
	RoomStatusExpired    RoomStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s RoomStatus) IsTerminal() bool {
	return s == RoomStatusFinished || s == RoomStatusExpired
}

// Role is the relation of an identity to a room.
type Role string

const (
	RoleHost      Role = "host"
	RoleOpponent  Role = "opponent"
	RoleSpectator Role = "spectator"
)

// IsParticipant is true for host and opponent.
func (r Role) IsParticipant() bool {
	return r == RoleHost || r == RoleOpponent
}

// WinnerTie is stored in Room.Winner when a timed out match has no better side.
const WinnerTie = "tie"

// FinishReason records why a match ended.
type FinishReason string

const (
	FinishReasonAccepted FinishReason = "accepted"
	FinishReasonTimeout  FinishReason = "timeout"
)

// ExpireReason records why a room expired.
type ExpireReason string

const (
	ExpireReasonLobbyTimeout ExpireReason = "lobby-timeout"
	ExpireReasonReadyTimeout ExpireReason = "ready-timeout"
)

// Room is the authoritative state of a duel. It is only mutated by the registry
// under the room lock; everything else reads RoomSnapshot values.
type Room struct {
	Code    string
	Status  RoomStatus
	Problem ProblemRef
	Version int64

	Host          string
	Opponent      string
	HostReady     bool
	OpponentReady bool

	// Countdown is the number of ticks left while a countdown runs, 0 otherwise.
	// CountdownGen increments whenever a countdown starts or is cancelled so that
	// stale ticks can be told apart.
	Countdown    int
	CountdownGen uint64

	CreatedAt      time.Time
	LobbyExpiresAt time.Time
	MatchStartedAt *time.Time
	MatchDeadline  *time.Time
	FinishedAt     *time.Time

	Winner       string
	FinishReason FinishReason
	ExpireReason ExpireReason

	Submissions []Submission
}

// RoleOf resolves the role an identity holds in the room.
func (r *Room) RoleOf(participantID string) Role {
	switch {
	case participantID == "":
		return RoleSpectator
	case participantID == r.Host:
		return RoleHost
	case participantID == r.Opponent:
		return RoleOpponent
	default:
		return RoleSpectator
	}
}

// SetReady updates the ready flag for a participant and reports whether it changed.
func (r *Room) SetReady(role Role, ready bool) bool {
	switch role {
	case RoleHost:
		if r.HostReady == ready {
			return false
		}
		r.HostReady = ready
	case RoleOpponent:
		if r.OpponentReady == ready {
			return false
		}
		r.OpponentReady = ready
	default:
		return false
	}
	return true
}

// BothReady is true once host and opponent have both confirmed.
func (r *Room) BothReady() bool {
	return r.Opponent != "" && r.HostReady && r.OpponentReady
}

// MatchDurationSec is the elapsed match time in whole seconds once finished.
func (r *Room) MatchDurationSec() *int {
	if r.MatchStartedAt == nil || r.FinishedAt == nil {
		return nil
	}
	sec := int(r.FinishedAt.Sub(*r.MatchStartedAt) / time.Second)
	return &sec
}

// Clone returns a deep copy safe to mutate independently.
func (r *Room) Clone() *Room {
	c := *r
	c.MatchStartedAt = cloneTime(r.MatchStartedAt)
	c.MatchDeadline = cloneTime(r.MatchDeadline)
	c.FinishedAt = cloneTime(r.FinishedAt)
	if r.Submissions != nil {
		c.Submissions = make([]Submission, len(r.Submissions))
		for i, s := range r.Submissions {
			c.Submissions[i] = s.clone()
		}
	}
	return &c
}

// Snapshot produces the read model shared by push and pull transports.
func (r *Room) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		Code:             r.Code,
		Status:           r.Status,
		Problem:          r.Problem,
		Version:          r.Version,
		Host:             r.Host,
		Opponent:         r.Opponent,
		HostReady:        r.HostReady,
		OpponentReady:    r.OpponentReady,
		Countdown:        r.Countdown,
		CreatedAt:        r.CreatedAt,
		LobbyExpiresAt:   r.LobbyExpiresAt,
		MatchStartedAt:   cloneTime(r.MatchStartedAt),
		MatchDeadline:    cloneTime(r.MatchDeadline),
		FinishedAt:       cloneTime(r.FinishedAt),
		MatchDurationSec: r.MatchDurationSec(),
		Winner:           r.Winner,
		FinishReason:     r.FinishReason,
		ExpireReason:     r.ExpireReason,
		Submissions:      make([]SubmissionSummary, 0, len(r.Submissions)),
	}
	for _, s := range r.Submissions {
		snap.Submissions = append(snap.Submissions, s.Summary())
	}
	return snap
}

// RoomSnapshot is an immutable copy of a room as served to clients.
type RoomSnapshot struct {
	Code             string              `json:"roomCode"`
	Status           RoomStatus          `json:"status"`
	Problem          ProblemRef          `json:"problem"`
	Version          int64               `json:"version"`
	Host             string              `json:"host"`
	Opponent         string              `json:"opponent,omitempty"`
	HostReady        bool                `json:"hostReady"`
	OpponentReady    bool                `json:"opponentReady"`
	Countdown        int                 `json:"countdown,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	LobbyExpiresAt   time.Time           `json:"lobbyExpiresAt"`
	MatchStartedAt   *time.Time          `json:"matchStartedAt,omitempty"`
	MatchDeadline    *time.Time          `json:"matchDeadline,omitempty"`
	FinishedAt       *time.Time          `json:"finishedAt,omitempty"`
	MatchDurationSec *int                `json:"matchDuration,omitempty"`
	Winner           string              `json:"winner,omitempty"`
	FinishReason     FinishReason        `json:"finishReason,omitempty"`
	ExpireReason     ExpireReason        `json:"expireReason,omitempty"`
	Submissions      []SubmissionSummary `json:"submissions"`
}

// RoleOf mirrors Room.RoleOf for read models.
func (s RoomSnapshot) RoleOf(participantID string) Role {
	switch {
	case participantID == "":
		return RoleSpectator
	case participantID == s.Host:
		return RoleHost
	case participantID == s.Opponent:
		return RoleOpponent
	default:
		return RoleSpectator
	}
}

// Submission is one entry of the append-only submission log.
type Submission struct {
	ID            uuid.UUID
	ParticipantID string
	Language      string
	Code          string
	SubmittedAt   time.Time
	Verdict       Verdict
	IsWinning     bool
}

// Summary drops the source and the per-test breakdown.
func (s Submission) Summary() SubmissionSummary {
	return SubmissionSummary{
		ID:            s.ID.String(),
		ParticipantID: s.ParticipantID,
		Language:      s.Language,
		SubmittedAt:   s.SubmittedAt,
		Verdict:       s.Verdict.Status,
		Passed:        s.Verdict.Passed(),
		Total:         s.Verdict.Total(),
		IsWinning:     s.IsWinning,
	}
}

func (s Submission) clone() Submission {
	c := s
	if s.Verdict.Tests != nil {
		c.Verdict.Tests = append([]TestResult(nil), s.Verdict.Tests...)
	}
	return c
}

// SubmissionSummary is the snapshot form of a submission.
type SubmissionSummary struct {
	ID            string        `json:"id"`
	ParticipantID string        `json:"participantId"`
	Language      string        `json:"language"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	Verdict       VerdictStatus `json:"verdict"`
	Passed        int           `json:"passed"`
	Total         int           `json:"total"`
	IsWinning     bool          `json:"isWinning"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
