// Package db holds the typed queries of the duel result archive.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type DuelResult struct {
	ID               uuid.UUID
	RoomCode         string
	ProblemID        string
	Difficulty       string
	Status           string
	Winner           sql.NullString
	Reason           sql.NullString
	MatchDurationSec sql.NullInt32
	Submissions      pqtype.NullRawMessage
	CreatedAt        time.Time
	FinishedAt       sql.NullTime
}

type DuelParticipant struct {
	ResultID      uuid.UUID
	ParticipantID string
	Role          string
	Outcome       string
	Submissions   int32
}

const insertDuelResult = `-- name: InsertDuelResult :execrows
INSERT INTO duel_results (
    id, room_code, problem_id, difficulty, status, winner, reason,
    match_duration_sec, submissions, created_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (room_code, created_at) DO NOTHING
`

// InsertDuelResult returns 0 when the room was already archived.
func (q *Queries) InsertDuelResult(ctx context.Context, arg DuelResult) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertDuelResult,
		arg.ID,
		arg.RoomCode,
		arg.ProblemID,
		arg.Difficulty,
		arg.Status,
		arg.Winner,
		arg.Reason,
		arg.MatchDurationSec,
		arg.Submissions,
		arg.CreatedAt,
		arg.FinishedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertDuelParticipant = `-- name: InsertDuelParticipant :exec
INSERT INTO duel_participants (result_id, participant_id, role, outcome, submissions)
VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) InsertDuelParticipant(ctx context.Context, arg DuelParticipant) error {
	_, err := q.db.ExecContext(ctx, insertDuelParticipant,
		arg.ResultID,
		arg.ParticipantID,
		arg.Role,
		arg.Outcome,
		arg.Submissions,
	)
	return err
}

const listResultsByParticipant = `-- name: ListResultsByParticipant :many
SELECT r.id, r.room_code, r.problem_id, r.difficulty, r.status, r.winner, r.reason,
       r.match_duration_sec, r.created_at, r.finished_at,
       p.role, p.outcome, p.submissions, opp.participant_id AS opponent_id
FROM duel_participants p
JOIN duel_results r ON r.id = p.result_id
LEFT JOIN duel_participants opp
       ON opp.result_id = p.result_id AND opp.participant_id <> p.participant_id
WHERE p.participant_id = $1
ORDER BY r.created_at DESC
LIMIT $2
`

type ListResultsByParticipantParams struct {
	ParticipantID string
	Limit         int32
}

type ListResultsByParticipantRow struct {
	ID               uuid.UUID
	RoomCode         string
	ProblemID        string
	Difficulty       string
	Status           string
	Winner           sql.NullString
	Reason           sql.NullString
	MatchDurationSec sql.NullInt32
	CreatedAt        time.Time
	FinishedAt       sql.NullTime
	Role             string
	Outcome          string
	Submissions      int32
	OpponentID       sql.NullString
}

func (q *Queries) ListResultsByParticipant(ctx context.Context, arg ListResultsByParticipantParams) ([]ListResultsByParticipantRow, error) {
	rows, err := q.db.QueryContext(ctx, listResultsByParticipant, arg.ParticipantID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListResultsByParticipantRow
	for rows.Next() {
		var i ListResultsByParticipantRow
		if err := rows.Scan(
			&i.ID,
			&i.RoomCode,
			&i.ProblemID,
			&i.Difficulty,
			&i.Status,
			&i.Winner,
			&i.Reason,
			&i.MatchDurationSec,
			&i.CreatedAt,
			&i.FinishedAt,
			&i.Role,
			&i.Outcome,
			&i.Submissions,
			&i.OpponentID,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
