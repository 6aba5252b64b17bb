// Package archive stores terminal duel rooms in Postgres for history lookups.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/codeduel/go/internal/archive/db"
	"github.com/mcdev12/codeduel/go/internal/dbconfig"
	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/mcdev12/codeduel/go/internal/sqlutil"
)

const uniqueViolation = pq.ErrorCode("23505")

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to archive database")
	return database, nil
}

type Repository struct {
	db      *sql.DB
	queries *db.Queries
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		db:      database,
		queries: db.New(database),
	}
}

// EnsureSchema creates the archive tables if they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to apply archive schema: %w", err)
	}
	return nil
}

// RecordResult archives a terminal room. Recording the same room twice is a
// no-op.
func (r *Repository) RecordResult(ctx context.Context, snap models.RoomSnapshot) error {
	result, participants, err := resultRows(uuid.New(), snap)
	if err != nil {
		return err
	}

	err = sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		inserted, err := q.InsertDuelResult(ctx, result)
		if err != nil {
			return fmt.Errorf("failed to insert duel result: %w", err)
		}
		if inserted == 0 {
			return nil
		}
		for _, p := range participants {
			if err := q.InsertDuelParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to insert participant %s: %w", p.ParticipantID, err)
			}
		}
		return nil
	})

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil
	}
	return err
}

// ListByParticipant returns the participant's archived duels, newest first.
func (r *Repository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.DuelResult, error) {
	rows, err := r.queries.ListResultsByParticipant(ctx, db.ListResultsByParticipantParams{
		ParticipantID: participantID,
		Limit:         int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	results := make([]models.DuelResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, rowToModel(row))
	}
	return results, nil
}

// resultRows maps a terminal snapshot onto archive rows.
func resultRows(id uuid.UUID, snap models.RoomSnapshot) (db.DuelResult, []db.DuelParticipant, error) {
	if !snap.Status.IsTerminal() {
		return db.DuelResult{}, nil, fmt.Errorf("room %s is %s, not terminal", snap.Code, snap.Status)
	}

	var submissions pqtype.NullRawMessage
	if len(snap.Submissions) > 0 {
		raw, err := json.Marshal(snap.Submissions)
		if err != nil {
			return db.DuelResult{}, nil, fmt.Errorf("failed to marshal submissions: %w", err)
		}
		submissions = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	reason := string(snap.FinishReason)
	if snap.Status == models.RoomStatusExpired {
		reason = string(snap.ExpireReason)
	}

	result := db.DuelResult{
		ID:               id,
		RoomCode:         snap.Code,
		ProblemID:        snap.Problem.ID,
		Difficulty:       string(snap.Problem.Difficulty),
		Status:           string(snap.Status),
		Winner:           sqlutil.ToSqlString(nonEmpty(snap.Winner)),
		Reason:           sqlutil.ToSqlString(nonEmpty(reason)),
		MatchDurationSec: sqlutil.ToSqlInt32(snap.MatchDurationSec),
		Submissions:      submissions,
		CreatedAt:        snap.CreatedAt,
		FinishedAt:       sqlutil.ToSqlTime(snap.FinishedAt),
	}

	counts := make(map[string]int32, 2)
	for _, s := range snap.Submissions {
		counts[s.ParticipantID]++
	}

	participants := []db.DuelParticipant{{
		ResultID:      id,
		ParticipantID: snap.Host,
		Role:          string(models.RoleHost),
		Outcome:       string(models.OutcomeFor(snap, snap.Host)),
		Submissions:   counts[snap.Host],
	}}
	if snap.Opponent != "" {
		participants = append(participants, db.DuelParticipant{
			ResultID:      id,
			ParticipantID: snap.Opponent,
			Role:          string(models.RoleOpponent),
			Outcome:       string(models.OutcomeFor(snap, snap.Opponent)),
			Submissions:   counts[snap.Opponent],
		})
	}
	return result, participants, nil
}

func rowToModel(row db.ListResultsByParticipantRow) models.DuelResult {
	return models.DuelResult{
		ID:               row.ID,
		RoomCode:         row.RoomCode,
		ProblemID:        row.ProblemID,
		Difficulty:       models.Difficulty(row.Difficulty),
		Status:           models.RoomStatus(row.Status),
		Role:             models.Role(row.Role),
		Outcome:          models.Outcome(row.Outcome),
		OpponentID:       sqlutil.FromSqlString(row.OpponentID, ""),
		Winner:           sqlutil.FromSqlString(row.Winner, ""),
		Reason:           sqlutil.FromSqlString(row.Reason, ""),
		MatchDurationSec: sqlutil.FromSqlInt32(row.MatchDurationSec),
		Submissions:      int(row.Submissions),
		CreatedAt:        row.CreatedAt,
		FinishedAt:       sqlutil.FromSqlTime(row.FinishedAt),
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
