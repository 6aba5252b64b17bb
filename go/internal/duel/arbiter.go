package duel

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// SubmitResult is returned to the submitting participant.
type SubmitResult struct {
	Verdict       models.VerdictStatus `json:"verdict"`
	IsWinner      bool                 `json:"isWinner"`
	TestResults   []models.TestResult  `json:"testResults"`
	Passed        int                  `json:"passed"`
	Total         int                  `json:"total"`
	MatchFinished bool                 `json:"matchFinished"`
}

// Submit judges source for participantID and, if accepted, tries to claim the
// win. The verdict service is called without holding the room lock; the win is
// decided afterwards by a single compare-and-transition, so of two concurrent
// accepted submissions exactly one wins and the other gets AlreadyDecided.
func (a *App) Submit(ctx context.Context, code, participantID, source, language string) (*SubmitResult, error) {
	if strings.TrimSpace(source) == "" {
		return nil, newError(KindInvalidArgument, "code is required")
	}

	snap, err := a.registry.Snapshot(code)
	if err != nil {
		return nil, a.translate(code, err)
	}
	if !snap.RoleOf(participantID).IsParticipant() {
		return nil, newError(KindNotParticipant, "%s is not a participant of room %s", participantID, snap.Code)
	}
	if err := checkAcceptingSubmissions(snap.Code, snap.Status); err != nil {
		return nil, err
	}

	submittedAt := a.clock.Now()
	a.send(snap.Code, snap.Version, "", events.OpponentSubmitted{ParticipantID: participantID, SubmittedAt: submittedAt})

	vctx, cancel := context.WithTimeout(ctx, a.cfg.VerdictTimeout)
	verdict, err := a.verdicts.Evaluate(vctx, snap.Problem, source, language)
	cancel()
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_code", snap.Code).
			Str("participant_id", participantID).
			Msg("verdict service failed")
		return nil, wrapError(KindExternalServiceFailure, err, "verdict service unavailable")
	}

	sub := models.Submission{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Language:      language,
		Code:          source,
		SubmittedAt:   submittedAt,
		Verdict:       *verdict,
	}

	var won bool
	snap, _, err = a.registry.Update(code, func(room *models.Room) error {
		if err := checkAcceptingSubmissions(room.Code, room.Status); err != nil {
			return err
		}
		if verdict.Accepted() {
			now := a.clock.Now()
			sub.IsWinning = true
			room.Status = models.RoomStatusFinished
			room.Winner = participantID
			room.FinishedAt = &now
			room.FinishReason = models.FinishReasonAccepted
			won = true
		}
		room.Submissions = append(room.Submissions, sub)
		return nil
	})
	if err != nil {
		return nil, a.translate(code, err)
	}

	log.Info().
		Str("room_code", snap.Code).
		Str("participant_id", participantID).
		Str("verdict", string(verdict.Status)).
		Int("passed", verdict.Passed()).
		Int("total", verdict.Total()).
		Bool("winner", won).
		Msg("submission judged")

	if won {
		a.finish(snap)
	} else {
		a.publish(snap, events.RoomUpdated{Snapshot: snap})
	}

	return &SubmitResult{
		Verdict:       verdict.Status,
		IsWinner:      won,
		TestResults:   verdict.Tests,
		Passed:        verdict.Passed(),
		Total:         verdict.Total(),
		MatchFinished: won,
	}, nil
}

func checkAcceptingSubmissions(code string, status models.RoomStatus) error {
	switch status {
	case models.RoomStatusInProgress:
		return nil
	case models.RoomStatusFinished:
		return newError(KindAlreadyDecided, "match in room %s is already decided", code)
	default:
		return newError(KindMatchNotActive, "room %s is %s", code, status)
	}
}

// ResolveTimeout picks the winner of a match that hit its deadline: the better
// best passed count, then the better best pass percentage, otherwise a tie.
// A participant without submissions scores zero on both.
func ResolveTimeout(host, opponent string, submissions []models.Submission) string {
	h := bestScore(host, submissions)
	o := bestScore(opponent, submissions)

	switch {
	case h.passed > o.passed:
		return host
	case o.passed > h.passed:
		return opponent
	case h.percentage > o.percentage:
		return host
	case o.percentage > h.percentage:
		return opponent
	default:
		return models.WinnerTie
	}
}

type score struct {
	passed     int
	percentage float64
}

func bestScore(participantID string, submissions []models.Submission) score {
	var best score
	if participantID == "" {
		return best
	}
	for _, s := range submissions {
		if s.ParticipantID != participantID {
			continue
		}
		if p := s.Verdict.Passed(); p > best.passed {
			best.passed = p
		}
		if pct := s.Verdict.Percentage(); pct > best.percentage {
			best.percentage = pct
		}
	}
	return best
}
