package duel

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/registry"
	"github.com/mcdev12/codeduel/go/internal/duel/timers"
	"github.com/mcdev12/codeduel/go/internal/models"
)

const recordTimeout = 10 * time.Second

// expireLobby fires when nobody joined within the lobby TTL.
func (a *App) expireLobby(code string) {
	a.expireIf(code, models.ExpireReasonLobbyTimeout, func(room *models.Room) bool {
		return room.Status == models.RoomStatusWaiting
	})
}

// expireReady fires when the players never both became ready. A running
// countdown holds the room open.
func (a *App) expireReady(code string) {
	a.expireIf(code, models.ExpireReasonReadyTimeout, func(room *models.Room) bool {
		return room.Status == models.RoomStatusStarting && room.Countdown == 0
	})
}

// armReady starts, or restarts, the ready timeout of a STARTING room.
func (a *App) armReady(code string) {
	if a.cfg.ReadyTimeout <= 0 {
		return
	}
	a.timers.Schedule(timers.Key(code, timerReady), a.cfg.ReadyTimeout, func() { a.expireReady(code) })
}

func (a *App) expireIf(code string, reason models.ExpireReason, eligible func(room *models.Room) bool) {
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		if !eligible(room) {
			return registry.ErrNoChange
		}
		room.Status = models.RoomStatusExpired
		room.ExpireReason = reason
		cancelCountdown(room)
		return nil
	})
	if err != nil {
		a.logTimerError(code, err)
		return
	}
	if !changed {
		return
	}

	a.timers.CancelPrefix(code + "/")
	a.scheduleEviction(snap.Code)
	a.publish(snap,
		events.RoomExpired{Reason: reason},
		events.RoomUpdated{Snapshot: snap},
	)
	a.record(snap)

	log.Info().
		Str("room_code", snap.Code).
		Str("reason", string(reason)).
		Msg("room expired")
}

// matchTimeout fires at the match deadline and resolves the result from the
// submission log.
func (a *App) matchTimeout(code string) {
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		if room.Status != models.RoomStatusInProgress {
			return registry.ErrNoChange
		}
		now := a.clock.Now()
		room.Status = models.RoomStatusFinished
		room.Winner = ResolveTimeout(room.Host, room.Opponent, room.Submissions)
		room.FinishedAt = &now
		room.FinishReason = models.FinishReasonTimeout
		return nil
	})
	if err != nil {
		a.logTimerError(code, err)
		return
	}
	if !changed {
		return
	}
	a.finish(snap)
}

// finish runs the side effects of an IN_PROGRESS to FINISHED transition.
func (a *App) finish(snap models.RoomSnapshot) {
	a.timers.CancelPrefix(snap.Code + "/")
	a.scheduleEviction(snap.Code)

	duration := 0
	if snap.MatchDurationSec != nil {
		duration = *snap.MatchDurationSec
	}
	a.publish(snap,
		events.MatchFinished{Winner: snap.Winner, MatchDuration: duration, Reason: snap.FinishReason},
		events.RoomUpdated{Snapshot: snap},
	)
	a.record(snap)

	log.Info().
		Str("room_code", snap.Code).
		Str("winner", snap.Winner).
		Str("reason", string(snap.FinishReason)).
		Int("match_duration_sec", duration).
		Msg("match finished")
}

func (a *App) scheduleEviction(code string) {
	if a.cfg.Retention <= 0 {
		return
	}
	a.timers.Schedule(timers.Key(code, timerRetention), a.cfg.Retention, func() { a.evict(code) })
}

// evict removes a terminal room once the retention window passed.
func (a *App) evict(code string) {
	if !a.registry.Evict(a.ctx, code) {
		return
	}
	a.timers.CancelPrefix(code + "/")
	a.dropSequencer(code)
	log.Debug().Str("room_code", code).Msg("room evicted")
}

// record hands terminal rooms to the result recorder without blocking the caller.
func (a *App) record(snap models.RoomSnapshot) {
	if a.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, recordTimeout)
		defer cancel()
		if err := a.recorder.RecordResult(ctx, snap); err != nil {
			log.Error().Err(err).Str("room_code", snap.Code).Msg("failed to record duel result")
		}
	}()
}

func (a *App) logTimerError(code string, err error) {
	if errors.Is(err, registry.ErrRoomNotFound) {
		return
	}
	log.Error().Err(err).Str("room_code", code).Msg("timer transition failed")
}
