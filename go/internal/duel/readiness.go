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

// SetReady records a participant's readiness. Once both participants are
// ready a countdown starts; when it completes the match begins.
func (a *App) SetReady(ctx context.Context, code, participantID string, ready bool) (models.RoomSnapshot, error) {
	var (
		started   bool
		cancelled bool
		gen       uint64
	)
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		role := room.RoleOf(participantID)
		if !role.IsParticipant() {
			return newError(KindNotParticipant, "%s is not a participant of room %s", participantID, room.Code)
		}
		if room.Status != models.RoomStatusStarting {
			return newError(KindMatchNotActive, "room %s is %s", room.Code, room.Status)
		}
		if !room.SetReady(role, ready) {
			return registry.ErrNoChange
		}
		if !ready {
			cancelled = cancelCountdown(room)
			return nil
		}
		if room.BothReady() && room.Countdown == 0 {
			room.CountdownGen++
			room.Countdown = a.cfg.CountdownTicks
			started = true
			gen = room.CountdownGen
		}
		return nil
	})
	if err != nil {
		return models.RoomSnapshot{}, a.translate(code, err)
	}
	if !changed {
		return snap, nil
	}

	if cancelled {
		a.timers.Cancel(timers.Key(snap.Code, timerCountdown))
		a.armReady(snap.Code)
	}

	evs := []events.Event{
		events.OpponentReadyChanged{ParticipantID: participantID, Ready: ready},
		events.RoomUpdated{Snapshot: snap},
	}
	if started {
		a.timers.Cancel(timers.Key(snap.Code, timerReady))
		a.scheduleTick(snap.Code, gen)
		evs = append(evs, events.MatchCountdown{Tick: snap.Countdown})
		log.Info().
			Str("room_code", snap.Code).
			Int("ticks", snap.Countdown).
			Msg("countdown started")
	}
	a.publish(snap, evs...)

	return snap, nil
}

func (a *App) scheduleTick(code string, gen uint64) {
	a.timers.Schedule(timers.Key(code, timerCountdown), a.cfg.CountdownInterval, func() {
		a.countdownTick(code, gen)
	})
}

// countdownTick advances the countdown started at generation gen. Ticks from a
// cancelled or superseded countdown find a different generation and do nothing.
func (a *App) countdownTick(code string, gen uint64) {
	var started bool
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		if room.Status != models.RoomStatusStarting || room.CountdownGen != gen || room.Countdown == 0 {
			return registry.ErrNoChange
		}
		room.Countdown--
		if room.Countdown > 0 {
			return nil
		}

		now := a.clock.Now()
		deadline := now.Add(a.matchDuration(room.Problem.Difficulty))
		room.Status = models.RoomStatusInProgress
		room.MatchStartedAt = &now
		room.MatchDeadline = &deadline
		started = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, registry.ErrRoomNotFound) {
			log.Error().Err(err).Str("room_code", code).Msg("countdown tick failed")
		}
		return
	}
	if !changed {
		return
	}

	if !started {
		a.scheduleTick(snap.Code, gen)
		a.publish(snap,
			events.MatchCountdown{Tick: snap.Countdown},
			events.RoomUpdated{Snapshot: snap},
		)
		return
	}

	a.timers.Cancel(timers.Key(snap.Code, timerReady))
	duration := snap.MatchDeadline.Sub(*snap.MatchStartedAt)
	a.timers.Schedule(timers.Key(snap.Code, timerMatch), duration, func() { a.matchTimeout(code) })

	a.publish(snap,
		events.MatchStarted{
			StartedAt:   *snap.MatchStartedAt,
			Deadline:    *snap.MatchDeadline,
			DurationSec: int(duration.Seconds()),
		},
		events.RoomUpdated{Snapshot: snap},
	)

	log.Info().
		Str("room_code", snap.Code).
		Time("deadline", *snap.MatchDeadline).
		Msg("match started")
}

func (a *App) matchDuration(d models.Difficulty) time.Duration {
	if dur, ok := a.cfg.TierDurations[d]; ok && dur > 0 {
		return dur
	}
	return models.DefaultTierDurations[models.DifficultyMedium]
}

// cancelCountdown stops a running countdown and invalidates its pending tick.
// It reports whether a countdown was running.
func cancelCountdown(room *models.Room) bool {
	if room.Countdown == 0 {
		return false
	}
	room.Countdown = 0
	room.CountdownGen++
	return true
}
