package duel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/registry"
	"github.com/mcdev12/codeduel/go/internal/duel/timers"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// Timer kinds armed per room.
const (
	timerLobby     = "lobby"
	timerReady     = "ready"
	timerCountdown = "countdown"
	timerMatch     = "match"
	timerRetention = "retention"
)

// ProblemCatalog resolves problem ids into references. Unknown ids return
// models.ErrProblemNotFound.
type ProblemCatalog interface {
	Lookup(ctx context.Context, problemID string) (*models.ProblemRef, error)
}

// VerdictService judges a submission against a problem's tests.
type VerdictService interface {
	Evaluate(ctx context.Context, problem models.ProblemRef, source, language string) (*models.Verdict, error)
}

// Notifier fans events out to subscribed clients.
type Notifier interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// ResultRecorder persists rooms that reached a terminal status.
type ResultRecorder interface {
	RecordResult(ctx context.Context, snap models.RoomSnapshot) error
}

// Config holds the room timing policy.
type Config struct {
	LobbyTTL          time.Duration
	ReadyTimeout      time.Duration // 0 disables
	CountdownTicks    int
	CountdownInterval time.Duration
	Retention         time.Duration
	VerdictTimeout    time.Duration
	TierDurations     map[models.Difficulty]time.Duration
}

// DefaultConfig returns the standard room timing policy.
func DefaultConfig() Config {
	tiers := make(map[models.Difficulty]time.Duration, len(models.DefaultTierDurations))
	for d, dur := range models.DefaultTierDurations {
		tiers[d] = dur
	}
	return Config{
		LobbyTTL:          5 * time.Minute,
		ReadyTimeout:      10 * time.Minute,
		CountdownTicks:    3,
		CountdownInterval: time.Second,
		Retention:         10 * time.Minute,
		VerdictTimeout:    30 * time.Second,
		TierDurations:     tiers,
	}
}

// Deps are the collaborators of App.
type Deps struct {
	Registry *registry.Registry
	Timers   *timers.Engine
	Clock    clockwork.Clock
	Catalog  ProblemCatalog
	Verdicts VerdictService
	Notifier Notifier
	Recorder ResultRecorder
}

// App coordinates duel rooms: lifecycle, readiness, arbitration and timers.
type App struct {
	cfg      Config
	registry *registry.Registry
	timers   *timers.Engine
	clock    clockwork.Clock
	catalog  ProblemCatalog
	verdicts VerdictService
	notifier Notifier
	recorder ResultRecorder

	ctx    context.Context
	cancel context.CancelFunc

	seqMu sync.Mutex
	seqs  map[string]*sequencer
}

// NewApp creates a new duel app.
func NewApp(cfg Config, deps Deps) *App {
	if cfg.CountdownTicks < 1 {
		cfg.CountdownTicks = 1
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Timers == nil {
		deps.Timers = timers.NewEngine(deps.Clock)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:      cfg,
		registry: deps.Registry,
		timers:   deps.Timers,
		clock:    deps.Clock,
		catalog:  deps.Catalog,
		verdicts: deps.Verdicts,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		ctx:      ctx,
		cancel:   cancel,
		seqs:     make(map[string]*sequencer),
	}
}

// Close disarms every timer. Rooms stay readable.
func (a *App) Close() {
	a.timers.Stop()
	a.cancel()
}

// JoinResult is returned by JoinRoom.
type JoinResult struct {
	RoomCode string              `json:"roomCode"`
	Role     models.Role         `json:"role"`
	Snapshot models.RoomSnapshot `json:"-"`
}

// CreateRoom opens a WAITING room for hostID bound to problemID and arms the
// lobby timer.
func (a *App) CreateRoom(ctx context.Context, hostID, problemID string) (models.RoomSnapshot, error) {
	if hostID == "" {
		return models.RoomSnapshot{}, newError(KindUnauthenticated, "caller identity required")
	}
	problemID = strings.TrimSpace(problemID)
	if problemID == "" {
		return models.RoomSnapshot{}, newError(KindInvalidArgument, "problemId is required")
	}

	problem, err := a.catalog.Lookup(ctx, problemID)
	if err != nil {
		if errors.Is(err, models.ErrProblemNotFound) {
			return models.RoomSnapshot{}, wrapError(KindInvalidArgument, err, "unknown problem %q", problemID)
		}
		return models.RoomSnapshot{}, wrapError(KindExternalServiceFailure, err, "problem catalog unavailable")
	}

	now := a.clock.Now()
	snap, err := a.registry.Create(ctx, func(code string) *models.Room {
		return &models.Room{
			Status:         models.RoomStatusWaiting,
			Problem:        *problem,
			Host:           hostID,
			CreatedAt:      now,
			LobbyExpiresAt: now.Add(a.cfg.LobbyTTL),
		}
	})
	if err != nil {
		if errors.Is(err, registry.ErrCodeSpaceExhausted) {
			return models.RoomSnapshot{}, wrapError(KindInternal, err, "could not allocate room")
		}
		return models.RoomSnapshot{}, wrapError(KindExternalServiceFailure, err, "room code reservation failed")
	}

	code := snap.Code
	a.timers.Schedule(timers.Key(code, timerLobby), a.cfg.LobbyTTL, func() { a.expireLobby(code) })
	a.publish(snap, events.RoomUpdated{Snapshot: snap})

	log.Info().
		Str("room_code", code).
		Str("participant_id", hostID).
		Str("problem_id", problem.ID).
		Time("lobby_expires_at", snap.LobbyExpiresAt).
		Msg("room created")
	return snap, nil
}

// JoinRoom claims the opponent slot, or returns the caller's existing role.
func (a *App) JoinRoom(ctx context.Context, code, participantID string) (*JoinResult, error) {
	if participantID == "" {
		return nil, newError(KindUnauthenticated, "caller identity required")
	}

	var role models.Role
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		if room.Status.IsTerminal() {
			return newError(KindMatchNotActive, "room %s is %s", room.Code, room.Status)
		}
		if r := room.RoleOf(participantID); r.IsParticipant() {
			role = r
			return registry.ErrNoChange
		}
		if room.Opponent != "" || room.Status != models.RoomStatusWaiting {
			return newError(KindRoomFull, "room %s already has an opponent", room.Code)
		}
		room.Opponent = participantID
		room.Status = models.RoomStatusStarting
		role = models.RoleOpponent
		return nil
	})
	if err != nil {
		return nil, a.translate(code, err)
	}

	if changed {
		a.timers.Cancel(timers.Key(snap.Code, timerLobby))
		a.armReady(snap.Code)
		a.publish(snap,
			events.OpponentJoined{ParticipantID: participantID, Status: snap.Status},
			events.RoomUpdated{Snapshot: snap},
		)
		log.Info().
			Str("room_code", snap.Code).
			Str("participant_id", participantID).
			Msg("opponent joined room")
	}

	return &JoinResult{RoomCode: snap.Code, Role: role, Snapshot: snap}, nil
}

// LeaveRoom handles a participant leaving or disconnecting. Before the match
// starts this clears both ready flags and cancels a running countdown; in any
// other status it has no effect.
func (a *App) LeaveRoom(ctx context.Context, code, participantID string) error {
	var (
		cleared   []string
		cancelled bool
	)
	snap, changed, err := a.registry.Update(code, func(room *models.Room) error {
		if !room.RoleOf(participantID).IsParticipant() {
			return newError(KindNotParticipant, "%s is not a participant of room %s", participantID, room.Code)
		}
		if room.Status != models.RoomStatusStarting {
			return registry.ErrNoChange
		}
		if room.HostReady {
			cleared = append(cleared, room.Host)
		}
		if room.OpponentReady {
			cleared = append(cleared, room.Opponent)
		}
		if len(cleared) == 0 && room.Countdown == 0 {
			return registry.ErrNoChange
		}
		room.HostReady = false
		room.OpponentReady = false
		cancelled = cancelCountdown(room)
		return nil
	})
	if err != nil {
		return a.translate(code, err)
	}

	if changed {
		if cancelled {
			a.timers.Cancel(timers.Key(snap.Code, timerCountdown))
			a.armReady(snap.Code)
		}
		evs := make([]events.Event, 0, len(cleared)+1)
		for _, id := range cleared {
			evs = append(evs, events.OpponentReadyChanged{ParticipantID: id, Ready: false})
		}
		evs = append(evs, events.RoomUpdated{Snapshot: snap})
		a.publish(snap, evs...)
		log.Info().
			Str("room_code", snap.Code).
			Str("participant_id", participantID).
			Msg("participant left, readiness reset")
	}
	return nil
}

// GetRoomState returns the current snapshot. Both transports read through here.
func (a *App) GetRoomState(ctx context.Context, code string) (models.RoomSnapshot, error) {
	snap, err := a.registry.Snapshot(code)
	if err != nil {
		return models.RoomSnapshot{}, a.translate(code, err)
	}
	return snap, nil
}

// ActiveRooms lists rooms that have not reached a terminal status.
func (a *App) ActiveRooms(ctx context.Context) []models.RoomSnapshot {
	return a.registry.Active()
}

// translate maps registry and transition errors to duel errors.
func (a *App) translate(code string, err error) error {
	var de *Error
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, registry.ErrRoomNotFound):
		return newError(KindRoomNotFound, "room %s not found", registry.NormalizeCode(code))
	}
	var te *registry.TransitionError
	if errors.As(err, &te) {
		return wrapError(KindMatchNotActive, err, "room %s is %s", registry.NormalizeCode(code), te.From)
	}
	return wrapError(KindInternal, err, "room %s", registry.NormalizeCode(code))
}

// publish sends evs for the transition that produced snap. Transitions of the
// same room are published in version order even though they run unlocked.
func (a *App) publish(snap models.RoomSnapshot, evs ...events.Event) {
	a.sequencerFor(snap.Code, snap.Version).do(snap.Version, func() {
		for _, ev := range evs {
			a.send(snap.Code, snap.Version, "", ev)
		}
	})
}

// send publishes one event immediately, outside the per-room ordering.
func (a *App) send(code string, version int64, target string, ev events.Event) {
	env, err := events.NewEnvelope(code, version, ev, a.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to build event envelope")
		return
	}
	if target != "" {
		env = env.To(target)
	}
	if err := a.notifier.Publish(a.ctx, env); err != nil {
		log.Warn().
			Err(err).
			Str("room_code", code).
			Str("event_type", string(env.Type)).
			Msg("failed to publish room event")
	}
}

func (a *App) sequencerFor(code string, version int64) *sequencer {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	s, ok := a.seqs[code]
	if !ok {
		s = newSequencer(version - 1)
		a.seqs[code] = s
	}
	return s
}

func (a *App) dropSequencer(code string) {
	a.seqMu.Lock()
	delete(a.seqs, code)
	a.seqMu.Unlock()
}

// sequencer releases per-room publishes in version order.
type sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	last int64
}

func newSequencer(last int64) *sequencer {
	s := &sequencer{last: last}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sequencer) do(version int64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.last < version-1 {
		s.cond.Wait()
	}
	fn()
	if version > s.last {
		s.last = version
	}
	s.cond.Broadcast()
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, *events.Envelope) error { return nil }
