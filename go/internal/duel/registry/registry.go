package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/models"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrNoChange           = errors.New("no change")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)

const defaultCreateAttempts = 16

// Registry holds every live room. The map lock only guards membership; each
// room carries its own mutex so operations on different rooms never contend.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	codes      *CodeGenerator
	reserver   Reserver
	reserveTTL time.Duration
}

type entry struct {
	mu      sync.Mutex
	room    *models.Room
	evicted bool
}

// New creates a registry. A nil reserver means codes are only unique locally.
func New(codes *CodeGenerator, reserver Reserver, reserveTTL time.Duration) *Registry {
	if reserver == nil {
		reserver = LocalReserver{}
	}
	return &Registry{
		rooms:      make(map[string]*entry),
		codes:      codes,
		reserver:   reserver,
		reserveTTL: reserveTTL,
	}
}

// Create allocates a unique code and stores the room returned by build.
func (r *Registry) Create(ctx context.Context, build func(code string) *models.Room) (models.RoomSnapshot, error) {
	for attempt := 0; attempt < defaultCreateAttempts; attempt++ {
		code := r.codes.Next()
		if r.exists(code) {
			continue
		}

		ok, err := r.reserver.Reserve(ctx, code, r.reserveTTL)
		if err != nil {
			return models.RoomSnapshot{}, err
		}
		if !ok {
			log.Debug().Str("room_code", code).Msg("room code taken by another instance")
			continue
		}

		room := build(code)
		room.Code = code
		room.Version = 1

		r.mu.Lock()
		if _, taken := r.rooms[code]; taken {
			r.mu.Unlock()
			_ = r.reserver.Release(ctx, code)
			continue
		}
		r.rooms[code] = &entry{room: room}
		r.mu.Unlock()

		return room.Snapshot(), nil
	}
	return models.RoomSnapshot{}, ErrCodeSpaceExhausted
}

// Update applies fn to a copy of the room under the room lock and commits the
// copy only if fn succeeds. Returning ErrNoChange from fn leaves the room as is
// and reports changed=false with a nil error.
func (r *Registry) Update(code string, fn func(room *models.Room) error) (models.RoomSnapshot, bool, error) {
	e, err := r.lookup(code)
	if err != nil {
		return models.RoomSnapshot{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return models.RoomSnapshot{}, false, ErrRoomNotFound
	}

	next := e.room.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return e.room.Snapshot(), false, nil
		}
		return e.room.Snapshot(), false, err
	}
	if err := validateTransition(e.room.Status, next.Status); err != nil {
		return e.room.Snapshot(), false, err
	}

	next.Version = e.room.Version + 1
	e.room = next
	return next.Snapshot(), true, nil
}

// Snapshot returns a consistent copy of the room.
func (r *Registry) Snapshot(code string) (models.RoomSnapshot, error) {
	e, err := r.lookup(code)
	if err != nil {
		return models.RoomSnapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	return e.room.Snapshot(), nil
}

// Evict drops the room and releases its code reservation.
func (r *Registry) Evict(ctx context.Context, code string) bool {
	code = NormalizeCode(code)

	r.mu.Lock()
	e, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()

	if err := r.reserver.Release(ctx, code); err != nil {
		log.Warn().Err(err).Str("room_code", code).Msg("failed to release room code")
	}
	return true
}

// Active lists non-terminal rooms, oldest first.
func (r *Registry) Active() []models.RoomSnapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []models.RoomSnapshot
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && !e.room.Status.IsTerminal() {
			out = append(out, e.room.Snapshot())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of rooms held, terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[code]
	return ok
}

func (r *Registry) lookup(code string) (*entry, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrRoomNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return e, nil
}

// TransitionError is returned when an update would move a room backwards.
type TransitionError struct {
	From, To models.RoomStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

var allowedTransitions = map[models.RoomStatus][]models.RoomStatus{
	models.RoomStatusWaiting:    {models.RoomStatusStarting, models.RoomStatusExpired},
	models.RoomStatusStarting:   {models.RoomStatusInProgress, models.RoomStatusExpired},
	models.RoomStatusInProgress: {models.RoomStatusFinished},
	models.RoomStatusFinished:   {},
	models.RoomStatusExpired:    {},
}

// validateTransition enforces that room status only moves forward.
func validateTransition(from, to models.RoomStatus) error {
	if from == to {
		return nil
	}
	for _, allowed := range allowedTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
