package timers

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Engine runs keyed one-shot callbacks. Scheduling a key that is already armed
// replaces the previous timer, so each key has at most one pending callback.
type Engine struct {
	clock clockwork.Clock

	mu     sync.Mutex
	active map[string]*pending
	closed bool
}

type pending struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// NewEngine creates a timer engine driven by clock.
func NewEngine(clock clockwork.Clock) *Engine {
	return &Engine{
		clock:  clock,
		active: make(map[string]*pending),
	}
}

// Key joins a room code and a timer kind into an engine key.
func Key(roomCode, kind string) string {
	return roomCode + "/" + kind
}

// Schedule arms fn to run once after d. fn runs on its own goroutine and must
// tolerate the state it acts on having moved on.
func (e *Engine) Schedule(key string, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}

	p := &pending{
		timer: e.clock.NewTimer(d),
		stop:  make(chan struct{}),
	}

	if !e.replace(key, p) {
		stopAndDrainTimer(p.timer)
		return
	}

	go func() {
		select {
		case <-p.timer.Chan():
			if !e.remove(key, p) {
				// Replaced or cancelled between firing and removal.
				return
			}
			log.Debug().Str("timer_key", key).Msg("timer fired")
			fn()
		case <-p.stop:
			stopAndDrainTimer(p.timer)
		}
	}()

	log.Debug().
		Str("timer_key", key).
		Dur("duration", d).
		Msg("scheduled one-shot timer")
}

// Cancel disarms the timer for key and reports whether one was pending.
func (e *Engine) Cancel(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.active[key]
	if !ok {
		return false
	}
	delete(e.active, key)
	close(p.stop)
	log.Debug().Str("timer_key", key).Msg("cancelled timer")
	return true
}

// CancelPrefix disarms every timer whose key starts with prefix.
func (e *Engine) CancelPrefix(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for key, p := range e.active {
		if strings.HasPrefix(key, prefix) {
			delete(e.active, key)
			close(p.stop)
			n++
		}
	}
	return n
}

// Pending reports whether key is armed.
func (e *Engine) Pending(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[key]
	return ok
}

// Len returns the number of armed timers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Stop disarms all timers; later Schedule calls are ignored.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, p := range e.active {
		close(p.stop)
		delete(e.active, key)
	}
	e.closed = true
}

// replace atomically swaps in p for key, stopping whatever was there.
func (e *Engine) replace(key string, p *pending) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	if existing, ok := e.active[key]; ok {
		close(existing.stop)
		log.Debug().Str("timer_key", key).Msg("replaced existing timer")
	}
	e.active[key] = p
	return true
}

// remove deletes key only while it still maps to p.
func (e *Engine) remove(key string, p *pending) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if current, ok := e.active[key]; ok && current == p {
		delete(e.active, key)
		return true
	}
	return false
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
