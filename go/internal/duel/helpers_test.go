package duel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/registry"
	"github.com/mcdev12/codeduel/go/internal/duel/timers"
	"github.com/mcdev12/codeduel/go/internal/models"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeCatalog map[string]models.ProblemRef

func (c fakeCatalog) Lookup(_ context.Context, id string) (*models.ProblemRef, error) {
	p, ok := c[id]
	if !ok {
		return nil, models.ErrProblemNotFound
	}
	return &p, nil
}

var testCatalog = fakeCatalog{
	"two-sum":     {ID: "two-sum", Title: "Two Sum", Difficulty: models.DifficultyEasy},
	"lru-cache":   {ID: "lru-cache", Title: "LRU Cache", Difficulty: models.DifficultyMedium},
	"regex-match": {ID: "regex-match", Title: "Regex Matching", Difficulty: models.DifficultyHard},
}

// scriptedVerdicts judges by source text: "pass:N/M" passes N of M tests and
// is accepted when N == M; "fail" makes the service error.
type scriptedVerdicts struct {
	gate  chan struct{}
	mu    sync.Mutex
	calls int
}

var errJudgeDown = errors.New("judge down")

func (s *scriptedVerdicts) Evaluate(ctx context.Context, _ models.ProblemRef, source, _ string) (*models.Verdict, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if source == "fail" {
		return nil, errJudgeDown
	}
	var passed, total int
	if _, err := fmt.Sscanf(strings.TrimSpace(source), "pass:%d/%d", &passed, &total); err != nil {
		return nil, fmt.Errorf("bad script %q: %w", source, err)
	}
	v := &models.Verdict{Status: models.VerdictRejected}
	for i := 0; i < total; i++ {
		v.Tests = append(v.Tests, models.TestResult{Index: i, Passed: i < passed, IsSample: i < 2})
	}
	if passed == total {
		v.Status = models.VerdictAccepted
	}
	return v, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	envs []*events.Envelope
}

func (n *recordingNotifier) Publish(_ context.Context, env *events.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envs = append(n.envs, env)
	return nil
}

func (n *recordingNotifier) ofType(typ events.Type) []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.Event
	for _, env := range n.envs {
		if env.Type != typ {
			continue
		}
		ev, err := env.Decode()
		if err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) versions() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []int64
	for _, env := range n.envs {
		if env.Type == events.TypeRoomUpdated {
			out = append(out, env.Version)
		}
	}
	return out
}

type memRecorder struct {
	mu    sync.Mutex
	snaps []models.RoomSnapshot
}

func (m *memRecorder) RecordResult(_ context.Context, snap models.RoomSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

type harness struct {
	t        *testing.T
	app      *App
	clock    *clockwork.FakeClock
	engine   *timers.Engine
	verdicts *scriptedVerdicts
	notifier *recordingNotifier
	recorder *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fc := clockwork.NewFakeClockAt(epoch)
	engine := timers.NewEngine(fc)
	gen, err := registry.NewCodeGenerator()
	require.NoError(t, err)

	h := &harness{
		t:        t,
		clock:    fc,
		engine:   engine,
		verdicts: &scriptedVerdicts{},
		notifier: &recordingNotifier{},
		recorder: &memRecorder{},
	}
	h.app = NewApp(DefaultConfig(), Deps{
		Registry: registry.New(gen, nil, time.Hour),
		Timers:   engine,
		Clock:    fc,
		Catalog:  testCatalog,
		Verdicts: h.verdicts,
		Notifier: h.notifier,
		Recorder: h.recorder,
	})
	t.Cleanup(h.app.Close)
	return h
}

// at moves the fake clock to epoch+offset.
func (h *harness) at(offset time.Duration) {
	h.t.Helper()
	target := epoch.Add(offset)
	now := h.clock.Now()
	require.False(h.t, target.Before(now), "clock cannot go back to %s", offset)
	h.clock.Advance(target.Sub(now))
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, time.Millisecond, msg)
}

func (h *harness) state(code string) models.RoomSnapshot {
	h.t.Helper()
	snap, err := h.app.GetRoomState(context.Background(), code)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) pending(code, kind string) bool {
	return h.engine.Pending(timers.Key(code, kind))
}

// waitCountdown waits until the room shows ticks left and the next tick is armed.
func (h *harness) waitCountdown(code string, ticks int) {
	h.t.Helper()
	h.eventually(func() bool {
		s, err := h.app.GetRoomState(context.Background(), code)
		return err == nil && s.Countdown == ticks && h.pending(code, timerCountdown)
	}, fmt.Sprintf("countdown %d", ticks))
}

func (h *harness) waitStatus(code string, status models.RoomStatus) {
	h.t.Helper()
	h.eventually(func() bool {
		s, err := h.app.GetRoomState(context.Background(), code)
		return err == nil && s.Status == status
	}, fmt.Sprintf("status %s", status))
}

// lobby creates a room for alice and lets bob join at the current time.
func (h *harness) lobby(problemID string) string {
	h.t.Helper()
	ctx := context.Background()
	snap, err := h.app.CreateRoom(ctx, "alice", problemID)
	require.NoError(h.t, err)
	_, err = h.app.JoinRoom(ctx, snap.Code, "bob")
	require.NoError(h.t, err)
	return snap.Code
}

// startMatch readies both players at offset and runs the countdown.
func (h *harness) startMatch(code string, offset time.Duration) {
	h.t.Helper()
	ctx := context.Background()
	_, err := h.app.SetReady(ctx, code, "alice", true)
	require.NoError(h.t, err)
	_, err = h.app.SetReady(ctx, code, "bob", true)
	require.NoError(h.t, err)
	h.waitCountdown(code, 3)
	h.at(offset + time.Second)
	h.waitCountdown(code, 2)
	h.at(offset + 2*time.Second)
	h.waitCountdown(code, 1)
	h.at(offset + 3*time.Second)
	h.waitStatus(code, models.RoomStatusInProgress)
	h.eventually(func() bool { return h.pending(code, timerMatch) }, "match timer armed")
}
