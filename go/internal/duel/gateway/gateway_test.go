package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/registry"
	"github.com/mcdev12/codeduel/go/internal/duel/timers"
	"github.com/mcdev12/codeduel/go/internal/identity"
	"github.com/mcdev12/codeduel/go/internal/models"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type staticCatalog struct{}

func (staticCatalog) Lookup(_ context.Context, id string) (*models.ProblemRef, error) {
	if id != "two-sum" {
		return nil, models.ErrProblemNotFound
	}
	return &models.ProblemRef{ID: "two-sum", Title: "Two Sum", Difficulty: models.DifficultyEasy}, nil
}

// acceptAll accepts any source except "wrong", which fails one of three tests.
type acceptAll struct{}

func (acceptAll) Evaluate(_ context.Context, _ models.ProblemRef, source, _ string) (*models.Verdict, error) {
	v := &models.Verdict{Status: models.VerdictAccepted}
	for i := 0; i < 3; i++ {
		v.Tests = append(v.Tests, models.TestResult{Index: i, Passed: true, IsSample: i == 0})
	}
	if source == "wrong" {
		v.Status = models.VerdictRejected
		v.Tests[2].Passed = false
	}
	return v, nil
}

type fakeHistory struct {
	results []models.DuelResult
	err     error
}

func (f *fakeHistory) ListByParticipant(_ context.Context, participantID string, limit int) ([]models.DuelResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.DuelResult
	for _, r := range f.results {
		if len(out) == limit {
			break
		}
		if r.Winner == participantID || r.OpponentID == participantID {
			out = append(out, r)
		}
	}
	return out, nil
}

type testGateway struct {
	t       *testing.T
	app     *duel.App
	server  *httptest.Server
	clock   *clockwork.FakeClock
	engine  *timers.Engine
	history *fakeHistory
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	fc := clockwork.NewFakeClockAt(epoch)
	gen, err := registry.NewCodeGenerator()
	require.NoError(t, err)

	engine := timers.NewEngine(fc)
	cm := NewConnectionManager(DefaultConnectionConfig())
	app := duel.NewApp(duel.DefaultConfig(), duel.Deps{
		Registry: registry.New(gen, nil, time.Hour),
		Timers:   engine,
		Clock:    fc,
		Catalog:  staticCatalog{},
		Verdicts: acceptAll{},
		Notifier: cm,
	})
	t.Cleanup(app.Close)

	history := &fakeHistory{}
	svc := NewService(DefaultConfig(), Deps{
		Connections: cm,
		Rooms:       app,
		Identity:    identity.NewProvider(identity.Config{Secret: "test-secret", DevMode: true}, fc),
		History:     history,
		Clock:       fc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})

	return &testGateway{t: t, app: app, server: server, clock: fc, engine: engine, history: history}
}

func (g *testGateway) do(method, path, user string, body any) (*http.Response, []byte) {
	g.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(g.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, g.server.URL+path, reader)
	require.NoError(g.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := g.server.Client().Do(req)
	require.NoError(g.t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(g.t, err)
	return resp, buf.Bytes()
}

func (g *testGateway) createRoom(host string) string {
	g.t.Helper()
	resp, body := g.do(http.MethodPost, "/api/duels", host, CreateRoomRequest{ProblemID: "two-sum"})
	require.Equal(g.t, http.StatusCreated, resp.StatusCode, string(body))

	var created CreateRoomResponse
	require.NoError(g.t, json.Unmarshal(body, &created))
	return created.RoomCode
}

func (g *testGateway) state(code, user string) StateResponse {
	g.t.Helper()
	resp, body := g.do(http.MethodGet, "/api/duels/"+code+"/state", user, nil)
	require.Equal(g.t, http.StatusOK, resp.StatusCode, string(body))

	var st StateResponse
	require.NoError(g.t, json.Unmarshal(body, &st))
	return st
}

func (g *testGateway) dial(code, user string) *websocket.Conn {
	g.t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/duel?room=" + code
	header := http.Header{}
	if user != "" {
		header.Set("X-User-ID", user)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ events.Type) *events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env events.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == typ {
			return &env
		}
	}
}

func errorKind(t *testing.T, body []byte) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error
}

func TestCommandFlowOverHTTP(t *testing.T) {
	g := newTestGateway(t)

	code := g.createRoom("alice")
	assert.True(t, registry.ValidCode(code))

	resp, body := g.do(http.MethodPost, "/api/duels/"+code+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var joined duel.JoinResult
	require.NoError(t, json.Unmarshal(body, &joined))
	assert.Equal(t, models.RoleOpponent, joined.Role)

	st := g.state(code, "alice")
	assert.Equal(t, models.RoomStatusStarting, st.Status)
	assert.Equal(t, models.RoleHost, st.Role)
	assert.Equal(t, "bob", st.Opponent)
	assert.Equal(t, int64(2000), st.PollIntervalMs)
	assert.Equal(t, int64(5000), st.PushGraceMs)
	assert.Equal(t, epoch, st.ServerTime.UTC())

	for _, user := range []string{"alice", "bob"} {
		resp, body = g.do(http.MethodPost, "/api/duels/"+code+"/ready", user, SetReadyRequest{Ready: true})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var ready SetReadyResponse
		require.NoError(t, json.Unmarshal(body, &ready))
		assert.True(t, ready.Ready)
		assert.Equal(t, code, ready.RoomCode)
	}

	st = g.state(code, "")
	assert.Equal(t, models.RoomStatusStarting, st.Status)
	assert.Equal(t, models.RoleSpectator, st.Role)
	assert.True(t, st.HostReady)
	assert.True(t, st.OpponentReady)

	// Submissions before the match starts are rejected.
	resp, body = g.do(http.MethodPost, "/api/duels/"+code+"/submit", "alice", SubmitRequest{Code: "x", Language: "go"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(duel.KindMatchNotActive), errorKind(t, body))

	resp, body = g.do(http.MethodGet, "/api/duels/active", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active []RoomSummary
	require.NoError(t, json.Unmarshal(body, &active))
	require.Len(t, active, 1)
	assert.Equal(t, code, active[0].RoomCode)
	assert.Equal(t, "two-sum", active[0].ProblemID)
}

func TestSubmitOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")
	g.do(http.MethodPost, "/api/duels/"+code+"/join", "bob", nil)
	g.do(http.MethodPost, "/api/duels/"+code+"/ready", "alice", SetReadyRequest{Ready: true})
	g.do(http.MethodPost, "/api/duels/"+code+"/ready", "bob", SetReadyRequest{Ready: true})

	// Run the countdown one armed tick at a time.
	for ticks := 3; ticks > 0; ticks-- {
		require.Eventually(t, func() bool {
			return g.state(code, "").Countdown == ticks && g.engine.Pending(timers.Key(code, "countdown"))
		}, 2*time.Second, 5*time.Millisecond)
		g.clock.Advance(time.Second)
	}
	require.Eventually(t, func() bool {
		return g.state(code, "").Status == models.RoomStatusInProgress
	}, 2*time.Second, 5*time.Millisecond)

	resp, body := g.do(http.MethodPost, "/api/duels/"+code+"/submit", "bob", SubmitRequest{Code: "wrong", Language: "go"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res duel.SubmitResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, models.VerdictRejected, res.Verdict)
	assert.False(t, res.IsWinner)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 3, res.Total)

	resp, body = g.do(http.MethodPost, "/api/duels/"+code+"/submit", "alice", SubmitRequest{Code: "ok", Language: "go"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.IsWinner)
	assert.True(t, res.MatchFinished)

	resp, body = g.do(http.MethodPost, "/api/duels/"+code+"/submit", "bob", SubmitRequest{Code: "ok", Language: "go"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(duel.KindAlreadyDecided), errorKind(t, body))

	st := g.state(code, "bob")
	assert.Equal(t, models.RoomStatusFinished, st.Status)
	assert.Equal(t, "alice", st.Winner)
}

func TestHTTPErrorMapping(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")
	g.do(http.MethodPost, "/api/duels/"+code+"/join", "bob", nil)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		kind   duel.Kind
	}{
		{"unknown room", http.MethodGet, "/api/duels/ZZZZZZ/state", "", nil, http.StatusNotFound, duel.KindRoomNotFound},
		{"anonymous create", http.MethodPost, "/api/duels", "", CreateRoomRequest{ProblemID: "two-sum"}, http.StatusUnauthorized, duel.KindUnauthenticated},
		{"unknown problem", http.MethodPost, "/api/duels", "carol", CreateRoomRequest{ProblemID: "nope"}, http.StatusBadRequest, duel.KindInvalidArgument},
		{"room full", http.MethodPost, "/api/duels/" + code + "/join", "carol", nil, http.StatusConflict, duel.KindRoomFull},
		{"spectator ready", http.MethodPost, "/api/duels/" + code + "/ready", "carol", SetReadyRequest{Ready: true}, http.StatusForbidden, duel.KindNotParticipant},
		{"empty submission", http.MethodPost, "/api/duels/" + code + "/submit", "alice", SubmitRequest{Language: "go"}, http.StatusBadRequest, duel.KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := g.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, string(tt.kind), errorKind(t, body))
		})
	}
}

func TestMalformedBody(t *testing.T) {
	g := newTestGateway(t)

	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/api/duels", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "alice")
	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	g := newTestGateway(t)
	g.history.results = []models.DuelResult{
		{RoomCode: "ABC234", Role: models.RoleHost, Outcome: models.OutcomeWon, Winner: "alice", OpponentID: "bob"},
	}

	resp, body := g.do(http.MethodGet, "/api/history?participant=alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var results []models.DuelResult
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.OutcomeWon, results[0].Outcome)

	resp, _ = g.do(http.MethodGet, "/api/history?participant=alice&limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = g.do(http.MethodGet, "/api/history", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	g.history.err = errors.New("db down")
	resp, body = g.do(http.MethodGet, "/api/history?participant=alice", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(duel.KindExternalServiceFailure), errorKind(t, body))
}

func TestWebSocketPush(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")

	host := g.dial(code, "alice")
	greeting := readUntil(t, host, events.TypeRoomJoined)
	ev, err := greeting.Decode()
	require.NoError(t, err)
	joined := ev.(events.RoomJoined)
	assert.Equal(t, models.RoleHost, joined.Role)
	assert.Equal(t, models.RoomStatusWaiting, joined.Snapshot.Status)

	resp, _ := g.do(http.MethodPost, "/api/duels/"+code+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := readUntil(t, host, events.TypeOpponentJoined)
	ev, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, "bob", ev.(events.OpponentJoined).ParticipantID)

	env = readUntil(t, host, events.TypeRoomUpdated)
	ev, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, "bob", ev.(events.RoomUpdated).Snapshot.Opponent)

	// Commands over the socket.
	require.NoError(t, host.WriteJSON(ClientMessage{Type: ClientMessagePlayerReady, Data: json.RawMessage(`{"ready":true}`)}))
	env = readUntil(t, host, events.TypeOpponentReadyChanged)
	ev, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, events.OpponentReadyChanged{ParticipantID: "alice", Ready: true}, ev)

	require.NoError(t, host.WriteJSON(ClientMessage{Type: "dance"}))
	env = readUntil(t, host, events.TypeError)
	ev, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, string(duel.KindInvalidArgument), ev.(events.Error).Kind)
}

func TestWebSocketSpectatorCannotReady(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")

	spectator := g.dial(code, "")
	greeting := readUntil(t, spectator, events.TypeRoomJoined)
	ev, err := greeting.Decode()
	require.NoError(t, err)
	assert.Equal(t, models.RoleSpectator, ev.(events.RoomJoined).Role)

	require.NoError(t, spectator.WriteJSON(ClientMessage{Type: ClientMessagePlayerReady, Data: json.RawMessage(`{"ready":true}`)}))
	env := readUntil(t, spectator, events.TypeError)
	ev, err = env.Decode()
	require.NoError(t, err)
	assert.Equal(t, string(duel.KindNotParticipant), ev.(events.Error).Kind)
}

func TestWebSocketUnknownRoom(t *testing.T) {
	g := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/duel?room=ZZZZZZ"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisconnectResetsReadiness(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")
	g.do(http.MethodPost, "/api/duels/"+code+"/join", "bob", nil)

	host := g.dial(code, "alice")
	readUntil(t, host, events.TypeRoomJoined)

	g.do(http.MethodPost, "/api/duels/"+code+"/ready", "alice", SetReadyRequest{Ready: true})
	g.do(http.MethodPost, "/api/duels/"+code+"/ready", "bob", SetReadyRequest{Ready: true})
	require.Equal(t, models.RoomStatusStarting, g.state(code, "").Status)

	require.NoError(t, host.Close())

	require.Eventually(t, func() bool {
		st := g.state(code, "")
		return !st.HostReady && !st.OpponentReady && st.Countdown == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectionStats(t *testing.T) {
	g := newTestGateway(t)
	code := g.createRoom("alice")

	conn := g.dial(code, "alice")
	readUntil(t, conn, events.TypeRoomJoined)

	resp, body := g.do(http.MethodGet, "/ws/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats ConnectionStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.Equal(t, 1, stats.RoomConnections[code])
}
