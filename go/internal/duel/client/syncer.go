// Package client follows a duel room from Go, preferring the WebSocket push
// channel and falling back to polling the state endpoint.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/gateway"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// Source says which transport produced an update.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Update is delivered for every newer room version and every pushed event.
type Update struct {
	Snapshot models.RoomSnapshot
	// Event is the pushed event that carried this update; nil when polling.
	Event  *events.Envelope
	Source Source
}

// Config holds the syncer settings.
type Config struct {
	BaseURL      string // http(s)://host:port
	Header       http.Header
	PushGrace    time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
	Clock        clockwork.Clock
	// OnFallback is called once when push is abandoned. err has kind
	// duel.KindTransportUnavailable.
	OnFallback func(err error)
}

// DefaultConfig returns the standard transport timings for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		PushGrace:    5 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Syncer follows one room until it reaches a terminal status.
type Syncer struct {
	config Config
	http   *http.Client
	dialer *websocket.Dialer
	clock  clockwork.Clock
}

// NewSyncer creates a syncer.
func NewSyncer(config Config) *Syncer {
	s := &Syncer{
		config: config,
		http:   config.HTTPClient,
		dialer: config.Dialer,
		clock:  config.Clock,
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
	}
	if s.dialer == nil {
		s.dialer = websocket.DefaultDialer
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Follow delivers room updates to fn, in version order, until the room is
// FINISHED or EXPIRED or ctx ends. Push failures never end Follow; they switch
// it to polling. It returns an error only for ctx cancellation or when the
// room cannot be found.
func (s *Syncer) Follow(ctx context.Context, roomCode string, fn func(Update)) error {
	f := &follower{syncer: s, code: roomCode, fn: fn, last: -1}

	done, err := f.push(ctx)
	if done {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reason := &duel.Error{Kind: duel.KindTransportUnavailable, Message: "push channel unavailable", Err: err}
	log.Info().
		Err(err).
		Str("room_code", roomCode).
		Msg("falling back to polling")
	if s.config.OnFallback != nil {
		s.config.OnFallback(reason)
	}

	return f.poll(ctx)
}

// FetchState reads the room once over HTTP.
func (s *Syncer) FetchState(ctx context.Context, roomCode string) (*gateway.StateResponse, error) {
	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/api/duels/" + url.PathEscape(roomCode) + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.config.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &duel.Error{Kind: duel.KindTransportUnavailable, Message: "state request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body gateway.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			return nil, &duel.Error{Kind: duel.KindTransportUnavailable, Message: fmt.Sprintf("unexpected status: %d", resp.StatusCode)}
		}
		return nil, &duel.Error{Kind: duel.Kind(body.Error), Message: body.Message}
	}

	var st gateway.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func (s *Syncer) wsURL(roomCode string) (string, error) {
	u, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/duel"
	u.RawQuery = url.Values{"room": {roomCode}}.Encode()
	return u.String(), nil
}

// follower is the state of one Follow call.
type follower struct {
	syncer *Syncer
	code   string
	fn     func(Update)
	last   int64
	snap   models.RoomSnapshot
}

// deliver forwards snap if it is newer than anything seen. It reports whether
// the room is terminal.
func (f *follower) deliver(snap models.RoomSnapshot, env *events.Envelope, src Source) bool {
	if snap.Version > f.last {
		f.last = snap.Version
		f.snap = snap
		f.fn(Update{Snapshot: snap, Event: env, Source: src})
	} else if env != nil && env.Version >= f.last {
		f.fn(Update{Snapshot: f.snap, Event: env, Source: src})
	}
	return f.snap.Status.IsTerminal()
}

// push follows the room over the WebSocket. done is true when Follow should
// return with err; otherwise err is why push was abandoned.
func (f *follower) push(ctx context.Context) (done bool, err error) {
	s := f.syncer
	target, err := s.wsURL(f.code)
	if err != nil {
		return false, err
	}

	// The handshake and the greeting share one grace period.
	deadline := time.Now().Add(s.config.PushGrace)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	conn, resp, err := s.dialer.DialContext(dialCtx, target, s.config.Header)
	if err != nil {
		if rejected := rejection(resp); rejected != nil && errors.Is(rejected, duel.ErrRoomNotFound) {
			return true, rejected
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	greeted := false

	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if !greeted {
				return false, fmt.Errorf("no room-joined within %s: %w", s.config.PushGrace, err)
			}
			return false, fmt.Errorf("push channel dropped: %w", err)
		}

		ev, err := env.Decode()
		if err != nil {
			log.Debug().Err(err).Str("event_type", string(env.Type)).Msg("skipping undecodable event")
			continue
		}

		snap, ok := events.SnapshotOf(ev)
		if !greeted {
			switch {
			case env.Type == events.TypeRoomJoined:
				greeted = true
				if err := conn.SetReadDeadline(time.Time{}); err != nil {
					return false, err
				}
			case !ok:
				// Nothing to attach this event to yet.
				continue
			}
		}
		if !ok {
			snap = f.snap
		}
		if f.deliver(snap, &env, SourcePush) {
			return true, nil
		}
	}
}

// rejection decodes the gateway error carried by a failed handshake response.
func rejection(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()
	var body gateway.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return nil
	}
	return &duel.Error{Kind: duel.Kind(body.Error), Message: body.Message}
}

// poll follows the room over the state endpoint.
func (f *follower) poll(ctx context.Context) error {
	ticker := f.syncer.clock.NewTicker(f.syncer.config.PollInterval)
	defer ticker.Stop()

	for {
		st, err := f.syncer.FetchState(ctx, f.code)
		switch {
		case err == nil:
			if f.deliver(st.RoomSnapshot, nil, SourcePoll) {
				return nil
			}
		case errors.Is(err, duel.ErrRoomNotFound):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Warn().Err(err).Str("room_code", f.code).Msg("poll failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}
