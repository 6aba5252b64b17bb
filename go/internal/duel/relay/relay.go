// Package relay carries room events between instances over NATS JetStream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
)

// Config holds the NATS connection and stream settings.
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // how long events stay in the stream
	Replicas        int
	DuplicateWindow time.Duration
	PublishTimeout  time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "DUEL_EVENTS",
		SubjectPrefix:   "duel.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		PublishTimeout:  5 * time.Second,
	}
}

// Subject returns the subject events of roomCode are published on.
func (c Config) Subject(roomCode string) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, roomCode)
}

// Filter returns the subject filter matching every room.
func (c Config) Filter() string {
	return c.SubjectPrefix + ".>"
}

// Connect opens a NATS connection with JetStream.
func Connect(cfg Config) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

// StreamConfig is the JetStream stream definition for room events.
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Duel room events fanned out to gateway instances",
		Subjects:    []string{cfg.Filter()},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}
}

// EnsureStream creates the event stream or updates it to the current config.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	if _, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg)); err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	log.Info().
		Str("stream", cfg.StreamName).
		Str("subjects", cfg.Filter()).
		Msg("JetStream stream ready")
	return nil
}

// Publisher implements duel.Notifier on top of JetStream.
type Publisher struct {
	js     jetstream.JetStream
	config Config
}

// NewPublisher creates a publisher. The stream must already exist.
func NewPublisher(js jetstream.JetStream, cfg Config) *Publisher {
	return &Publisher{js: js, config: cfg}
}

// Publish sends env to the room's subject and waits for the stream ack. The
// event id doubles as the JetStream message id so retries are deduplicated.
func (p *Publisher) Publish(ctx context.Context, env *events.Envelope) error {
	if env == nil {
		return errors.New("nil envelope")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if p.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.PublishTimeout)
		defer cancel()
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: p.config.Subject(env.RoomCode),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(env.Type)},
			"Room-Code":  []string{env.RoomCode},
			"Event-ID":   []string{env.ID},
		},
	}, jetstream.WithMsgID(env.ID))
	if err != nil {
		return fmt.Errorf("publish %s for room %s: %w", env.Type, env.RoomCode, err)
	}

	log.Debug().
		Str("room_code", env.RoomCode).
		Str("event_type", string(env.Type)).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("event published to JetStream")
	return nil
}

// Decode parses a relayed message back into an envelope.
func Decode(data []byte) (*events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.RoomCode == "" || env.Type == "" {
		return nil, errors.New("event envelope missing room code or type")
	}
	return &env, nil
}
