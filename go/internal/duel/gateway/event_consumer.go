package gateway

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel/relay"
)

// EventConsumer consumes room events from JetStream and broadcasts them to
// this instance's WebSocket clients.
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	consumer          jetstream.Consumer
	config            relay.Config
}

// NewEventConsumer connects to NATS and creates an ordered consumer over
// every room subject. Each gateway instance gets its own ephemeral consumer
// starting at new messages, so only events published after startup are fanned
// out; clients catch up through their snapshot.
func NewEventConsumer(ctx context.Context, cm *ConnectionManager, config relay.Config) (*EventConsumer, error) {
	nc, js, err := relay.Connect(config)
	if err != nil {
		return nil, err
	}

	if err := relay.EnsureStream(ctx, js, config); err != nil {
		nc.Close()
		return nil, err
	}

	consumer, err := js.OrderedConsumer(ctx, config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{config.Filter()},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("filter", config.Filter()).
		Msg("created JetStream ordered consumer")

	return &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		js:                js,
		consumer:          consumer,
		config:            config,
	}, nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.processMessage(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to process message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("event consumer shutting down")
	return nil
}

// processMessage hands one relayed event to the connection manager
func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	env, err := relay.Decode(msg.Data())
	if err != nil {
		return err
	}

	log.Debug().
		Str("event_id", env.ID).
		Str("room_code", env.RoomCode).
		Str("event_type", string(env.Type)).
		Int64("version", env.Version).
		Msg("processing JetStream event")

	return ec.connectionManager.Publish(ctx, env)
}

// Stop closes the NATS connection.
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	if ec.nc != nil {
		ec.nc.Drain()
	}
	return nil
}
