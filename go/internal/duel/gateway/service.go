package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/relay"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// RoomService is the room API the gateway drives. *duel.App implements it.
type RoomService interface {
	CreateRoom(ctx context.Context, hostID, problemID string) (models.RoomSnapshot, error)
	JoinRoom(ctx context.Context, code, participantID string) (*duel.JoinResult, error)
	LeaveRoom(ctx context.Context, code, participantID string) error
	SetReady(ctx context.Context, code, participantID string, ready bool) (models.RoomSnapshot, error)
	Submit(ctx context.Context, code, participantID, source, language string) (*duel.SubmitResult, error)
	GetRoomState(ctx context.Context, code string) (models.RoomSnapshot, error)
	ActiveRooms(ctx context.Context) []models.RoomSnapshot
}

// IdentityResolver returns the participant id of the caller of r.
// identity.ErrMissingIdentity means the caller is anonymous.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// SyncConfig holds the transport hints served to polling clients.
type SyncConfig struct {
	PollInterval time.Duration
	PushGrace    time.Duration
}

// Config holds configuration for the duel gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	Sync             SyncConfig
	// UseJetStream makes the gateway consume room events from NATS instead
	// of receiving them directly from the local app.
	UseJetStream bool
	Relay        relay.Config
}

// DefaultConfig returns default configuration for the duel gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Sync: SyncConfig{
			PollInterval: 2 * time.Second,
			PushGrace:    5 * time.Second,
		},
		Relay: relay.DefaultConfig(),
	}
}

// Deps are the collaborators of the gateway.
type Deps struct {
	// Connections is the local connection pool. In local mode the room app
	// publishes into it directly, so it is created before the app.
	Connections *ConnectionManager
	Rooms       RoomService
	Identity    IdentityResolver
	History     HistoryProvider // optional
	Clock       clockwork.Clock
}

// Service is the duel gateway: WebSocket push, polling and REST commands.
type Service struct {
	config            Config
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	commandHandler    *CommandHandler
	eventConsumer     *EventConsumer
}

// NewService creates the gateway.
func NewService(config Config, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	connectionManager := deps.Connections
	if connectionManager == nil {
		connectionManager = NewConnectionManager(config.ConnectionConfig)
	}
	connectionManager.SetHandler(&roomCommands{rooms: deps.Rooms})

	return &Service{
		config:            config,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, deps.Rooms, deps.Identity, deps.Clock),
		stateHandler:      NewStateHandler(deps.Rooms, deps.Identity, deps.History, deps.Clock, config.Sync),
		commandHandler:    NewCommandHandler(deps.Rooms, deps.Identity),
	}
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.config.UseJetStream).Msg("starting duel gateway service")

	if s.config.UseJetStream {
		consumer, err := NewEventConsumer(ctx, s.connectionManager, s.config.Relay)
		if err != nil {
			return fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = consumer

		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	s.connectionManager.Start(ctx)

	log.Info().Msg("duel gateway service shutting down")
	return s.Stop()
}

// Stop releases the event consumer. Connections close when the Start context
// is cancelled.
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("duel gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	s.commandHandler.RegisterCommandRoutes(mux)
	log.Info().Msg("duel gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
