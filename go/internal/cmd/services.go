package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/archive"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/gateway"
	"github.com/mcdev12/codeduel/go/internal/duel/registry"
	"github.com/mcdev12/codeduel/go/internal/duel/relay"
	"github.com/mcdev12/codeduel/go/internal/identity"
	"github.com/mcdev12/codeduel/go/internal/judge"
)

type Services struct {
	App      *duel.App
	Gateway  *gateway.Service
	Identity *identity.Provider
	// Catalog is set when problems are served from a local file.
	Catalog *judge.StaticCatalog

	database *sql.DB
	nc       *nats.Conn
	redis    *redis.Client
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Collaborators → Registry/Timers → App → Gateway
	s := &Services{}

	roomConfig, err := config.roomConfig()
	if err != nil {
		return nil, err
	}

	// Problems and verdicts
	judgeClient := judge.NewClient(&http.Client{Timeout: roomConfig.VerdictTimeout}, getEnv("JUDGE_URL", "http://localhost:9090"))
	var catalog duel.ProblemCatalog = judgeClient
	if path := getEnv("CATALOG_FILE", config.CatalogFile); path != "" {
		static, err := judge.LoadStaticCatalog(path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Int("problems", static.Len()).Msg("loaded static problem catalog")
		s.Catalog = static
		catalog = static
	}

	// Room codes
	codes, err := registry.NewCodeGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create code generator: %w", err)
	}
	var reserver registry.Reserver = registry.LocalReserver{}
	if url := getEnv("REDIS_URL", ""); url != "" {
		rdb, err := setupRedis(ctx, url)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = rdb
		reserver = registry.NewRedisReserver(rdb, instanceID())
	}
	reserveTTL := roomConfig.LobbyTTL + roomConfig.ReadyTimeout + longestTier(roomConfig) + roomConfig.Retention

	// Result archive
	var recorder duel.ResultRecorder
	var history gateway.HistoryProvider
	if getEnvAsBool("ARCHIVE_ENABLED", false) {
		database, repo, err := setupArchive(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.database = database
		recorder = repo
		history = repo
	}

	// Event fan-out
	gatewayConfig := gateway.DefaultConfig()
	override(&gatewayConfig.Sync.PollInterval, config.Sync.PollInterval)
	override(&gatewayConfig.Sync.PushGrace, config.Sync.PushGrace)
	gatewayConfig.Relay.URL = getEnv("NATS_URL", gatewayConfig.Relay.URL)
	gatewayConfig.ConnectionConfig.SendBufferSize = getEnvAsInt("WS_SEND_BUFFER", gatewayConfig.ConnectionConfig.SendBufferSize)

	connections := gateway.NewConnectionManager(gatewayConfig.ConnectionConfig)
	var notifier duel.Notifier = connections
	switch transport := getEnv("EVENT_TRANSPORT", "local"); transport {
	case "local":
	case "nats":
		nc, js, err := relay.Connect(gatewayConfig.Relay)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.nc = nc
		if err := relay.EnsureStream(ctx, js, gatewayConfig.Relay); err != nil {
			s.Close()
			return nil, err
		}
		notifier = relay.NewPublisher(js, gatewayConfig.Relay)
		gatewayConfig.UseJetStream = true
	default:
		s.Close()
		return nil, fmt.Errorf("unknown EVENT_TRANSPORT %q", transport)
	}

	identityConfig, err := identityConfigFromEnv()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Identity = identity.NewProvider(identityConfig, nil)

	s.App = duel.NewApp(roomConfig, duel.Deps{
		Registry: registry.New(codes, reserver, reserveTTL),
		Catalog:  catalog,
		Verdicts: judgeClient,
		Notifier: notifier,
		Recorder: recorder,
	})

	s.Gateway = gateway.NewService(gatewayConfig, gateway.Deps{
		Connections: connections,
		Rooms:       s.App,
		Identity:    s.Identity,
		History:     history,
	})

	return s, nil
}

// identityConfigFromEnv refuses to run without a token secret unless dev
// identities are enabled.
func identityConfigFromEnv() (identity.Config, error) {
	config := identity.Config{
		Secret:   getEnv("JWT_SECRET", ""),
		Issuer:   getEnv("JWT_ISSUER", "codeduel"),
		TokenTTL: getEnvAsDuration("JWT_TTL", 24*time.Hour),
		DevMode:  getEnvAsBool("AUTH_DEV_MODE", false),
	}
	if config.Secret == "" && !config.DevMode {
		return identity.Config{}, fmt.Errorf("JWT_SECRET is required unless AUTH_DEV_MODE is set")
	}
	if config.Secret == "" {
		log.Warn().Msg("JWT_SECRET not set, bearer tokens are rejected and only dev identities resolve")
	}
	return config, nil
}

func setupRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("room codes reserved in redis")
	return rdb, nil
}

// longestTier bounds how long a room can hold its code.
func longestTier(cfg duel.Config) time.Duration {
	var longest time.Duration
	for _, d := range cfg.TierDurations {
		longest = max(longest, d)
	}
	return longest
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "duel"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Close releases external connections. Safe on partially built services.
func (s *Services) Close() {
	if s.App != nil {
		s.App.Close()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}

// interface checks
var (
	_ duel.Notifier           = (*gateway.ConnectionManager)(nil)
	_ duel.Notifier           = (*relay.Publisher)(nil)
	_ duel.ResultRecorder     = (*archive.Repository)(nil)
	_ gateway.HistoryProvider = (*archive.Repository)(nil)
	_ gateway.RoomService     = (*duel.App)(nil)
)
