package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nexus-im/ghost/internal/api"
	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/blob"
	"github.com/nexus-im/ghost/internal/chat"
	"github.com/nexus-im/ghost/internal/config"
	"github.com/nexus-im/ghost/internal/fanout"
	"github.com/nexus-im/ghost/internal/hub"
	"github.com/nexus-im/ghost/store/conversation"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/migrations"
	"github.com/nexus-im/ghost/store/notification"
)

var addr = flag.String("addr", "", "http service address (overrides PORT)")

const shutdownTimeout = 15 * time.Second

type stores struct {
	conversations conversation.Store
	messages      message.Store
	notifications notification.Store
	checks        map[string]func(context.Context) error
	closers       []func()
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	listen := *addr
	if listen == "" {
		listen = ":" + cfg.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer st.close()

	var relay fanout.Relay
	if cfg.RedisURL != "" {
		r, err := fanout.NewRedisRelay(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer r.Close()
		relay = r
		st.checks["redis"] = r.Ping
		logger.Info().Msg("Redis relay enabled")
	}

	registry := hub.NewRegistry()
	engine := fanout.NewEngine(registry, fanout.Config{
		Lanes:     cfg.FanoutLanes,
		QueueSize: cfg.FanoutQueue,
		Relay:     relay,
	}, logger)
	engine.Start(ctx)

	blobs, err := blob.NewDiskStore(cfg.UploadDir, "/uploads", api.MaxUploadBytes)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}

	svc := chat.NewService(st.conversations, st.messages, st.notifications, engine, logger)

	srv := &http.Server{
		Addr: listen,
		Handler: api.NewRouter(api.Deps{
			Chat:      svc,
			Blobs:     blobs,
			UploadDir: blobs.Dir(),
			Registry:  registry,
			Verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
			Checks:    st.checks,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", listen).Str("env", cfg.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
	engine.Close()
}

// openStores picks Postgres when DATABASE_URL is set and in-memory stores
// otherwise. MONGO_URL moves message storage to MongoDB.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	st := &stores{
		conversations: conversation.NewMemoryStore(),
		messages:      message.NewMemoryStore(),
		notifications: notification.NewMemoryStore(),
		checks:        make(map[string]func(context.Context) error),
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing db")
			}
		})
		if err := db.PingContext(ctx); err != nil {
			st.close()
			return nil, err
		}
		if err := migrations.Up(db); err != nil {
			st.close()
			return nil, err
		}
		if v, dirty, err := migrations.Version(db); err == nil {
			logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("Connected to database")
		}
		st.conversations = conversation.NewSQLStore(db)
		st.messages = message.NewSQLStore(db)
		st.notifications = notification.NewSQLStore(db)
		st.checks["postgres"] = db.PingContext
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.MongoURL != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() {
			_ = client.Disconnect(context.Background())
		})
		if err := client.Ping(ctx, nil); err != nil {
			st.close()
			return nil, err
		}
		ms := message.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := ms.EnsureIndexes(ctx); err != nil {
			st.close()
			return nil, err
		}
		st.messages = ms
		st.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		logger.Info().Str("database", cfg.MongoDatabase).Str("host", redactURL(cfg.MongoURL)).Msg("Message store on MongoDB")
	}

	return st, nil
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// redactURL drops credentials from a connection string for logging.
func redactURL(u string) string {
	if at := strings.LastIndex(u, "@"); at >= 0 {
		if scheme := strings.Index(u, "://"); scheme >= 0 && scheme < at {
			return u[:scheme+3] + u[at+1:]
		}
	}
	return u
}
