package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/tictactoe-online/internal/config"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-online/internal/service"
	"github.com/rocketscienceinc/tictactoe-online/internal/transport/rest"
	"github.com/rocketscienceinc/tictactoe-online/internal/transport/websocket"
	"github.com/rocketscienceinc/tictactoe-online/internal/usecase"
)

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	clock := clockwork.NewRealClock()

	store, closeStore := openRoomStore(ctx, logger, conf, clock)
	defer closeStore()

	if purger, ok := store.(repository.Purger); ok {
		go repository.RunJanitor(ctx, logger, clock, purger, conf.Store.PurgeInterval)
	}

	bot := service.NewBotService()
	sessionConf := usecase.SessionConfig{
		OpponentDelay: conf.Game.OpponentDelay,
		StartDelay:    conf.Game.StartDelay,
	}

	newSession := func(logger *slog.Logger, presenter usecase.Presenter) websocket.GameSession {
		return usecase.NewSession(logger, store, bot, presenter, clock, sessionConf)
	}

	socketConf := websocket.DefaultConfig()
	socketConf.AllowedOrigins = conf.AllowedOrigins

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.New(logger, conf.AllowedOrigins).Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, newSession, socketConf)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err := <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err := <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

// openRoomStore - a backend that cannot be reached leaves online play local to each session.
// The returned store is a nil interface then, never a typed nil.
func openRoomStore(
	ctx context.Context,
	logger *slog.Logger,
	conf *config.Config,
	clock clockwork.Clock,
) (repository.RoomStore, func()) {
	log := logger.With("component", "app", "method", "openRoomStore", "backend", conf.Store.Backend)

	opts := repository.Options{
		RoomTTL:          conf.Store.RoomTTL,
		MaxUpdateRetries: conf.Store.MaxUpdateRetries,
	}

	closeWith := func(name string, closer func() error) func() {
		return func() {
			if err := closer(); err != nil {
				log.Error("could not close "+name+" storage", "error", err)
			}
		}
	}

	noop := func() {}

	switch conf.Store.Backend {
	case config.BackendMemory:
		return repository.NewMemoryRoomStore(clock, opts), noop

	case config.BackendRedis:
		redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr())
		if err != nil {
			log.Error("could not connect to redis storage, rooms stay local", "error", err)
			return nil, noop
		}

		return repository.NewRedisRoomStore(logger, redisStorage, opts), closeWith("redis", redisStorage.Close)

	case config.BackendNATS:
		natsStorage, err := storage.NewNATSStorage(ctx, logger, conf.NATS.URL, conf.NATS.Bucket, conf.Store.RoomTTL)
		if err != nil {
			log.Error("could not connect to nats storage, rooms stay local", "error", err)
			return nil, noop
		}

		return repository.NewNATSRoomStore(logger, natsStorage.KeyValue, opts), closeWith("nats", natsStorage.Close)

	case config.BackendPostgres:
		pgStorage, err := storage.NewPostgresStorage(ctx, logger, conf.Postgres.DSN)
		if err != nil {
			log.Error("could not connect to postgres storage, rooms stay local", "error", err)
			return nil, noop
		}

		if err = pgStorage.Init(ctx); err != nil {
			log.Error("could not prepare postgres storage, rooms stay local", "error", err)
			closeWith("postgres", pgStorage.Close)()
			return nil, noop
		}

		pgStore := repository.NewPostgresRoomStore(logger, pgStorage, clock, opts)
		go func() {
			if err := pgStore.Listen(ctx); err != nil {
				log.Error("room notifications stopped", "error", err)
			}
		}()

		return pgStore, closeWith("postgres", pgStorage.Close)

	default:
		log.Warn("room store disabled, rooms stay local")
		return nil, noop
	}
}
