package suite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
)

const (
	expireDuration  = 120
	maxWaitDuration = 120 * time.Second
)

const (
	redisPort  = "6379/tcp"
	redisImage = "redis"
	redisTag   = "alpine"

	natsPort  = "4222/tcp"
	natsImage = "nats"
	natsTag   = "2.10-alpine"

	postgresPort     = "5432/tcp"
	postgresImage    = "postgres"
	postgresTag      = "16-alpine"
	postgresPassword = "secret"
	postgresDB       = "rooms"
)

type Suite struct {
	*testing.T
	Logger *slog.Logger

	Storage *redis.Client
}

type NATSSuite struct {
	*testing.T
	Logger *slog.Logger

	URL string
}

type PostgresSuite struct {
	*testing.T
	Logger *slog.Logger

	DSN  string
	Pool *pgxpool.Pool
}

// New - starts a Redis container and returns a flushed client.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	ctx, logger := setup(t)

	pool, resource := run(t, &dockertest.RunOptions{
		Repository: redisImage,
		Tag:        redisTag,
		Env:        []string{},
	})

	redisHost := resource.GetHostPort(redisPort)

	var redisClient *redis.Client
	retry(t, pool, resource, "redis", func() error {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisHost,
		})
		return redisClient.Ping(ctx).Err()
	})

	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("could not flush database: %v", err)
	}

	return ctx, &Suite{
		T:       t,
		Logger:  logger,
		Storage: redisClient,
	}
}

// NewNATS - starts a NATS server with JetStream enabled.
func NewNATS(t *testing.T) (context.Context, *NATSSuite) {
	t.Helper()

	ctx, logger := setup(t)

	pool, resource := run(t, &dockertest.RunOptions{
		Repository: natsImage,
		Tag:        natsTag,
		Cmd:        []string{"-js"},
	})

	url := "nats://" + resource.GetHostPort(natsPort)

	retry(t, pool, resource, "nats", func() error {
		conn, err := nats.Connect(url)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	})

	return ctx, &NATSSuite{
		T:      t,
		Logger: logger,
		URL:    url,
	}
}

// NewPostgres - starts an empty Postgres database.
func NewPostgres(t *testing.T) (context.Context, *PostgresSuite) {
	t.Helper()

	ctx, logger := setup(t)

	pool, resource := run(t, &dockertest.RunOptions{
		Repository: postgresImage,
		Tag:        postgresTag,
		Env: []string{
			"POSTGRES_PASSWORD=" + postgresPassword,
			"POSTGRES_DB=" + postgresDB,
		},
	})

	dsn := fmt.Sprintf("postgres://postgres:%s@%s/%s?sslmode=disable",
		postgresPassword, resource.GetHostPort(postgresPort), postgresDB)

	var pgPool *pgxpool.Pool
	retry(t, pool, resource, "postgres", func() error {
		var err error
		if pgPool, err = pgxpool.New(ctx, dsn); err != nil {
			return err
		}

		if err = pgPool.Ping(ctx); err != nil {
			pgPool.Close()
			return err
		}

		return nil
	})

	t.Cleanup(pgPool.Close)

	return ctx, &PostgresSuite{
		T:      t,
		Logger: logger,
		DSN:    dsn,
		Pool:   pgPool,
	}
}

func setup(t *testing.T) (context.Context, *slog.Logger) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	t.Cleanup(func() {
		cancel()
	})

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	return ctx, logger
}

func run(t *testing.T, options *dockertest.RunOptions) (*dockertest.Pool, *dockertest.Resource) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}

	// pulls an image, creates a container based on it and runs it
	resource, err := pool.RunWithOptions(options, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start resource: %v", err)
	}

	// never returns error
	_ = resource.Expire(expireDuration) // Tell docker to hard kill the container in 120 seconds

	t.Cleanup(func() {
		t.Helper()

		if err = pool.Purge(resource); err != nil {
			t.Fatalf("could not purge resource: %v", err)
		}
	})

	// exponential backoff-retry, because the application in the container might not be ready to accept connections yet
	pool.MaxWait = maxWaitDuration

	return pool, resource
}

func retry(t *testing.T, pool *dockertest.Pool, resource *dockertest.Resource, name string, connect func() error) {
	t.Helper()

	// the container is purged by the cleanup registered in run
	if err := pool.Retry(connect); err != nil {
		t.Fatalf("could not connect to %s on %s: %v", name, resource.Container.Name, err)
	}
}
