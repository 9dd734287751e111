package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// PostgresStorage - a query pool plus a dedicated LISTEN connection.
type PostgresStorage struct {
	Pool     *pgxpool.Pool
	Listener *pq.Listener
}

func NewPostgresStorage(ctx context.Context, logger *slog.Logger, dsn string) (*PostgresStorage, error) {
	log := logger.With("component", "postgres")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	listener := pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(event pq.ListenerEventType, err error) {
		if err != nil {
			log.Error("listener event", "event", event, "error", err)
		}
	})

	return &PostgresStorage{Pool: pool, Listener: listener}, nil
}

// Init - creates the rooms table if it does not exist.
func (that *PostgresStorage) Init(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`

	if _, err := that.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}

	return nil
}

func (that *PostgresStorage) Close() error {
	that.Pool.Close()

	if err := that.Listener.Close(); err != nil {
		return fmt.Errorf("failed to close Postgres listener: %w", err)
	}

	return nil
}
