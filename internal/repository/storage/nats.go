package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	natsMaxReconnects = 10
	natsReconnectWait = 2 * time.Second
)

type NATSStorage struct {
	Connection *nats.Conn
	KeyValue   jetstream.KeyValue
}

// NewNATSStorage - connects and makes sure the room bucket exists with the given TTL.
func NewNATSStorage(ctx context.Context, logger *slog.Logger, url, bucket string, ttl time.Duration) (*NATSStorage, error) {
	log := logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name("tictactoe-online"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "tic-tac-toe rooms",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open key-value bucket %q: %w", bucket, err)
	}

	return &NATSStorage{Connection: conn, KeyValue: kv}, nil
}

func (that *NATSStorage) Close() error {
	if err := that.Connection.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}
