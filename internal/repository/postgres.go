package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository/storage"
)

const (
	roomsNotifyChannel   = "rooms"
	listenerPingInterval = 90 * time.Second
)

var errInsertConflict = errors.New("room was created concurrently")

// postgresWatch - reads and pushes under mu so snapshots never go back in time.
type postgresWatch struct {
	mu  sync.Mutex
	sub *feed
}

// PostgresRoomStore - one jsonb row per room. Writers notify the rooms channel with
// the room id, Listen fans the notifications out to the local subscriptions.
type PostgresRoomStore struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	clock    clockwork.Clock
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]map[*postgresWatch]struct{}
}

func NewPostgresRoomStore(logger *slog.Logger, pgStorage *storage.PostgresStorage, clock clockwork.Clock, opts Options) *PostgresRoomStore {
	return &PostgresRoomStore{
		pool:     pgStorage.Pool,
		listener: pgStorage.Listener,
		clock:    clock,
		opts:     opts,
		logger:   logger.With("component", "postgres_room_store"),
		watches:  make(map[string]map[*postgresWatch]struct{}),
	}
}

func (that *PostgresRoomStore) Create(ctx context.Context, roomID string, room *entity.Room) error {
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, that.pool, func(tx pgx.Tx) error {
		if err := that.insert(ctx, tx, roomID, data); err != nil {
			return err
		}

		return notifyRoom(ctx, tx, roomID)
	})

	switch {
	case errors.Is(err, errInsertConflict):
		return apperror.ErrRoomExists
	case err != nil:
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (that *PostgresRoomStore) Get(ctx context.Context, roomID string) (*entity.Room, error) {
	var data []byte

	err := that.pool.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1`, roomID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrRoomNotFound
		}

		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return decodeRoom(data)
}

// Update - the row lock serializes writers, a retry only happens when two
// callers race to create the same absent room.
func (that *PostgresRoomStore) Update(ctx context.Context, roomID string, fn UpdateFunc) (bool, *entity.Room, error) {
	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		var (
			committed bool
			result    *entity.Room
		)

		err := pgx.BeginFunc(ctx, that.pool, func(tx pgx.Tx) error {
			var (
				data    []byte
				current *entity.Room
			)

			err := tx.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&data)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
			case err != nil:
				return fmt.Errorf("failed to lock room: %w", err)
			default:
				if current, err = decodeRoom(data); err != nil {
					return err
				}
			}

			next, ok := fn(current.Clone())
			if !ok || next == nil {
				result = current
				return nil
			}

			encoded, err := encodeRoom(next)
			if err != nil {
				return err
			}

			if current == nil {
				err = that.insert(ctx, tx, roomID, encoded)
			} else {
				_, err = tx.Exec(ctx, `UPDATE rooms SET doc = $2, updated_at = $3 WHERE id = $1`,
					roomID, json.RawMessage(encoded), that.clock.Now())
			}
			if err != nil {
				return err
			}

			if err = notifyRoom(ctx, tx, roomID); err != nil {
				return err
			}

			committed, result = true, next.Clone()

			return nil
		})

		if errors.Is(err, errInsertConflict) {
			continue
		}

		if err != nil {
			return false, nil, fmt.Errorf("failed to update room: %w", err)
		}

		return committed, result, nil
	}

	return false, nil, ErrTooManyRetries
}

// Merge - jsonb concatenation, top-level keys of the patch replace the stored ones.
func (that *PostgresRoomStore) Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal room patch: %w", err)
	}

	err = pgx.BeginFunc(ctx, that.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rooms SET doc = doc || $2::jsonb, updated_at = $3 WHERE id = $1`,
			roomID, json.RawMessage(data), that.clock.Now())
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return apperror.ErrRoomNotFound
		}

		return notifyRoom(ctx, tx, roomID)
	})

	switch {
	case errors.Is(err, apperror.ErrRoomNotFound):
		return err
	case err != nil:
		return fmt.Errorf("failed to merge room: %w", err)
	}

	return nil
}

func (that *PostgresRoomStore) Remove(ctx context.Context, roomID string) error {
	if _, err := that.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to remove room: %w", err)
	}

	return nil
}

// PurgeExpired - deletes rooms whose last write is older than the TTL.
func (that *PostgresRoomStore) PurgeExpired(ctx context.Context) (int, error) {
	if that.opts.RoomTTL <= 0 {
		return 0, nil
	}

	cutoff := that.clock.Now().Add(-that.opts.RoomTTL)

	tag, err := that.pool.Exec(ctx, `DELETE FROM rooms WHERE updated_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rooms: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (that *PostgresRoomStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	if err := that.listen(); err != nil {
		return nil, err
	}

	watch := &postgresWatch{}
	watch.sub = newFeed(func() {
		that.mu.Lock()
		defer that.mu.Unlock()

		delete(that.watches[roomID], watch)
		if len(that.watches[roomID]) == 0 {
			delete(that.watches, roomID)
		}
	})

	that.mu.Lock()
	if that.watches[roomID] == nil {
		that.watches[roomID] = make(map[*postgresWatch]struct{})
	}
	that.watches[roomID][watch] = struct{}{}
	that.mu.Unlock()

	that.refresh(ctx, roomID, watch)

	go func() {
		select {
		case <-ctx.Done():
			watch.sub.Cancel()
		case <-watch.sub.done:
		}
	}()

	return watch.sub, nil
}

// Listen - dispatches room notifications until ctx is done.
// A nil notification means the connection was re-established and events may be lost,
// every watched room is re-read then.
func (that *PostgresRoomStore) Listen(ctx context.Context) error {
	log := that.logger.With("method", "Listen")

	if err := that.listen(); err != nil {
		return err
	}

	log.Info("listening for room notifications", "channel", roomsNotifyChannel)

	ticker := that.clock.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := that.listener.Unlisten(roomsNotifyChannel); err != nil {
				log.Warn("failed to unlisten", "error", err)
			}
			return nil
		case notification := <-that.listener.Notify:
			if notification == nil {
				that.refreshAll(ctx)
				continue
			}

			that.refreshRoom(ctx, notification.Extra)
		case <-ticker.Chan():
			if err := that.listener.Ping(); err != nil {
				log.Warn("listener ping failed", "error", err)
			}
		}
	}
}

// listen - blocks until the server confirmed the LISTEN, repeated calls are no-ops.
func (that *PostgresRoomStore) listen() error {
	if err := that.listener.Listen(roomsNotifyChannel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return fmt.Errorf("failed to listen to channel: %w", err)
	}

	return nil
}

func (that *PostgresRoomStore) refreshAll(ctx context.Context) {
	that.mu.Lock()
	roomIDs := make([]string, 0, len(that.watches))
	for roomID := range that.watches {
		roomIDs = append(roomIDs, roomID)
	}
	that.mu.Unlock()

	for _, roomID := range roomIDs {
		that.refreshRoom(ctx, roomID)
	}
}

func (that *PostgresRoomStore) refreshRoom(ctx context.Context, roomID string) {
	that.mu.Lock()
	watches := make([]*postgresWatch, 0, len(that.watches[roomID]))
	for watch := range that.watches[roomID] {
		watches = append(watches, watch)
	}
	that.mu.Unlock()

	for _, watch := range watches {
		that.refresh(ctx, roomID, watch)
	}
}

func (that *PostgresRoomStore) refresh(ctx context.Context, roomID string, watch *postgresWatch) {
	watch.mu.Lock()
	defer watch.mu.Unlock()

	room, err := that.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, apperror.ErrRoomNotFound) && ctx.Err() == nil {
			that.logger.Error("failed to read room", "room_id", roomID, "error", err)
		}
		return
	}

	watch.sub.push(room)
}

func (that *PostgresRoomStore) insert(ctx context.Context, tx pgx.Tx, roomID string, data []byte) error {
	tag, err := tx.Exec(ctx, `INSERT INTO rooms (id, doc, updated_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		roomID, json.RawMessage(data), that.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errInsertConflict
	}

	return nil
}

func notifyRoom(ctx context.Context, tx pgx.Tx, roomID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, roomsNotifyChannel, roomID); err != nil {
		return fmt.Errorf("failed to notify room change: %w", err)
	}

	return nil
}
