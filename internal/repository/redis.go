package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository/storage"
)

const (
	roomKeyPrefix    = "rooms:"
	roomEventsSuffix = ":events"
	roomChangedEvent = "changed"
)

const (
	fieldBoard         = "board"
	fieldCurrentPlayer = "currentPlayer"
	fieldGameOver      = "gameOver"
	fieldScore         = "score"
	fieldPlayers       = "players"
)

// hashReader - both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisRoomStore - one hash per room, every field holds a JSON value.
// Each write publishes on the room's events channel and refreshes the TTL.
type RedisRoomStore struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

func NewRedisRoomStore(logger *slog.Logger, redisStorage *storage.RedisStorage, opts Options) *RedisRoomStore {
	return &RedisRoomStore{
		client: redisStorage.Connection,
		opts:   opts,
		logger: logger.With("component", "redis_room_store"),
	}
}

func roomKey(roomID string) string {
	return roomKeyPrefix + roomID
}

func roomEventsChannel(roomID string) string {
	return roomKeyPrefix + roomID + roomEventsSuffix
}

func (that *RedisRoomStore) Create(ctx context.Context, roomID string, room *entity.Room) error {
	fields, err := roomFields(room)
	if err != nil {
		return err
	}

	key := roomKey(roomID)

	err = that.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check room: %w", err)
		}

		if exists > 0 {
			return apperror.ErrRoomExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			that.touch(ctx, pipe, roomID)
			return nil
		})

		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return apperror.ErrRoomExists
	case errors.Is(err, apperror.ErrRoomExists):
		return err
	case err != nil:
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (that *RedisRoomStore) Get(ctx context.Context, roomID string) (*entity.Room, error) {
	return that.read(ctx, that.client, roomID)
}

func (that *RedisRoomStore) Update(ctx context.Context, roomID string, fn UpdateFunc) (bool, *entity.Room, error) {
	key := roomKey(roomID)

	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		var (
			committed bool
			result    *entity.Room
		)

		err := that.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := that.read(ctx, tx, roomID)
			if err != nil && !errors.Is(err, apperror.ErrRoomNotFound) {
				return err
			}

			next, ok := fn(current.Clone())
			if !ok || next == nil {
				result = current
				return nil
			}

			fields, err := roomFields(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				that.touch(ctx, pipe, roomID)
				return nil
			})
			if err != nil {
				return err
			}

			committed, result = true, next.Clone()

			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return false, nil, fmt.Errorf("failed to update room: %w", err)
		}

		return committed, result, nil
	}

	return false, nil, ErrTooManyRetries
}

// Merge - last-writer-wins HSET of the patched fields.
// The key is watched so a room removed meanwhile is not brought back as a partial hash.
func (that *RedisRoomStore) Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error {
	fields, err := patchFields(patch)
	if err != nil {
		return err
	}

	key := roomKey(roomID)

	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		err = that.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("failed to check room: %w", err)
			}

			if exists == 0 {
				return apperror.ErrRoomNotFound
			}

			if len(fields) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				that.touch(ctx, pipe, roomID)
				return nil
			})

			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if errors.Is(err, apperror.ErrRoomNotFound) {
			return err
		}

		if err != nil {
			return fmt.Errorf("failed to merge room: %w", err)
		}

		return nil
	}

	return ErrTooManyRetries
}

func (that *RedisRoomStore) Remove(ctx context.Context, roomID string) error {
	if err := that.client.Del(ctx, roomKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to remove room: %w", err)
	}

	return nil
}

// Subscribe - listens on the room's events channel and re-reads the hash for every event.
// Writes that land between two reads coalesce, the subscriber sees the latest state,
// possibly more than once, but every state it sees is newer or equal to the last one.
func (that *RedisRoomStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	log := that.logger.With("method", "Subscribe", "room_id", roomID)

	pubsub := that.client.Subscribe(ctx, roomEventsChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newFeed(func() {
		cancel()

		if err := pubsub.Close(); err != nil {
			log.Warn("failed to close room subscription", "error", err)
		}
	})

	go func() {
		defer sub.Cancel()

		events := pubsub.Channel()

		that.deliver(subCtx, log, roomID, sub)

		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}

				that.deliver(subCtx, log, roomID, sub)
			}
		}
	}()

	return sub, nil
}

func (that *RedisRoomStore) deliver(ctx context.Context, log *slog.Logger, roomID string, sub *feed) {
	room, err := that.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, apperror.ErrRoomNotFound) && ctx.Err() == nil {
			log.Error("failed to read room", "error", err)
		}
		return
	}

	sub.push(room)
}

func (that *RedisRoomStore) touch(ctx context.Context, pipe redis.Pipeliner, roomID string) {
	if that.opts.RoomTTL > 0 {
		pipe.Expire(ctx, roomKey(roomID), that.opts.RoomTTL)
	}

	pipe.Publish(ctx, roomEventsChannel(roomID), roomChangedEvent)
}

func (that *RedisRoomStore) read(ctx context.Context, reader hashReader, roomID string) (*entity.Room, error) {
	fields, err := reader.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	if len(fields) == 0 {
		return nil, apperror.ErrRoomNotFound
	}

	return roomFromFields(fields)
}

func roomFields(room *entity.Room) (map[string]any, error) {
	players := room.Players
	if players == nil {
		players = []entity.Mark{}
	}

	return encodeFields(map[string]any{
		fieldBoard:         room.Board,
		fieldCurrentPlayer: room.CurrentPlayer,
		fieldGameOver:      room.GameOver,
		fieldScore:         room.Score,
		fieldPlayers:       players,
	})
}

func patchFields(patch entity.RoomPatch) (map[string]any, error) {
	values := make(map[string]any, 3)

	if patch.Board != nil {
		values[fieldBoard] = *patch.Board
	}

	if patch.CurrentPlayer != nil {
		values[fieldCurrentPlayer] = *patch.CurrentPlayer
	}

	if patch.GameOver != nil {
		values[fieldGameOver] = *patch.GameOver
	}

	return encodeFields(values)
}

func encodeFields(values map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(values))

	for name, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal room field %s: %w", name, err)
		}

		fields[name] = string(data)
	}

	return fields, nil
}

// roomFromFields - rebuilds the document from the hash, missing fields keep their defaults.
func roomFromFields(fields map[string]string) (*entity.Room, error) {
	document := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		document[name] = json.RawMessage(value)
	}

	data, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room fields: %w", err)
	}

	return decodeRoom(data)
}
