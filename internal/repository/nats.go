package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
)

// NATSRoomStore - rooms as JSON values in a JetStream key-value bucket keyed by room id.
// The revision of an entry is the compare-and-swap token.
type NATSRoomStore struct {
	kv     jetstream.KeyValue
	opts   Options
	logger *slog.Logger
}

func NewNATSRoomStore(logger *slog.Logger, kv jetstream.KeyValue, opts Options) *NATSRoomStore {
	return &NATSRoomStore{
		kv:     kv,
		opts:   opts,
		logger: logger.With("component", "nats_room_store"),
	}
}

func (that *NATSRoomStore) Create(ctx context.Context, roomID string, room *entity.Room) error {
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}

	if _, err = that.kv.Create(ctx, roomID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return apperror.ErrRoomExists
		}

		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (that *NATSRoomStore) Get(ctx context.Context, roomID string) (*entity.Room, error) {
	room, _, err := that.get(ctx, roomID)

	return room, err
}

func (that *NATSRoomStore) Update(ctx context.Context, roomID string, fn UpdateFunc) (bool, *entity.Room, error) {
	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		current, revision, err := that.get(ctx, roomID)
		if err != nil && !errors.Is(err, apperror.ErrRoomNotFound) {
			return false, nil, fmt.Errorf("failed to update room: %w", err)
		}

		next, ok := fn(current.Clone())
		if !ok || next == nil {
			return false, current, nil
		}

		data, err := encodeRoom(next)
		if err != nil {
			return false, nil, err
		}

		if current == nil {
			_, err = that.kv.Create(ctx, roomID, data)
		} else {
			_, err = that.kv.Update(ctx, roomID, data, revision)
		}

		if isRevisionConflict(err) {
			continue
		}

		if err != nil {
			return false, nil, fmt.Errorf("failed to update room: %w", err)
		}

		return true, next.Clone(), nil
	}

	return false, nil, ErrTooManyRetries
}

// Merge - read, patch and write back at the read revision. A conflicting write is
// retried on top of it, so the last merge still wins, but a deleted key stays deleted.
func (that *NATSRoomStore) Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error {
	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		room, revision, err := that.get(ctx, roomID)
		if err != nil {
			return err
		}

		patch.ApplyTo(room)

		data, err := encodeRoom(room)
		if err != nil {
			return err
		}

		_, err = that.kv.Update(ctx, roomID, data, revision)
		if isRevisionConflict(err) {
			continue
		}

		if err != nil {
			return fmt.Errorf("failed to merge room: %w", err)
		}

		return nil
	}

	return ErrTooManyRetries
}

func (that *NATSRoomStore) Remove(ctx context.Context, roomID string) error {
	if err := that.kv.Delete(ctx, roomID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove room: %w", err)
	}

	return nil
}

// Subscribe - the watcher replays the latest value first, then every put in revision order.
func (that *NATSRoomStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	log := that.logger.With("method", "Subscribe", "room_id", roomID)

	subCtx, cancel := context.WithCancel(ctx)

	watcher, err := that.kv.Watch(subCtx, roomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch room: %w", err)
	}

	sub := newFeed(func() {
		cancel()

		if err := watcher.Stop(); err != nil {
			log.Warn("failed to stop room watcher", "error", err)
		}
	})

	go func() {
		defer sub.Cancel()

		for {
			select {
			case <-subCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}

				// nil marks the end of the initial values
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}

				room, err := decodeRoom(entry.Value())
				if err != nil {
					log.Error("failed to decode room", "error", err)
					continue
				}

				sub.push(room)
			}
		}
	}()

	return sub, nil
}

func (that *NATSRoomStore) get(ctx context.Context, roomID string) (*entity.Room, uint64, error) {
	entry, err := that.kv.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, apperror.ErrRoomNotFound
		}

		return nil, 0, fmt.Errorf("failed to get room: %w", err)
	}

	room, err := decodeRoom(entry.Value())
	if err != nil {
		return nil, 0, err
	}

	return room, entry.Revision(), nil
}

// isRevisionConflict - another writer got in between the read and the write.
func isRevisionConflict(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
