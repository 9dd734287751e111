package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
)

var ErrTooManyRetries = errors.New("room update kept conflicting")

const (
	defaultRoomTTL          = 24 * time.Hour
	defaultMaxUpdateRetries = 16
)

// UpdateFunc - receives a private copy of the current room (nil when absent) and
// returns the room to store. Returning false, or a nil room, aborts without writing.
type UpdateFunc func(current *entity.Room) (*entity.Room, bool)

// Subscription - stream of full room snapshots in store order.
// The current room is delivered first. Cancel is idempotent and closes Updates.
type Subscription interface {
	Updates() <-chan *entity.Room
	Cancel()
}

// RoomStore - shared rooms/{id} documents the online sessions synchronize through.
type RoomStore interface {
	// Create - stores a new room, apperror.ErrRoomExists if the id is taken.
	Create(ctx context.Context, roomID string, room *entity.Room) error
	// Get - point-in-time read, apperror.ErrRoomNotFound if absent.
	Get(ctx context.Context, roomID string) (*entity.Room, error)
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
	// Update - compare-and-swap of the whole room, fn is retried against the latest value.
	// The returned room is the stored value after the call, committed or not.
	Update(ctx context.Context, roomID string, fn UpdateFunc) (bool, *entity.Room, error)
	// Merge - last-writer-wins partial write, apperror.ErrRoomNotFound if absent.
	Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error
	Remove(ctx context.Context, roomID string) error
}

// Purger - stores without native expiry drop idle rooms on demand.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Options struct {
	// RoomTTL - idle time after the last write before a room is dropped, 0 keeps rooms forever.
	RoomTTL          time.Duration
	MaxUpdateRetries int
}

func DefaultOptions() Options {
	return Options{
		RoomTTL:          defaultRoomTTL,
		MaxUpdateRetries: defaultMaxUpdateRetries,
	}
}

func (that Options) retries() int {
	if that.MaxUpdateRetries <= 0 {
		return defaultMaxUpdateRetries
	}

	return that.MaxUpdateRetries
}

func encodeRoom(room *entity.Room) ([]byte, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room: %w", err)
	}

	return data, nil
}

func decodeRoom(data []byte) (*entity.Room, error) {
	var room entity.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	room.Normalize()

	return &room, nil
}
