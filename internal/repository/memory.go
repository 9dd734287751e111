package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
)

type memoryRecord struct {
	room    *entity.Room
	version uint64
	touched time.Time
}

// MemoryRoomStore - process-local store with the same semantics as the remote backends.
type MemoryRoomStore struct {
	clock clockwork.Clock
	opts  Options

	mu      sync.Mutex
	seq     uint64
	rooms   map[string]*memoryRecord
	watches map[string]map[*feed]struct{}
}

func NewMemoryRoomStore(clock clockwork.Clock, opts Options) *MemoryRoomStore {
	return &MemoryRoomStore{
		clock:   clock,
		opts:    opts,
		rooms:   make(map[string]*memoryRecord),
		watches: make(map[string]map[*feed]struct{}),
	}
}

func (that *MemoryRoomStore) Create(_ context.Context, roomID string, room *entity.Room) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.lookup(roomID) != nil {
		return apperror.ErrRoomExists
	}

	that.write(roomID, room)

	return nil
}

func (that *MemoryRoomStore) Get(_ context.Context, roomID string) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	record := that.lookup(roomID)
	if record == nil {
		return nil, apperror.ErrRoomNotFound
	}

	return record.room.Clone(), nil
}

func (that *MemoryRoomStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	var sub *feed
	sub = newFeed(func() {
		that.mu.Lock()
		defer that.mu.Unlock()

		delete(that.watches[roomID], sub)
		if len(that.watches[roomID]) == 0 {
			delete(that.watches, roomID)
		}
	})

	that.mu.Lock()
	if that.watches[roomID] == nil {
		that.watches[roomID] = make(map[*feed]struct{})
	}
	that.watches[roomID][sub] = struct{}{}

	if record := that.lookup(roomID); record != nil {
		sub.push(record.room.Clone())
	}
	that.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Update - fn runs outside the lock against a snapshot, the write only lands
// if no other write happened in between.
func (that *MemoryRoomStore) Update(ctx context.Context, roomID string, fn UpdateFunc) (bool, *entity.Room, error) {
	for attempt := 0; attempt < that.opts.retries(); attempt++ {
		if err := ctx.Err(); err != nil {
			return false, nil, fmt.Errorf("failed to update room: %w", err)
		}

		snapshot, version := that.snapshot(roomID)

		next, ok := fn(snapshot.Clone())
		if !ok || next == nil {
			return false, snapshot, nil
		}

		that.mu.Lock()
		_, current := that.versionOf(roomID)
		if current != version {
			that.mu.Unlock()
			continue
		}

		that.write(roomID, next)
		that.mu.Unlock()

		return true, next.Clone(), nil
	}

	return false, nil, ErrTooManyRetries
}

func (that *MemoryRoomStore) Merge(_ context.Context, roomID string, patch entity.RoomPatch) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	record := that.lookup(roomID)
	if record == nil {
		return apperror.ErrRoomNotFound
	}

	room := record.room.Clone()
	patch.ApplyTo(room)
	that.write(roomID, room)

	return nil
}

func (that *MemoryRoomStore) Remove(_ context.Context, roomID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.rooms, roomID)

	return nil
}

// PurgeExpired - drops every room idle for longer than the TTL.
func (that *MemoryRoomStore) PurgeExpired(_ context.Context) (int, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	purged := 0
	for roomID, record := range that.rooms {
		if that.expired(record) {
			delete(that.rooms, roomID)
			purged++
		}
	}

	return purged, nil
}

// Len - stored rooms, expired ones included until they are purged or read.
func (that *MemoryRoomStore) Len() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.rooms)
}

func (that *MemoryRoomStore) snapshot(roomID string) (*entity.Room, uint64) {
	that.mu.Lock()
	defer that.mu.Unlock()

	record, version := that.versionOf(roomID)
	if record == nil {
		return nil, version
	}

	return record.room.Clone(), version
}

// versionOf - 0 stands for an absent room, versions are never reused.
func (that *MemoryRoomStore) versionOf(roomID string) (*memoryRecord, uint64) {
	record := that.lookup(roomID)
	if record == nil {
		return nil, 0
	}

	return record, record.version
}

func (that *MemoryRoomStore) lookup(roomID string) *memoryRecord {
	record, ok := that.rooms[roomID]
	if !ok {
		return nil
	}

	if that.expired(record) {
		delete(that.rooms, roomID)
		return nil
	}

	return record
}

func (that *MemoryRoomStore) expired(record *memoryRecord) bool {
	return that.opts.RoomTTL > 0 && that.clock.Since(record.touched) >= that.opts.RoomTTL
}

// write - must hold mu. Subscribers see writes in the order they land.
func (that *MemoryRoomStore) write(roomID string, room *entity.Room) {
	that.seq++

	stored := room.Clone()
	stored.Normalize()

	that.rooms[roomID] = &memoryRecord{
		room:    stored,
		version: that.seq,
		touched: that.clock.Now(),
	}

	for sub := range that.watches[roomID] {
		sub.push(stored.Clone())
	}
}
