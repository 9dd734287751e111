package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
)

const waitUpdate = 5 * time.Second

func joinAsGuest(current *entity.Room) (*entity.Room, bool) {
	if current == nil || current.HasPlayer(entity.PlayerO) || current.IsFull() {
		return nil, false
	}

	current.Players = append(current.Players, entity.PlayerO)

	return current, true
}

func finishRound(winner entity.Mark) UpdateFunc {
	return func(current *entity.Room) (*entity.Room, bool) {
		if current == nil || current.GameOver {
			return nil, false
		}

		current.Score.Add(winner)
		current.GameOver = true

		return current, true
	}
}

func nextUpdate(t *testing.T, sub Subscription) *entity.Room {
	t.Helper()

	select {
	case room, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return room
	case <-time.After(waitUpdate):
		t.Fatal("no update received")
		return nil
	}
}

func moves(room *entity.Room) int {
	return entity.BoardSize - len(room.Board.EmptyCells())
}

// testRoomStore - behaviour every backend shares.
func testRoomStore(ctx context.Context, t *testing.T, store RoomStore) {
	t.Run("Create and read a room", func(t *testing.T) {
		// Given: a fresh room
		room := entity.NewRoom(entity.PlayerX)

		// When: it is created
		require.NoError(t, store.Create(ctx, "100001", room))

		// Then: it reads back unchanged
		got, err := store.Get(ctx, "100001")
		require.NoError(t, err)
		assert.Equal(t, room, got)
	})

	t.Run("Create refuses a taken id", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, "100002", entity.NewRoom(entity.PlayerX)))

		err := store.Create(ctx, "100002", entity.NewRoom(entity.PlayerX))

		assert.ErrorIs(t, err, apperror.ErrRoomExists)
	})

	t.Run("Get of a missing room", func(t *testing.T) {
		_, err := store.Get(ctx, "199999")

		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})

	t.Run("Merge writes only the given fields", func(t *testing.T) {
		// Given: a full room with a score
		room := entity.NewRoom(entity.PlayerX)
		room.Players = append(room.Players, entity.PlayerO)
		room.Score = entity.Score{X: 2, O: 1}
		require.NoError(t, store.Create(ctx, "100003", room))

		// When: a move is merged
		board := entity.Board{entity.PlayerX}
		require.NoError(t, store.Merge(ctx, "100003", entity.MovePatch(board, entity.PlayerO)))

		// Then: score and players are untouched
		got, err := store.Get(ctx, "100003")
		require.NoError(t, err)
		assert.Equal(t, board, got.Board)
		assert.Equal(t, entity.PlayerO, got.CurrentPlayer)
		assert.Equal(t, entity.Score{X: 2, O: 1}, got.Score)
		assert.Equal(t, []entity.Mark{entity.PlayerX, entity.PlayerO}, got.Players)
	})

	t.Run("Merge into a missing room", func(t *testing.T) {
		err := store.Merge(ctx, "199998", entity.RestartPatch())

		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})

	t.Run("Update aborts on a missing room", func(t *testing.T) {
		var seen *entity.Room
		called := false

		committed, result, err := store.Update(ctx, "199997", func(current *entity.Room) (*entity.Room, bool) {
			called = true
			seen = current
			return joinAsGuest(current)
		})

		require.NoError(t, err)
		assert.True(t, called)
		assert.Nil(t, seen)
		assert.False(t, committed)
		assert.Nil(t, result)
	})

	t.Run("Second join is a no-op", func(t *testing.T) {
		// Given: a room with the host only
		require.NoError(t, store.Create(ctx, "100004", entity.NewRoom(entity.PlayerX)))

		// When: the guest joins twice
		committed, result, err := store.Update(ctx, "100004", joinAsGuest)
		require.NoError(t, err)
		require.True(t, committed)
		assert.Equal(t, []entity.Mark{entity.PlayerX, entity.PlayerO}, result.Players)

		committed, result, err = store.Update(ctx, "100004", joinAsGuest)

		// Then: the second call commits nothing and reports the stored room
		require.NoError(t, err)
		assert.False(t, committed)
		assert.Equal(t, []entity.Mark{entity.PlayerX, entity.PlayerO}, result.Players)
	})

	t.Run("Concurrent joins admit exactly one guest", func(t *testing.T) {
		// Given: a room with the host only
		require.NoError(t, store.Create(ctx, "100005", entity.NewRoom(entity.PlayerX)))

		// When: several guests join at the same time
		const guests = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			commits int
		)

		for i := 0; i < guests; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				committed, _, err := store.Update(ctx, "100005", joinAsGuest)
				assert.NoError(t, err)

				if committed {
					mu.Lock()
					commits++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// Then: one commit, two players
		assert.Equal(t, 1, commits)

		got, err := store.Get(ctx, "100005")
		require.NoError(t, err)
		assert.Equal(t, []entity.Mark{entity.PlayerX, entity.PlayerO}, got.Players)
	})

	t.Run("Concurrent round ends count one win", func(t *testing.T) {
		// Given: a room where X just completed a line
		room := entity.NewRoom(entity.PlayerX)
		room.Players = append(room.Players, entity.PlayerO)
		room.Board = entity.Board{entity.PlayerX, entity.PlayerX, entity.PlayerX, entity.PlayerO, entity.PlayerO}
		require.NoError(t, store.Create(ctx, "100006", room))

		// When: both clients detect the win at once
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			commits int
		)

		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				committed, result, err := store.Update(ctx, "100006", finishRound(entity.PlayerX))
				assert.NoError(t, err)
				assert.Equal(t, 1, result.Score.X)

				if committed {
					mu.Lock()
					commits++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// Then: the score went up once
		assert.Equal(t, 1, commits)

		got, err := store.Get(ctx, "100006")
		require.NoError(t, err)
		assert.True(t, got.GameOver)
		assert.Equal(t, entity.Score{X: 1}, got.Score)
	})

	t.Run("Subscribe delivers the current room and later changes", func(t *testing.T) {
		// Given: an existing room
		require.NoError(t, store.Create(ctx, "100007", entity.NewRoom(entity.PlayerX)))

		// When: subscribing
		sub, err := store.Subscribe(ctx, "100007")
		require.NoError(t, err)
		defer sub.Cancel()

		// Then: the current value arrives first
		first := nextUpdate(t, sub)
		assert.Equal(t, []entity.Mark{entity.PlayerX}, first.Players)

		// When: the guest joins and three moves follow
		_, _, err = store.Update(ctx, "100007", joinAsGuest)
		require.NoError(t, err)

		board := entity.Board{}
		next := entity.PlayerX
		for _, cell := range []int{4, 0, 8} {
			board[cell] = next
			next = next.Opponent()
			require.NoError(t, store.Merge(ctx, "100007", entity.MovePatch(board, next)))
		}

		// Then: snapshots never go back and the last one is the stored room
		last := first
		for moves(last) < 3 {
			room := nextUpdate(t, sub)
			assert.GreaterOrEqual(t, moves(room), moves(last))
			last = room
		}
		assert.Equal(t, board, last.Board)
		assert.Equal(t, entity.PlayerO, last.CurrentPlayer)
		assert.Equal(t, []entity.Mark{entity.PlayerX, entity.PlayerO}, last.Players)
	})

	t.Run("Subscribe before the room exists", func(t *testing.T) {
		sub, err := store.Subscribe(ctx, "100008")
		require.NoError(t, err)
		defer sub.Cancel()

		require.NoError(t, store.Create(ctx, "100008", entity.NewRoom(entity.PlayerX)))

		room := nextUpdate(t, sub)
		assert.Equal(t, entity.PlayerX, room.CurrentPlayer)
	})

	t.Run("Cancel closes the channel", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, "100009", entity.NewRoom(entity.PlayerX)))

		sub, err := store.Subscribe(ctx, "100009")
		require.NoError(t, err)

		sub.Cancel()
		sub.Cancel()

		closed := make(chan struct{})
		go func() {
			for range sub.Updates() {
			}
			close(closed)
		}()

		select {
		case <-closed:
		case <-time.After(waitUpdate):
			t.Fatal("updates channel was not closed")
		}
	})

	t.Run("Remove deletes the room", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, "100010", entity.NewRoom(entity.PlayerX)))

		require.NoError(t, store.Remove(ctx, "100010"))
		require.NoError(t, store.Remove(ctx, "100010"))

		_, err := store.Get(ctx, "100010")
		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)

		// the id is free again
		assert.NoError(t, store.Create(ctx, "100010", entity.NewRoom(entity.PlayerX)))
	})

	t.Run("Merge racing Remove does not bring the room back", func(t *testing.T) {
		// Given: a room two players keep writing moves to
		require.NoError(t, store.Create(ctx, "100011", entity.NewRoom(entity.PlayerX)))

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, 64)

		for player := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start

				next := entity.PlayerO
				if player == 1 {
					next = entity.PlayerX
				}

				for cell := range entity.BoardSize {
					var board entity.Board
					board[cell] = entity.PlayerX
					errs <- store.Merge(ctx, "100011", entity.MovePatch(board, next))
				}
			}()
		}

		// When: the host removes the room while the merges are in flight
		close(start)
		require.NoError(t, store.Remove(ctx, "100011"))
		wg.Wait()
		close(errs)

		// Then: merges either landed before the removal or were refused
		for err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
			}
		}

		// And: the room stays gone
		_, err := store.Get(ctx, "100011")
		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.ErrorIs(t, store.Merge(ctx, "100011", entity.RestartPatch()), apperror.ErrRoomNotFound)
	})
}
