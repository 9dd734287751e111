package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/pkg/roomcode"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository"
	"github.com/rocketscienceinc/tictactoe-online/internal/tictactoe"
)

// seatError - why O cannot take a seat in the room, nil if it can.
func seatError(room *entity.Room) error {
	switch {
	case room == nil:
		return apperror.ErrRoomNotFound
	case room.IsFull():
		return apperror.ErrRoomFull
	case room.HasPlayer(entity.PlayerO):
		return apperror.ErrAlreadyJoined
	default:
		return nil
	}
}

// joinAsGuest - seats O unless the room vanished, O is already seated or both seats are taken.
func joinAsGuest(current *entity.Room) (*entity.Room, bool) {
	if seatError(current) != nil {
		return nil, false
	}

	current.Players = append(current.Players, entity.PlayerO)

	return current, true
}

// finishRound - counts the round once, whichever client gets there first.
// A draw only marks the round as over. The stored board must still show the
// same result, a round restarted meanwhile is left alone.
func finishRound(winner entity.Mark) repository.UpdateFunc {
	return func(current *entity.Room) (*entity.Room, bool) {
		if current == nil || current.GameOver || !showsResult(current.Board, winner) {
			return nil, false
		}

		current.Score.Add(winner)
		current.GameOver = true

		return current, true
	}
}

func showsResult(board entity.Board, winner entity.Mark) bool {
	if winner == entity.EmptyCell {
		return tictactoe.IsDraw(board)
	}

	return tictactoe.Winner(board) == winner
}

func (that *Session) hostRoom() {
	log := that.logger.With("method", "hostRoom")

	code, err := that.newCode()
	if err != nil {
		log.Error("failed to generate room code", "error", err)
		that.presenter.ShowNotice(noticeCreateFailed, SeverityError)
		return
	}

	that.state.RoomID = code
	that.state.MySymbol = entity.PlayerX
	that.phase = PhaseHosting
	that.show(ScreenCreateDisplay)
	that.presenter.ShowRoomCode(code)

	if that.store == nil {
		that.presenter.ShowNotice(noticeRoomLocal, SeverityWarning)
		return
	}

	room := entity.NewRoom(entity.PlayerX)

	that.asyncWithCleanup("Create", func(ctx context.Context) (func(), func()) {
		err := that.store.Create(ctx, code, room)

		// the host left before the room was up
		discard := func() {
			if err == nil {
				that.removeRoom(code)
			}
		}

		return func() {
			if err != nil {
				log.Warn("failed to create room", "room_id", code, "error", err)
				that.presenter.ShowNotice(noticeCreateFailed, SeverityWarning)
				return
			}

			that.roomCreated = true
			that.presenter.ShowNotice(fmt.Sprintf(noticeRoomCreated, code), SeveritySuccess)
			that.subscribe(code, that.onLobbyUpdate)
		}, discard
	})
}

func (that *Session) onLobbyUpdate(room *entity.Room) {
	if that.phase != PhaseHosting || that.opponentJoined || !room.HasPlayer(entity.PlayerO) {
		return
	}

	that.opponentJoined = true
	that.presenter.ShowNotice(noticeOpponentJoined, SeveritySuccess)
	that.schedule(that.conf.StartDelay, that.startOnlineGame)
}

// startOnlineGame - the host enters the game with the first snapshot of the move subscription.
func (that *Session) startOnlineGame() {
	that.cancelSubscription()
	that.subscribe(that.state.RoomID, that.onGameUpdate)
}

func (that *Session) joinRoom(code string) {
	log := that.logger.With("method", "joinRoom", "room_id", code)

	if err := roomcode.Validate(code); err != nil {
		that.presenter.ShowNotice(noticeInvalidCode, SeverityError)
		return
	}

	if that.store == nil {
		log.Warn("cannot join without a room store", "error", apperror.ErrNoStore)
		that.presenter.ShowNotice(noticeJoinFailed, SeverityError)
		return
	}

	if that.joining {
		return
	}
	that.joining = true

	that.async("Get", func(ctx context.Context) func() {
		room, err := that.store.Get(ctx, code)

		return func() {
			switch {
			case errors.Is(err, apperror.ErrRoomNotFound):
				that.joining = false
				that.presenter.ShowNotice(noticeRoomNotFound, SeverityError)
			case err != nil:
				that.joining = false
				log.Error("failed to read room", "error", err)
				that.presenter.ShowNotice(noticeJoinFailed, SeverityError)
			default:
				that.admit(code, room)
			}
		}
	})
}

func (that *Session) admit(code string, room *entity.Room) {
	err := seatError(room)

	switch {
	case err == nil:
		that.claimSeat(code)
		return
	case errors.Is(err, apperror.ErrAlreadyJoined):
		that.presenter.ShowNotice(noticeAlreadyJoined, SeverityWarning)
	default:
		that.presenter.ShowNotice(noticeRoomFull, SeverityWarning)
	}

	that.joining = false
	that.logger.Info("seat refused", "method", "admit", "room_id", code, "error", err)
}

func (that *Session) claimSeat(code string) {
	log := that.logger.With("method", "claimSeat", "room_id", code)

	that.async("Update", func(ctx context.Context) func() {
		committed, room, err := that.store.Update(ctx, code, joinAsGuest)

		return func() {
			that.joining = false

			switch {
			case err != nil:
				log.Error("failed to join room", "error", err)
				that.presenter.ShowNotice(noticeJoinFailed, SeverityError)
			case !committed:
				log.Info("seat taken meanwhile", "error", seatError(room))
				that.presenter.ShowNotice(noticeAlreadyJoined, SeverityWarning)
			default:
				that.state.RoomID = code
				that.state.MySymbol = entity.PlayerO
				that.state.ApplyRoom(room)
				that.phase = PhaseInGame
				that.presenter.ShowNotice(fmt.Sprintf(noticeJoined, code), SeveritySuccess)
				that.show(ScreenGameArea)
				that.render()
				that.subscribe(code, that.onGameUpdate)
			}
		}
	})
}

// subscribe - replaces the current room subscription, handler runs on the loop
// for every snapshot in store order.
func (that *Session) subscribe(roomID string, handler func(room *entity.Room)) {
	log := that.logger.With("method", "subscribe", "room_id", roomID)
	epoch := that.epoch
	ctx := that.ctx

	go func() {
		sub, err := that.store.Subscribe(ctx, roomID)

		attached := that.post(func() {
			if epoch != that.epoch {
				if sub != nil {
					sub.Cancel()
				}
				return
			}

			if err != nil {
				log.Error("failed to subscribe to room", "error", err)
				that.presenter.ShowNotice(noticeSyncFailed, SeverityError)
				return
			}

			that.cancelSubscription()
			that.sub = sub

			go that.forward(epoch, sub, handler)
		})

		if !attached && sub != nil {
			sub.Cancel()
		}
	}()
}

func (that *Session) forward(epoch uint64, sub repository.Subscription, handler func(room *entity.Room)) {
	for room := range sub.Updates() {
		delivered := that.post(func() {
			if epoch == that.epoch && that.sub == sub {
				handler(room)
			}
		})

		if !delivered {
			sub.Cancel()
			return
		}
	}
}

// onGameUpdate - the room is the source of truth, the local state is overwritten with it.
func (that *Session) onGameUpdate(room *entity.Room) {
	switch that.phase {
	case PhaseHosting:
		if !that.opponentJoined {
			return
		}
		that.show(ScreenGameArea)
	case PhaseInGame, PhaseGameOver:
	default:
		return
	}

	that.state.ApplyRoom(room)

	if room.GameOver {
		that.phase = PhaseGameOver
	} else {
		that.phase = PhaseInGame
	}

	that.render()

	if room.GameOver {
		return
	}

	if tictactoe.Winner(room.Board) != entity.EmptyCell || tictactoe.IsDraw(room.Board) {
		that.finishOnlineRound()
	}
}

func (that *Session) finishOnlineRound() {
	if that.finishing {
		return
	}
	that.finishing = true

	log := that.logger.With("method", "finishOnlineRound", "room_id", that.state.RoomID)
	roomID := that.state.RoomID
	winner := tictactoe.Winner(that.state.Board)

	that.async("Update", func(ctx context.Context) func() {
		committed, room, err := that.store.Update(ctx, roomID, finishRound(winner))

		return func() {
			that.finishing = false

			if err != nil {
				log.Error("failed to finish round", "error", err)
				that.presenter.ShowNotice(noticeScoreSyncFailed, SeverityError)
				return
			}

			if room == nil {
				return
			}

			log.Debug("round finished", "committed", committed, "score", room.Score)
			that.state.Score = room.Score
			that.presenter.SetScore(that.state.Score)
		}
	})
}

// playOnline - shows the move at once and sends it, a failed write takes it back.
func (that *Session) playOnline(cell int) {
	log := that.logger.With("method", "playOnline", "room_id", that.state.RoomID)

	previous := that.state
	board := that.state.Board

	if err := board.Place(that.state.MySymbol, cell); err != nil {
		return
	}

	next := that.state.MySymbol.Opponent()
	roomID := that.state.RoomID

	that.state.Board = board
	that.state.CurrentPlayer = next
	that.state.MyTurn = false
	that.render()

	that.async("Merge", func(ctx context.Context) func() {
		err := that.store.Merge(ctx, roomID, entity.MovePatch(board, next))

		return func() {
			if err == nil {
				return
			}

			log.Error("failed to send move", "cell", cell, "error", err)

			if that.state.Board == board {
				that.state.Board = previous.Board
				that.state.CurrentPlayer = previous.CurrentPlayer
				that.state.MyTurn = previous.MyTurn
				that.render()
			}

			that.presenter.ShowNotice(noticeMoveFailed, SeverityError)
		}
	})
}

func (that *Session) restartOnline() {
	if that.store == nil {
		return
	}

	log := that.logger.With("method", "restartOnline", "room_id", that.state.RoomID)
	roomID := that.state.RoomID

	that.async("Merge", func(ctx context.Context) func() {
		err := that.store.Merge(ctx, roomID, entity.RestartPatch())

		return func() {
			if err != nil {
				log.Error("failed to restart round", "error", err)
				that.presenter.ShowNotice(noticeRestartFailed, SeverityError)
			}
		}
	})
}
