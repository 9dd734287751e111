package websocket

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/usecase"
)

func (that *Server) handleSelectMode(session GameSession, message *Message) error {
	var payload ModePayload
	if err := decodePayload(message, &payload); err != nil {
		return err
	}

	mode := entity.Mode(payload.Mode)
	if !mode.IsValid() {
		return fmt.Errorf("%w: unknown mode %q", apperror.ErrInvalidPayload, payload.Mode)
	}

	session.SelectMode(mode)

	return nil
}

func (that *Server) handleSelectOnlineMode(session GameSession, message *Message) error {
	var payload ModePayload
	if err := decodePayload(message, &payload); err != nil {
		return err
	}

	mode := usecase.OnlineMode(payload.Mode)
	if mode != usecase.OnlineCreate && mode != usecase.OnlineJoin {
		return fmt.Errorf("%w: unknown online mode %q", apperror.ErrInvalidPayload, payload.Mode)
	}

	session.SelectOnlineMode(mode)

	return nil
}

// handleJoinRoom - the code is checked by the session so the player sees the usual notice.
func (that *Server) handleJoinRoom(session GameSession, message *Message) error {
	var payload CodePayload
	if err := decodePayload(message, &payload); err != nil {
		return err
	}

	session.SubmitRoomCode(payload.Code)

	return nil
}

func (that *Server) handleSelectCell(session GameSession, message *Message) error {
	var payload CellPayload
	if err := decodePayload(message, &payload); err != nil {
		return err
	}

	if payload.Cell == nil || *payload.Cell < 0 || *payload.Cell >= entity.BoardSize {
		return fmt.Errorf("%w: cell must be between 0 and %d", apperror.ErrInvalidPayload, entity.BoardSize-1)
	}

	session.SelectCell(*payload.Cell)

	return nil
}

func (that *Server) handleRestart(session GameSession, _ *Message) error {
	session.Restart()
	return nil
}

func (that *Server) handleBack(session GameSession, _ *Message) error {
	session.Back()
	return nil
}
