package apperror

import "errors"

var (
	ErrGameFinished  = errors.New("game is already finished")
	ErrNotYourTurn   = errors.New("it's not your turn")
	ErrCellOccupied  = errors.New("cell is already occupied")
	ErrInvalidCode   = errors.New("room code must be exactly 6 digits")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("room is full or already joined")
	ErrNoStore       = errors.New("room store is not available")
)

var ErrSessionClosed = errors.New("session is closed")

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidPayload = errors.New("invalid payload")
)
