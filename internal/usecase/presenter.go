package usecase

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/tictactoe"
)

type Screen string

const (
	ScreenMainMenu      Screen = "main-menu"
	ScreenOnlineMenu    Screen = "online-menu"
	ScreenCreateDisplay Screen = "create-display"
	ScreenJoinDisplay   Screen = "join-display"
	ScreenGameArea      Screen = "game-area"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	noticeRoomCreated     = "Room created: %s"
	noticeRoomLocal       = "Room ready (local). Database not available."
	noticeCreateFailed    = "Failed to create room on server; room shown locally."
	noticeOpponentJoined  = "Opponent Joined!"
	noticeInvalidCode     = "Invalid Code"
	noticeRoomNotFound    = "Room not found"
	noticeRoomFull        = "Room is full"
	noticeAlreadyJoined   = "Room is full or already joined"
	noticeJoined          = "Joined room %s"
	noticeJoinFailed      = "Failed to join room"
	noticeMoveFailed      = "Failed to send move"
	noticeSyncFailed      = "Lost connection to the room"
	noticeRestartFailed   = "Failed to restart the game"
	noticeScoreSyncFailed = "Failed to update the score"
)

// Presenter - everything the session shows to the player.
// All calls come from the session loop goroutine.
type Presenter interface {
	RenderBoard(board entity.Board, winningLine []int)
	SetTurnLabel(text string)
	SetScore(score entity.Score)
	ShowNotice(message string, severity Severity)
	// ShowScreen - showing one screen hides the others.
	ShowScreen(screen Screen)
	SetModeLabel(label string)
	ShowRoomCode(code string)
}

// turnLabel - text above the board for the current state.
func turnLabel(state entity.GameState) string {
	winner := tictactoe.Winner(state.Board)

	if state.IsOnline() {
		switch {
		case winner != entity.EmptyCell && winner == state.MySymbol:
			return "You Won!"
		case winner != entity.EmptyCell:
			return "You Lost!"
		case tictactoe.Full(state.Board):
			return "Draw!"
		case state.MyTurn:
			return fmt.Sprintf("Your Turn (%s)", state.MySymbol)
		default:
			return "Opponent's Turn"
		}
	}

	switch {
	case winner != entity.EmptyCell:
		return fmt.Sprintf("%s Wins!", winner)
	case tictactoe.Full(state.Board):
		return "Draw!"
	default:
		return fmt.Sprintf("Turn: %s", state.CurrentPlayer)
	}
}
