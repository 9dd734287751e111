package usecase

import (
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/tictactoe"
)

// playLocal - applies a move for the side to play, used by both local modes and the opponent.
func (that *Session) playLocal(cell int) {
	if err := that.state.Board.Place(that.state.CurrentPlayer, cell); err != nil {
		return
	}

	if winner := tictactoe.Winner(that.state.Board); winner != entity.EmptyCell {
		that.state.GameOver = true
		that.state.Score.Add(winner)
	} else if tictactoe.IsDraw(that.state.Board) {
		that.state.GameOver = true
	} else {
		that.state.CurrentPlayer = that.state.CurrentPlayer.Opponent()
	}

	if that.state.GameOver {
		that.phase = PhaseGameOver
	}

	that.render()

	if that.state.Mode == entity.ModeVsOpponent && !that.state.GameOver && that.state.CurrentPlayer == entity.PlayerO {
		that.schedule(that.conf.OpponentDelay, that.playOpponent)
	}
}

func (that *Session) playOpponent() {
	if that.phase != PhaseInGame || that.state.Mode != entity.ModeVsOpponent {
		return
	}

	if that.state.GameOver || that.state.CurrentPlayer != entity.PlayerO {
		return
	}

	cell, err := that.bot.BestMove(that.state.Board)
	if err != nil {
		that.logger.Error("opponent has no move", "method", "playOpponent", "error", err)
		return
	}

	if !that.state.Board.IsEmptyCell(cell) {
		return
	}

	that.playLocal(cell)
}
