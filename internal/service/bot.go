package service

import (
	"errors"

	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/tictactoe"
)

var ErrNoAvailableMoves = errors.New("no available moves")

const winScore = 10

type BotService interface {
	BestMove(board entity.Board) (int, error)
}

// botService - plays O with a full minimax search, no pruning is needed on a 3x3 board.
type botService struct{}

func NewBotService() BotService {
	return &botService{}
}

// BestMove - the cell O should take. Equal scores keep the lowest index.
func (that *botService) BestMove(board entity.Board) (int, error) {
	best, bestScore := -1, 0

	for cell := range board {
		if board[cell] != entity.EmptyCell {
			continue
		}

		board[cell] = entity.PlayerO
		score := minimax(&board, 0, false)
		board[cell] = entity.EmptyCell

		if best == -1 || score > bestScore {
			best, bestScore = cell, score
		}
	}

	if best == -1 {
		return 0, ErrNoAvailableMoves
	}

	return best, nil
}

// minimax - O maximizes, X minimizes; quicker wins and slower losses score better for O.
func minimax(board *entity.Board, depth int, maximizing bool) int {
	switch {
	case tictactoe.CheckWinner(entity.PlayerO, *board):
		return winScore - depth
	case tictactoe.CheckWinner(entity.PlayerX, *board):
		return depth - winScore
	case tictactoe.Full(*board):
		return 0
	}

	mark, best := entity.PlayerX, winScore+1
	if maximizing {
		mark, best = entity.PlayerO, -winScore-1
	}

	for cell := range board {
		if board[cell] != entity.EmptyCell {
			continue
		}

		board[cell] = mark
		score := minimax(board, depth+1, !maximizing)
		board[cell] = entity.EmptyCell

		if (maximizing && score > best) || (!maximizing && score < best) {
			best = score
		}
	}

	return best
}
