// Package tictactoe holds the pure rules of the 3x3 board: lines, winner and draw.
package tictactoe

import "github.com/rocketscienceinc/tictactoe-online/internal/entity"

// WinCombos - rows, then columns, then diagonals. The order decides which line WinningLine reports.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// CheckWinner - true if player occupies any full line.
func CheckWinner(player entity.Mark, board entity.Board) bool {
	_, ok := WinningLine(player, board)
	return ok
}

// WinningLine - first line fully occupied by player.
func WinningLine(player entity.Mark, board entity.Board) ([3]int, bool) {
	for _, combo := range WinCombos {
		if board[combo[0]] == player && board[combo[1]] == player && board[combo[2]] == player {
			return combo, true
		}
	}

	return [3]int{}, false
}

// Winner - X or O when that side has a line, EmptyCell otherwise. X is checked first.
func Winner(board entity.Board) entity.Mark {
	switch {
	case CheckWinner(entity.PlayerX, board):
		return entity.PlayerX
	case CheckWinner(entity.PlayerO, board):
		return entity.PlayerO
	default:
		return entity.EmptyCell
	}
}

func Full(board entity.Board) bool {
	for _, cell := range board {
		if cell == entity.EmptyCell {
			return false
		}
	}

	return true
}

// IsDraw - the board is full and nobody has a line.
func IsDraw(board entity.Board) bool {
	return Full(board) && Winner(board) == entity.EmptyCell
}

// HighlightedLine - the line to highlight on the board, nil when nobody has one.
func HighlightedLine(board entity.Board) []int {
	for _, player := range []entity.Mark{entity.PlayerX, entity.PlayerO} {
		if line, ok := WinningLine(player, board); ok {
			return line[:]
		}
	}

	return nil
}
