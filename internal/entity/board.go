package entity

import (
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
)

type Mark string

const (
	PlayerX Mark = "X"
	PlayerO Mark = "O"

	EmptyCell Mark = ""
)

const BoardSize = 9

var ErrInvalidCell = errors.New("invalid cell index")

type Board [BoardSize]Mark

// Opponent - returns the other side, X for anything that is not X.
func (that Mark) Opponent() Mark {
	if that == PlayerX {
		return PlayerO
	}
	return PlayerX
}

func (that Mark) IsPlayer() bool {
	return that == PlayerX || that == PlayerO
}

func (that *Board) IsEmptyCell(cell int) bool {
	return that[cell] == EmptyCell
}

// Place - puts mark into an empty cell.
func (that *Board) Place(mark Mark, cell int) error {
	if err := ValidateCell(cell); err != nil {
		return err
	}

	if !that.IsEmptyCell(cell) {
		return fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, cell)
	}

	that[cell] = mark

	return nil
}

func (that *Board) EmptyCells() []int {
	cells := make([]int, 0, BoardSize)
	for i, cell := range that {
		if cell == EmptyCell {
			cells = append(cells, i)
		}
	}

	return cells
}

func ValidateCell(cell int) error {
	if cell < 0 || cell >= BoardSize {
		return fmt.Errorf("%w: cell %d", ErrInvalidCell, cell)
	}

	return nil
}
