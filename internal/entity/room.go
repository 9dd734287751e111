package entity

type Score struct {
	X int `json:"X"`
	O int `json:"O"`
}

// Add - counts one more win for the mark, anything else is ignored.
func (that *Score) Add(mark Mark) {
	switch mark {
	case PlayerX:
		that.X++
	case PlayerO:
		that.O++
	}
}

// Room - shared document of one online match, stored under rooms/{id}.
type Room struct {
	Board         Board  `json:"board"`
	CurrentPlayer Mark   `json:"currentPlayer"`
	GameOver      bool   `json:"gameOver"`
	Score         Score  `json:"score"`
	Players       []Mark `json:"players"`
}

func NewRoom(host Mark) *Room {
	return &Room{
		CurrentPlayer: PlayerX,
		Players:       []Mark{host},
	}
}

func (that *Room) Clone() *Room {
	if that == nil {
		return nil
	}

	clone := *that
	clone.Players = append([]Mark(nil), that.Players...)

	return &clone
}

func (that *Room) HasPlayer(mark Mark) bool {
	for _, player := range that.Players {
		if player == mark {
			return true
		}
	}

	return false
}

func (that *Room) IsFull() bool {
	return len(that.Players) >= 2
}

// Normalize - fills the defaults a partially written document may lack.
func (that *Room) Normalize() {
	if !that.CurrentPlayer.IsPlayer() {
		that.CurrentPlayer = PlayerX
	}

	for i, cell := range that.Board {
		if !cell.IsPlayer() {
			that.Board[i] = EmptyCell
		}
	}
}

// RoomPatch - partial last-writer-wins write, nil fields stay untouched.
type RoomPatch struct {
	Board         *Board `json:"board,omitempty"`
	CurrentPlayer *Mark  `json:"currentPlayer,omitempty"`
	GameOver      *bool  `json:"gameOver,omitempty"`
}

func (that RoomPatch) ApplyTo(room *Room) {
	if that.Board != nil {
		room.Board = *that.Board
	}

	if that.CurrentPlayer != nil {
		room.CurrentPlayer = *that.CurrentPlayer
	}

	if that.GameOver != nil {
		room.GameOver = *that.GameOver
	}
}

// MovePatch - board after a move plus the side to play next.
func MovePatch(board Board, next Mark) RoomPatch {
	return RoomPatch{
		Board:         &board,
		CurrentPlayer: &next,
	}
}

// RestartPatch - empty board, X to move, game running; score and players stay.
func RestartPatch() RoomPatch {
	board := Board{}
	next := PlayerX
	gameOver := false

	return RoomPatch{
		Board:         &board,
		CurrentPlayer: &next,
		GameOver:      &gameOver,
	}
}
