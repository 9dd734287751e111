package entity

type Mode string

const (
	ModeNone       Mode = ""
	ModeLocal      Mode = "local"
	ModeVsOpponent Mode = "vs-opponent"
	ModeOnline     Mode = "online"
)

func (that Mode) IsValid() bool {
	switch that {
	case ModeLocal, ModeVsOpponent, ModeOnline:
		return true
	default:
		return false
	}
}

// Label - text shown next to the board for the mode.
func (that Mode) Label() string {
	switch that {
	case ModeLocal:
		return "Offline Multiplayer"
	case ModeVsOpponent:
		return "vs Computer"
	case ModeOnline:
		return "Online"
	default:
		return ""
	}
}

// GameState - client-local view of the game, recreated on every mode selection.
type GameState struct {
	Mode          Mode   `json:"mode"`
	Board         Board  `json:"board"`
	CurrentPlayer Mark   `json:"currentPlayer"`
	GameOver      bool   `json:"gameOver"`
	RoomID        string `json:"roomId,omitempty"`
	MySymbol      Mark   `json:"mySymbol,omitempty"`
	MyTurn        bool   `json:"myTurn"`
	Score         Score  `json:"score"`
}

func NewGameState(mode Mode) GameState {
	return GameState{
		Mode:          mode,
		CurrentPlayer: PlayerX,
		MyTurn:        true,
	}
}

// ResetBoard - clears the board for a new round, the score is kept.
func (that *GameState) ResetBoard() {
	that.Board = Board{}
	that.CurrentPlayer = PlayerX
	that.GameOver = false
	that.MyTurn = true
}

// ApplyRoom - projects the shared room onto the local state, the room always wins.
func (that *GameState) ApplyRoom(room *Room) {
	that.Board = room.Board
	that.CurrentPlayer = room.CurrentPlayer
	that.GameOver = room.GameOver
	that.Score = room.Score
	that.MyTurn = that.CurrentPlayer == that.MySymbol
}

func (that *GameState) IsOnline() bool {
	return that.Mode == ModeOnline
}

func (that *GameState) IsHost() bool {
	return that.IsOnline() && that.MySymbol == PlayerX
}
