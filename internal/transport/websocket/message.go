package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/usecase"
)

// inbound actions.
const (
	ActionSelectMode       = "mode:select"
	ActionSelectOnlineMode = "online:select"
	ActionJoinRoom         = "room:join"
	ActionSelectCell       = "cell:select"
	ActionRestart          = "game:restart"
	ActionBack             = "nav:back"
)

// outbound actions.
const (
	ActionRenderBoard = "board:render"
	ActionTurnLabel   = "turn:label"
	ActionScore       = "score:update"
	ActionNotice      = "notice:show"
	ActionScreen      = "screen:show"
	ActionModeLabel   = "mode:label"
	ActionRoomCode    = "room:code"
	ActionError       = "error"
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ModePayload struct {
	Mode string `json:"mode"`
}

type CodePayload struct {
	Code string `json:"code"`
}

type CellPayload struct {
	Cell *int `json:"cell"`
}

type BoardPayload struct {
	Board       entity.Board `json:"board"`
	WinningLine []int        `json:"winningLine"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ScorePayload struct {
	Score entity.Score `json:"score"`
}

type NoticePayload struct {
	Message  string           `json:"message"`
	Severity usecase.Severity `json:"severity"`
}

type ScreenPayload struct {
	Screen usecase.Screen `json:"screen"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func encodeMessage(action string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	data, err := json.Marshal(Message{Action: action, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return data, nil
}

func decodePayload(message *Message, payload any) error {
	if len(message.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", apperror.ErrInvalidPayload, message.Action)
	}

	if err := json.Unmarshal(message.Payload, payload); err != nil {
		return fmt.Errorf("%w: %s", apperror.ErrInvalidPayload, err.Error())
	}

	return nil
}
