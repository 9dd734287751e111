package websocket

import (
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/usecase"
)

// presenter - turns session output into outbound messages on one connection.
type presenter struct {
	conn *connection
}

func newPresenter(conn *connection) *presenter {
	return &presenter{conn: conn}
}

func (that *presenter) RenderBoard(board entity.Board, winningLine []int) {
	if winningLine == nil {
		winningLine = []int{}
	}

	that.push(ActionRenderBoard, BoardPayload{Board: board, WinningLine: winningLine})
}

func (that *presenter) SetTurnLabel(text string) {
	that.push(ActionTurnLabel, TextPayload{Text: text})
}

func (that *presenter) SetScore(score entity.Score) {
	that.push(ActionScore, ScorePayload{Score: score})
}

func (that *presenter) ShowNotice(message string, severity usecase.Severity) {
	that.push(ActionNotice, NoticePayload{Message: message, Severity: severity})
}

func (that *presenter) ShowScreen(screen usecase.Screen) {
	that.push(ActionScreen, ScreenPayload{Screen: screen})
}

func (that *presenter) SetModeLabel(label string) {
	that.push(ActionModeLabel, TextPayload{Text: label})
}

func (that *presenter) ShowRoomCode(code string) {
	that.push(ActionRoomCode, CodePayload{Code: code})
}

func (that *presenter) showError(err error) {
	that.push(ActionError, ErrorPayload{Error: err.Error()})
}

func (that *presenter) push(action string, payload any) {
	data, err := encodeMessage(action, payload)
	if err != nil {
		that.conn.logger.Error("failed to encode message", "action", action, "error", err)
		return
	}

	that.conn.enqueue(data)
}
