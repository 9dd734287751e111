package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/pkg/roomcode"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository"
	"github.com/rocketscienceinc/tictactoe-online/internal/tictactoe"
)

const (
	eventQueueSize = 64
	removeTimeout  = 5 * time.Second
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseOnlineMenu Phase = "online-menu"
	PhaseHosting    Phase = "hosting"
	PhaseJoining    Phase = "joining"
	PhaseInGame     Phase = "in-game"
	PhaseGameOver   Phase = "game-over"
)

type OnlineMode string

const (
	OnlineCreate OnlineMode = "create"
	OnlineJoin   OnlineMode = "join"
)

type roomStore interface {
	Create(ctx context.Context, roomID string, room *entity.Room) error
	Get(ctx context.Context, roomID string) (*entity.Room, error)
	Subscribe(ctx context.Context, roomID string) (repository.Subscription, error)
	Update(ctx context.Context, roomID string, fn repository.UpdateFunc) (bool, *entity.Room, error)
	Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error
	Remove(ctx context.Context, roomID string) error
}

type opponent interface {
	BestMove(board entity.Board) (int, error)
}

type SessionConfig struct {
	OpponentDelay time.Duration
	StartDelay    time.Duration
}

// Snapshot - copy of the session state for callers outside the loop.
type Snapshot struct {
	Phase  Phase
	Screen Screen
	State  entity.GameState
}

// Session - one player's game. Inputs, timers, store completions and room
// updates are all events run one at a time by Run, only the loop touches the state.
type Session struct {
	logger    *slog.Logger
	store     roomStore
	bot       opponent
	presenter Presenter
	clock     clockwork.Clock
	conf      SessionConfig
	newCode   func() (string, error)

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the loop
	ctx            context.Context
	epoch          uint64
	phase          Phase
	screen         Screen
	state          entity.GameState
	sub            repository.Subscription
	timers         []clockwork.Timer
	roomCreated    bool
	opponentJoined bool
	joining        bool
	finishing      bool
}

// NewSession - store may be nil, online rooms then stay local to this session.
func NewSession(
	logger *slog.Logger,
	store roomStore,
	bot opponent,
	presenter Presenter,
	clock clockwork.Clock,
	conf SessionConfig,
) *Session {
	return &Session{
		logger:    logger.With("component", "session"),
		store:     store,
		bot:       bot,
		presenter: presenter,
		clock:     clock,
		conf:      conf,
		newCode:   roomcode.New,

		events: make(chan func(), eventQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),

		phase:  PhaseIdle,
		screen: ScreenMainMenu,
	}
}

// Run - processes events until ctx is done or Close is called, then tears the session down.
func (that *Session) Run(ctx context.Context) {
	that.ctx = ctx

	defer close(that.done)
	defer that.teardown()

	that.presenter.ShowScreen(that.screen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-that.quit:
			return
		case event := <-that.events:
			event()
		}
	}
}

func (that *Session) Close() {
	that.closeOnce.Do(func() {
		close(that.quit)
	})
}

// Done - closed once Run has returned.
func (that *Session) Done() <-chan struct{} {
	return that.done
}

func (that *Session) SelectMode(mode entity.Mode) {
	that.post(func() {
		if !mode.IsValid() {
			that.logger.Warn("unknown mode", "method", "SelectMode", "mode", mode)
			return
		}

		that.teardown()
		that.state = entity.NewGameState(mode)
		that.presenter.SetModeLabel(mode.Label())

		if mode == entity.ModeOnline {
			that.phase = PhaseOnlineMenu
			that.show(ScreenOnlineMenu)
			return
		}

		that.phase = PhaseInGame
		that.show(ScreenGameArea)
		that.render()
	})
}

func (that *Session) SelectOnlineMode(mode OnlineMode) {
	that.post(func() {
		if that.phase != PhaseOnlineMenu {
			return
		}

		switch mode {
		case OnlineCreate:
			that.hostRoom()
		case OnlineJoin:
			that.phase = PhaseJoining
			that.show(ScreenJoinDisplay)
		default:
			that.logger.Warn("unknown online mode", "method", "SelectOnlineMode", "mode", mode)
		}
	})
}

func (that *Session) SubmitRoomCode(code string) {
	that.post(func() {
		if that.phase != PhaseJoining {
			return
		}

		that.joinRoom(code)
	})
}

func (that *Session) SelectCell(cell int) {
	that.post(func() {
		if that.phase != PhaseInGame {
			return
		}

		if err := that.moveError(cell); err != nil {
			that.logger.Debug("cell ignored", "method", "SelectCell", "cell", cell, "error", err)
			return
		}

		if that.state.IsOnline() {
			that.playOnline(cell)
			return
		}

		that.playLocal(cell)
	})
}

// moveError - why the player cannot take the cell right now, nil if they can.
func (that *Session) moveError(cell int) error {
	if that.state.GameOver || tictactoe.Winner(that.state.Board) != entity.EmptyCell {
		return apperror.ErrGameFinished
	}

	if err := entity.ValidateCell(cell); err != nil {
		return err
	}

	if !that.state.Board.IsEmptyCell(cell) {
		return apperror.ErrCellOccupied
	}

	switch that.state.Mode {
	case entity.ModeVsOpponent:
		if that.state.CurrentPlayer != entity.PlayerX {
			return apperror.ErrNotYourTurn
		}
	case entity.ModeOnline:
		if !that.state.MyTurn {
			return apperror.ErrNotYourTurn
		}
	}

	return nil
}

func (that *Session) Restart() {
	that.post(func() {
		if that.phase != PhaseInGame && that.phase != PhaseGameOver {
			return
		}

		if that.state.IsOnline() {
			that.restartOnline()
			return
		}

		that.stopTimers()
		that.state.ResetBoard()
		that.phase = PhaseInGame
		that.render()
	})
}

// Back - from the room code screens to the online menu, from anywhere else to the main menu.
func (that *Session) Back() {
	that.post(func() {
		that.teardown()

		if that.screen == ScreenCreateDisplay || that.screen == ScreenJoinDisplay {
			that.state = entity.NewGameState(entity.ModeOnline)
			that.phase = PhaseOnlineMenu
			that.show(ScreenOnlineMenu)
			return
		}

		that.state = entity.GameState{}
		that.phase = PhaseIdle
		that.show(ScreenMainMenu)
	})
}

func (that *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)

	if !that.post(func() {
		reply <- Snapshot{Phase: that.phase, Screen: that.screen, State: that.state}
	}) {
		return Snapshot{}, apperror.ErrSessionClosed
	}

	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-that.done:
		return Snapshot{}, apperror.ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// post - queues an event for the loop, false once the session is closed.
func (that *Session) post(event func()) bool {
	select {
	case <-that.quit:
		return false
	case <-that.done:
		return false
	default:
	}

	select {
	case that.events <- event:
		return true
	case <-that.quit:
		return false
	case <-that.done:
		return false
	}
}

// later - wraps event for a timer, it is dropped if the session moved on in the meantime.
func (that *Session) later(event func()) func() {
	epoch := that.epoch

	return func() {
		that.post(func() {
			if epoch != that.epoch {
				return
			}
			event()
		})
	}
}

func (that *Session) schedule(delay time.Duration, event func()) {
	that.timers = append(that.timers, that.clock.AfterFunc(delay, that.later(event)))
}

// async - runs call off the loop and applies the returned completion on the loop,
// unless the session was torn down while the call was in flight.
func (that *Session) async(method string, call func(ctx context.Context) func()) {
	that.asyncWithCleanup(method, func(ctx context.Context) (func(), func()) {
		return call(ctx), nil
	})
}

// asyncWithCleanup - like async, discard runs instead of the completion when it is stale.
func (that *Session) asyncWithCleanup(method string, call func(ctx context.Context) (func(), func())) {
	epoch := that.epoch
	ctx := that.ctx

	go func() {
		complete, discard := call(ctx)

		posted := that.post(func() {
			if epoch != that.epoch {
				that.logger.Debug("dropping stale completion", "method", method)

				if discard != nil {
					discard()
				}
				return
			}
			complete()
		})

		if !posted && discard != nil {
			discard()
		}
	}()
}

func (that *Session) stopTimers() {
	for _, timer := range that.timers {
		timer.Stop()
	}
	that.timers = nil
}

func (that *Session) cancelSubscription() {
	if that.sub != nil {
		that.sub.Cancel()
		that.sub = nil
	}
}

// teardown - leaves whatever the session was doing, a host also removes its room.
func (that *Session) teardown() {
	that.epoch++
	that.stopTimers()
	that.cancelSubscription()

	if that.state.IsHost() && that.roomCreated && that.store != nil {
		that.removeRoom(that.state.RoomID)
	}

	that.roomCreated = false
	that.opponentJoined = false
	that.joining = false
	that.finishing = false
}

func (that *Session) removeRoom(roomID string) {
	log := that.logger.With("method", "removeRoom", "room_id", roomID)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(that.ctx), removeTimeout)

	go func() {
		defer cancel()

		if err := that.store.Remove(ctx, roomID); err != nil {
			log.Warn("failed to remove room", "error", err)
		}
	}()
}

func (that *Session) show(screen Screen) {
	that.screen = screen
	that.presenter.ShowScreen(screen)
}

func (that *Session) render() {
	that.presenter.RenderBoard(that.state.Board, tictactoe.HighlightedLine(that.state.Board))
	that.presenter.SetTurnLabel(turnLabel(that.state))
	that.presenter.SetScore(that.state.Score)
}
