package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/repository"
	"github.com/rocketscienceinc/tictactoe-online/internal/service"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond

	opponentDelay = 500 * time.Millisecond
	startDelay    = 500 * time.Millisecond
)

var errStoreDown = errors.New("store is down")

type notice struct {
	Message  string
	Severity Severity
}

type recordingPresenter struct {
	mu sync.Mutex

	board     entity.Board
	line      []int
	turn      string
	score     entity.Score
	notices   []notice
	screens   []Screen
	modeLabel string
	roomCode  string
}

func (that *recordingPresenter) RenderBoard(board entity.Board, winningLine []int) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.board = board
	that.line = winningLine
}

func (that *recordingPresenter) SetTurnLabel(text string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.turn = text
}

func (that *recordingPresenter) SetScore(score entity.Score) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.score = score
}

func (that *recordingPresenter) ShowNotice(message string, severity Severity) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.notices = append(that.notices, notice{Message: message, Severity: severity})
}

func (that *recordingPresenter) ShowScreen(screen Screen) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.screens = append(that.screens, screen)
}

func (that *recordingPresenter) SetModeLabel(label string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.modeLabel = label
}

func (that *recordingPresenter) ShowRoomCode(code string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.roomCode = code
}

func (that *recordingPresenter) hasNotice(message string, severity Severity) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, n := range that.notices {
		if n.Message == message && n.Severity == severity {
			return true
		}
	}

	return false
}

func (that *recordingPresenter) noticeCount(message string) int {
	that.mu.Lock()
	defer that.mu.Unlock()

	count := 0
	for _, n := range that.notices {
		if n.Message == message {
			count++
		}
	}

	return count
}

func (that *recordingPresenter) turnLabel() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.turn
}

func (that *recordingPresenter) lastScore() entity.Score {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.score
}

func (that *recordingPresenter) winningLine() []int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.line
}

func (that *recordingPresenter) code() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.roomCode
}

func (that *recordingPresenter) label() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.modeLabel
}

type harness struct {
	t         *testing.T
	session   *Session
	presenter *recordingPresenter
}

func newHarness(t *testing.T, store roomStore, clock clockwork.Clock, opts ...func(*Session)) *harness {
	t.Helper()

	presenter := &recordingPresenter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	session := NewSession(logger, store, service.NewBotService(), presenter, clock, SessionConfig{
		OpponentDelay: opponentDelay,
		StartDelay:    startDelay,
	})
	for _, opt := range opts {
		opt(session)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)

	t.Cleanup(func() {
		session.Close()
		<-session.Done()
		cancel()
	})

	return &harness{t: t, session: session, presenter: presenter}
}

func withCode(code string) func(*Session) {
	return func(session *Session) {
		session.newCode = func() (string, error) {
			return code, nil
		}
	}
}

// snapshot - also waits for every event posted before it.
func (that *harness) snapshot() Snapshot {
	that.t.Helper()

	snapshot, err := that.session.Snapshot(context.Background())
	require.NoError(that.t, err)

	return snapshot
}

func (that *harness) eventually(condition func(snapshot Snapshot) bool, msg string) {
	that.t.Helper()

	require.Eventually(that.t, func() bool {
		snapshot, err := that.session.Snapshot(context.Background())
		return err == nil && condition(snapshot)
	}, waitFor, tick, msg)
}

func (that *harness) eventuallyNotice(message string, severity Severity) {
	that.t.Helper()

	require.Eventually(that.t, func() bool {
		return that.presenter.hasNotice(message, severity)
	}, waitFor, tick, "notice %q", message)
}

func (that *harness) play(cells ...int) {
	for _, cell := range cells {
		that.session.SelectCell(cell)
	}
}

// mockRoomStore - testify mock of the room store.
type mockRoomStore struct {
	mock.Mock
}

func (that *mockRoomStore) Create(ctx context.Context, roomID string, room *entity.Room) error {
	args := that.Called(ctx, roomID, room)
	return args.Error(0)
}

func (that *mockRoomStore) Get(ctx context.Context, roomID string) (*entity.Room, error) {
	args := that.Called(ctx, roomID)
	room, _ := args.Get(0).(*entity.Room)
	return room, args.Error(1)
}

func (that *mockRoomStore) Subscribe(ctx context.Context, roomID string) (repository.Subscription, error) {
	args := that.Called(ctx, roomID)
	sub, _ := args.Get(0).(repository.Subscription)
	return sub, args.Error(1)
}

func (that *mockRoomStore) Update(ctx context.Context, roomID string, fn repository.UpdateFunc) (bool, *entity.Room, error) {
	args := that.Called(ctx, roomID, fn)
	room, _ := args.Get(1).(*entity.Room)
	return args.Bool(0), room, args.Error(2)
}

func (that *mockRoomStore) Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error {
	args := that.Called(ctx, roomID, patch)
	return args.Error(0)
}

func (that *mockRoomStore) Remove(ctx context.Context, roomID string) error {
	args := that.Called(ctx, roomID)
	return args.Error(0)
}

// flakyStore - memory store whose merges can be made to fail.
type flakyStore struct {
	*repository.MemoryRoomStore
	failMerges atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryRoomStore: repository.NewMemoryRoomStore(clockwork.NewRealClock(), repository.DefaultOptions()),
	}
}

func (that *flakyStore) Merge(ctx context.Context, roomID string, patch entity.RoomPatch) error {
	if that.failMerges.Load() {
		return errStoreDown
	}

	return that.MemoryRoomStore.Merge(ctx, roomID, patch)
}
