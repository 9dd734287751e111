package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
	"github.com/rocketscienceinc/tictactoe-online/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

// GameSession - the player session a connection drives, see usecase.Session.
type GameSession interface {
	Run(ctx context.Context)
	Close()
	SelectMode(mode entity.Mode)
	SelectOnlineMode(mode usecase.OnlineMode)
	SubmitRoomCode(code string)
	SelectCell(cell int)
	Restart()
	Back()
}

// SessionFactory - builds a fresh session for every accepted connection.
type SessionFactory func(logger *slog.Logger, presenter usecase.Presenter) GameSession

type Server struct {
	logger     *slog.Logger
	newSession SessionFactory
	conf       Config
	upgrader   websocket.Upgrader
	handlers   map[string]func(session GameSession, message *Message) error
}

func New(logger *slog.Logger, newSession SessionFactory, conf Config) *Server {
	server := &Server{
		logger:     logger.With("component", "websocket"),
		newSession: newSession,
		conf:       conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(conf.AllowedOrigins),
		},
		handlers: make(map[string]func(GameSession, *Message) error),
	}

	server.handlers[ActionSelectMode] = server.handleSelectMode
	server.handlers[ActionSelectOnlineMode] = server.handleSelectOnlineMode
	server.handlers[ActionJoinRoom] = server.handleJoinRoom
	server.handlers[ActionSelectCell] = server.handleSelectCell
	server.handlers[ActionRestart] = server.handleRestart
	server.handlers[ActionBack] = server.handleBack

	return server
}

func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.serveWS)

	return mux
}

// Start - starts WebSocket server, returns once ctx is done and the server is shut down.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     that.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped with error: %w", err)
	}

	return nil
}

// serveWS - one session per connection, both live as long as the socket does.
func (that *Server) serveWS(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveWS")

	ws, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(that.logger, ws, that.conf)
	out := newPresenter(conn)
	session := that.newSession(conn.logger, out)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	go session.Run(ctx)
	go conn.writePump(ctx)

	log.Info("WebSocket connection established", "connection_id", conn.id)

	conn.readPump(func(data []byte) {
		if err := that.dispatch(session, data); err != nil {
			conn.logger.Warn("rejected message", "error", err)
			out.showError(err)
		}
	})

	session.Close()

	log.Info("WebSocket connection closed", "connection_id", conn.id)
}

func (that *Server) dispatch(session GameSession, data []byte) error {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("%w: %s", apperror.ErrInvalidPayload, err.Error())
	}

	handler, ok := that.handlers[message.Action]
	if !ok {
		return fmt.Errorf("%w: %q", apperror.ErrUnknownAction, message.Action)
	}

	return handler(session, &message)
}
