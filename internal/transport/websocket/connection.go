package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBufferSize int
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
		SendBufferSize: 256,
	}
}

// checkOrigin - an empty list or "*" lets every origin in.
func checkOrigin(allowed []string) func(req *http.Request) bool {
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}

		return slices.Contains(allowed, origin)
	}
}

// connection - one browser tab. The write pump is the only writer of ws frames.
type connection struct {
	id     string
	ws     *websocket.Conn
	conf   Config
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(logger *slog.Logger, ws *websocket.Conn, conf Config) *connection {
	id := uuid.New().String()

	return &connection{
		id:     id,
		ws:     ws,
		conf:   conf,
		logger: logger.With("connection_id", id),
		send:   make(chan []byte, conf.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue - never blocks, a client that cannot keep up is disconnected.
func (that *connection) enqueue(data []byte) {
	select {
	case <-that.done:
		return
	default:
	}

	select {
	case that.send <- data:
	default:
		that.logger.Warn("send buffer full, closing connection")
		that.close()
	}
}

func (that *connection) close() {
	that.closeOnce.Do(func() {
		close(that.done)

		if err := that.ws.Close(); err != nil {
			that.logger.Debug("failed to close websocket", "error", err)
		}
	})
}

func (that *connection) writePump(ctx context.Context) {
	log := that.logger.With("method", "writePump")

	ticker := time.NewTicker(that.conf.PingInterval)
	defer func() {
		ticker.Stop()
		that.close()
	}()

	for {
		select {
		case <-that.done:
			return

		case <-ctx.Done():
			deadline := time.Now().Add(that.conf.WriteTimeout)
			message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			if err := that.ws.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
				log.Debug("failed to send close frame", "error", err)
			}
			return

		case data := <-that.send:
			if err := that.ws.SetWriteDeadline(time.Now().Add(that.conf.WriteTimeout)); err != nil {
				log.Error("failed to set write deadline", "error", err)
				return
			}

			if err := that.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(that.conf.WriteTimeout)
			if err := that.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Error("failed to send ping", "error", err)
				return
			}
		}
	}
}

// readPump - blocks until the socket fails or is closed.
func (that *connection) readPump(handle func(data []byte)) {
	log := that.logger.With("method", "readPump")

	defer that.close()

	that.ws.SetReadLimit(that.conf.MaxMessageSize)
	that.extendReadDeadline()
	that.ws.SetPongHandler(func(string) error {
		that.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := that.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) && !errors.Is(err, websocket.ErrCloseSent) {
				log.Error("unexpected websocket close", "error", err)
			}
			return
		}

		handle(data)
		that.extendReadDeadline()
	}
}

func (that *connection) extendReadDeadline() {
	if err := that.ws.SetReadDeadline(time.Now().Add(that.conf.ReadTimeout)); err != nil {
		that.logger.Debug("failed to set read deadline", "error", err)
	}
}
