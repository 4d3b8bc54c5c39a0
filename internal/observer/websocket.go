package observer

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
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 64
)

var errObserverClosed = errors.New("observer connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	// The endpoint binds to a local address chosen by the user.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Endpoint exposes the registry over WebSocket so local tools can observe
// the session and issue commands.
type Endpoint struct {
	registry *Registry
	commands *CommandHandler
	logger   *slog.Logger
}

func NewEndpoint(registry *Registry, commands *CommandHandler, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{registry: registry, commands: commands, logger: logger}
}

// wsObserver queues events for one connection's writer.
type wsObserver struct {
	send   chan Event
	closed chan struct{}
}

func (o *wsObserver) Notify(e Event) error {
	select {
	case <-o.closed:
		return errObserverClosed
	default:
	}
	select {
	case o.send <- e:
		return nil
	default:
		return errors.New("observer queue full")
	}
}

func (ep *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ep.logger.Warn("observer upgrade failed", "error", err)
		return
	}

	o := &wsObserver{send: make(chan Event, eventBuffer), closed: make(chan struct{})}
	go ep.writeLoop(conn, o)

	remove := ep.registry.Add(o)
	defer func() {
		remove()
		close(o.closed)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			ep.logger.Debug("dropping malformed observer command", "error", err)
			continue
		}
		if err := ep.commands.Handle(cmd); err != nil {
			ep.logger.Warn("observer command failed", "command", cmd.Type, "error", err)
		}
	}
}

func (ep *Endpoint) writeLoop(conn *websocket.Conn, o *wsObserver) {
	for {
		select {
		case e := <-o.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				conn.Close()
				return
			}
		case <-o.closed:
			return
		}
	}
}

// Serve runs the observer endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, ep *Endpoint) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observer listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: ep, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	ep.logger.Info("observer endpoint listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observer endpoint: %w", err)
	}
	return nil
}
