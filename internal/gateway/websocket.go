// ABOUTME: Websocket transport binding a client connection to its conversation session
// ABOUTME: Text frames from the client are user messages; engine frames are written back as text

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/conversation"
)

const (
	wsMaxMessageBytes = 64 * 1024
	wsSendBuffer      = 64
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
)

var (
	errTransportClosed = errors.New("transport closed")
	errSendBufferFull  = errors.New("send buffer full")
)

// wsTransport implements conversation.Transport over a websocket connection.
type wsTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame for the write loop without blocking the engine.
func (t *wsTransport) Send(_ context.Context, frame []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}

	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errSendBufferFull
	}
}

func (t *wsTransport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *wsTransport) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer t.close()

	for {
		select {
		case <-t.done:
			return
		case frame := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop delivers text messages to onText until the connection fails.
func (t *wsTransport) readLoop(onText func(text string) error) error {
	t.conn.SetReadLimit(wsMaxMessageBytes)
	_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := onText(string(data)); err != nil {
			return err
		}
	}
}

// handleWebSocket attaches a websocket client to the session named in the path.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent name is required")
		return
	}
	sessionID := conversation.SessionIDFromName(name)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err, "name", name)
		return
	}

	t := newWSTransport(conn)
	g.trackTransport(t)
	defer g.untrackTransport(t)
	defer t.close()

	go t.writeLoop()

	ctx := r.Context()
	engine, err := g.sessions.AttachTransport(ctx, sessionID, t)
	if err != nil {
		g.logger.Error("failed to attach transport", "error", err, "session_id", sessionID)
		return
	}
	g.logger.Info("client connected", "name", name, "session_id", sessionID)

	err = t.readLoop(func(text string) error {
		return engine.Submit(ctx, text)
	})

	detachCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	g.sessions.DetachTransport(detachCtx, sessionID, t)

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		g.logger.Warn("client connection lost", "error", err, "session_id", sessionID)
		return
	}
	g.logger.Info("client disconnected", "name", name, "session_id", sessionID)
}
