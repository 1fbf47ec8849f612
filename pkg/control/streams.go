package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
)

const (
	streamWriteTimeout = 10 * time.Second

	commandMessageType = "command"
)

func (h *HTTPHandler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	patterns := h.options.OriginPatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: patterns,
	})
}

// consoleStream replays the backlog, then forwards live lines. Inbound
// {"type":"command","data":"..."} messages are written to the server input.
func (h *HTTPHandler) consoleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Subscribing before the upgrade lets an unknown or stopped server be
	// reported with a regular status code.
	backlog, sub, err := h.streams.Console(id)
	if err != nil {
		h.writeError(w, "Console", err)
		return
	}
	defer func() {
		sub.Unsubscribe()
		if dropped := sub.Dropped(); dropped > 0 {
			h.logger.Warnf("Console subscriber fell behind, id: %s, subscription: %s, dropped: %d", id, sub.ID, dropped)
		}
	}()

	conn, err := h.accept(w, r)
	if err != nil {
		h.logger.Warnf("Console websocket upgrade failed, id: %s, error: %v", id, err)
		return
	}
	defer conn.CloseNow()

	h.logger.Debugf("Console subscriber attached, id: %s, subscription: %s, backlog: %d", id, sub.ID, len(backlog))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readCommands(ctx, cancel, conn, id)

	for _, line := range backlog {
		if err := h.writeText(ctx, conn, line); err != nil {
			return
		}
	}

	for {
		select {
		case line, open := <-sub.C():
			if !open {
				conn.Close(websocket.StatusNormalClosure, "server stopped")
				return
			}
			if err := h.writeText(ctx, conn, line); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *HTTPHandler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id string) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var cmd CommandRequest
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debugf("Ignoring malformed console message, id: %s, error: %v", id, err)
			continue
		}
		if cmd.Type != commandMessageType {
			continue
		}
		if err := h.handler.SendCommand(ctx, id, cmd.Data); err != nil {
			h.logger.Warnf("Console command rejected, id: %s, error: %v", id, err)
		}
	}
}

func (h *HTTPHandler) writeText(ctx context.Context, conn *websocket.Conn, text string) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(text))
}

// metricsStream forwards live samples as JSON until the server stops or
// the client goes away.
func (h *HTTPHandler) metricsStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := h.streams.Metrics(id)
	if err != nil {
		h.writeError(w, "Metrics", err)
		return
	}
	defer func() {
		sub.Unsubscribe()
		if dropped := sub.Dropped(); dropped > 0 {
			h.logger.Warnf("Metrics subscriber fell behind, id: %s, subscription: %s, dropped: %d", id, sub.ID, dropped)
		}
	}()

	conn, err := h.accept(w, r)
	if err != nil {
		h.logger.Warnf("Metrics websocket upgrade failed, id: %s, error: %v", id, err)
		return
	}
	defer conn.CloseNow()

	h.logger.Debugf("Metrics subscriber attached, id: %s, subscription: %s", id, sub.ID)

	// Inbound messages are not expected; CloseRead handles control frames
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case sample, open := <-sub.C():
			if !open {
				conn.Close(websocket.StatusNormalClosure, "server stopped")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, sample)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
