package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/livegraph/internal/livequery"
)

const writeTimeout = 10 * time.Second

// Message is one frame sent to a subscription websocket.
type Message struct {
	Kind   string            `json:"kind"` // "result" | "error"
	Result *livequery.Result `json:"result,omitempty"`
	Error  *ErrorDetail      `json:"error,omitempty"`
}

// subscribe upgrades to a websocket, reads one query frame, and streams
// its results until either side goes away.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	websocketsActive.Inc()
	defer websocketsActive.Dec()

	var q livequery.Query
	if err := ws.ReadJSON(&q); err != nil {
		slog.Debug("websocket closed before query", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	who := identityFrom(r.Context())
	sub, err := s.engine.Subscribe(ctx, q, who)
	if err != nil {
		_, detail := classify(err)
		sendMessage(ws, Message{Kind: "error", Error: &detail})
		return
	}
	defer sub.Close()
	slog.Debug("websocket subscribed", "subscription", sub.ID(), "type", q.Type, "identity", who.ID)

	// The client sends nothing after the query; reading only detects close.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-sub.C():
			if !ok {
				return
			}
			if err := sendMessage(ws, Message{Kind: "result", Result: &res}); err != nil {
				return
			}
		}
	}
}

func sendMessage(ws *websocket.Conn, m Message) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	err := ws.WriteJSON(m)
	if err != nil {
		slog.Warn("failed to write websocket message", "error", err)
	}
	return err
}
