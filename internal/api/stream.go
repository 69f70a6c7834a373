package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/dex"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamMessage is one event on the websocket feed.
type StreamMessage struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// handleWebSocket streams committed market events. The optional types query
// parameter is a comma separated list of event types to receive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := make(map[string]bool)
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" && t != dex.EventTypeAll {
			filter[t] = true
		}
	}

	// Subscribe before the handshake completes so the client sees every
	// event committed after its dial returns.
	events := s.market.Events()
	ch := events.Subscribe(dex.EventTypeAll)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		events.Unsubscribe(dex.EventTypeAll, ch)
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()
	s.metrics.StreamConnected(1)
	s.wg.Add(1)

	s.logger.Debug("Stream client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go s.readPump(conn, done)
	go func() {
		defer s.wg.Done()
		defer func() {
			events.Unsubscribe(dex.EventTypeAll, ch)
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			conn.Close()
			s.metrics.StreamConnected(-1)
			s.logger.Debug("Stream client disconnected", zap.String("remote", r.RemoteAddr))
		}()
		s.writePump(conn, ch, filter, done)
	}()
}

// readPump discards client frames and closes done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, ch <-chan interface{}, filter map[string]bool, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			msg := newStreamMessage(event)
			if len(filter) > 0 && !filter[msg.Type] {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func newStreamMessage(event interface{}) StreamMessage {
	msg := StreamMessage{Type: dex.EventType(event), Data: make(map[string]string)}

	switch e := event.(type) {
	case dex.EventTokenPurchase:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["account"] = e.Account
		msg.Data["currency"] = e.Currency.String()
		msg.Data["tokens"] = e.Tokens.String()
		msg.Data["referred_by"] = e.ReferredBy
	case dex.EventTokenSell:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["account"] = e.Account
		msg.Data["tokens"] = e.Tokens.String()
		msg.Data["currency"] = e.Currency.String()
	case dex.EventTransfer:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["from"] = e.From
		msg.Data["to"] = e.To
		msg.Data["tokens"] = e.Tokens.String()
		msg.Data["received"] = e.Received.String()
	case dex.EventReinvestment:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["account"] = e.Account
		msg.Data["currency"] = e.Currency.String()
		msg.Data["tokens"] = e.Tokens.String()
	case dex.EventWithdraw:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["account"] = e.Account
		msg.Data["currency"] = e.Currency.String()
	case dex.EventExit:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["account"] = e.Account
		msg.Data["tokens_sold"] = e.TokensSold.String()
		msg.Data["withdrawn"] = e.Withdrawn.String()
	case dex.EventPhaseEnded:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["trigger"] = e.Trigger
	case dex.EventAdminChange:
		msg.ID, msg.Timestamp = e.ID, e.Timestamp
		msg.Data["caller"] = e.Caller
		msg.Data["change"] = e.Change
		msg.Data["value"] = e.Value
	}
	return msg
}
