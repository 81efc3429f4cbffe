package session

import (
	"chat-relay/domain"
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// readPump delivers inbound frames until the connection fails, the client
// closes it, or no pong arrives within PongWait.
func (s *Session) readPump(ctx context.Context) {
	// Room for the content plus its JSON envelope and escapes
	s.conn.SetReadLimit(int64(s.cfg.MaxContentLength)*6 + 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Connection lost", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.notify(newErrorFrame(CodeMalformedPayload, "text frames only"))
			continue
		}
		// Errors were reported to the client, the connection is kept
		_ = s.OnInboundPayload(ctx, raw)
	}
}

// writePump is the only writer of the connection. It first writes the replay,
// then live messages, error frames and pings, and finally the close frame.
func (s *Session) writePump(replay []domain.Message) {
	defer close(s.writerDone)
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	var lastReplayed int64
	for _, message := range replay {
		if err := s.writeJSON(message); err != nil {
			s.abort(err)
			return
		}
		lastReplayed = message.ID
	}

	for {
		select {
		case <-s.closing:
			s.writeClose()
			return
		case message := <-s.queue:
			// Already part of the replay
			if message.ID <= lastReplayed {
				continue
			}
			if err := s.writeJSON(message); err != nil {
				s.abort(err)
				return
			}
		case frame := <-s.notices:
			if err := s.writeJSON(frame); err != nil {
				s.abort(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.abort(err)
				return
			}
		}
	}
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// writeClose sends the close frame carrying the session close code.
func (s *Session) writeClose() {
	code := s.code()
	payload := websocket.FormatCloseMessage(int(code), code.String())
	if err := s.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(s.cfg.WriteWait)); err != nil {
		s.log.Debug("Close frame not sent", "error", err)
	}
	// Unblocks the read pump
	_ = s.conn.Close()
}

// abort ends a session whose transport failed.
func (s *Session) abort(err error) {
	s.log.Debug("Write failed", "error", err)
	s.closeWith(domain.GoingAway)
	_ = s.conn.Close()
}
