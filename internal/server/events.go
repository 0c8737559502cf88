/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/audioservice/internal/events"
	"github.com/friendsincode/audioservice/internal/telemetry"
)

const pingInterval = 15 * time.Second

// handleEvents streams control messages to a websocket client, one JSON
// text frame per message.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.EventStreamClients.Inc()
	defer telemetry.EventStreamClients.Dec()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	sub := s.bus.Subscribe(events.EventControlMessage)
	defer s.bus.Unsubscribe(events.EventControlMessage, sub)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "server stopping")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				s.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// writeEvent frames one control message. The payload map is shared between
// subscribers, so the "event" entry is lifted into a copy rather than removed.
func writeEvent(ctx context.Context, conn *ws.Conn, payload events.Payload) error {
	frame := make(events.Payload, len(payload))
	var eventType any
	for k, v := range payload {
		if k == "event" {
			eventType = v
			continue
		}
		frame[k] = v
	}

	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": frame,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}
