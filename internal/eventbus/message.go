/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards control messages to external brokers so other
// processes can follow session activity.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/events"
	"github.com/google/uuid"
)

// envelope is the wire form of a control message on every broker.
type envelope struct {
	Type      events.EventType `json:"type"`
	Session   int              `json:"session"`
	Kind      string           `json:"kind"`
	Line      string           `json:"line"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalMessage(msg control.Message, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		Type:      control.EventType(msg.Kind),
		Session:   msg.Session,
		Kind:      msg.Kind.String(),
		Line:      msg.String(),
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal control message: %w", err)
	}
	return &env, nil
}

// NodeID identifies this process on shared brokers: hostname plus a random
// suffix.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "audioservice"
	}
	return host + "-" + uuid.NewString()[:8]
}
