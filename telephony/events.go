/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package telephony handles the provider-facing side of a call: decoding
// call webhook events, answering them through the accept REST API, and
// optionally consuming the provider's websocket event stream.
package telephony

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a call webhook event.
type EventType string

const (
	// EventIncomingCall announces a ringing call; it carries the SDP offer.
	EventIncomingCall EventType = "incoming_call"

	// EventTerminate announces the end of a call.
	EventTerminate EventType = "terminate"
)

// Event is one decoded call webhook event.
type Event struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`

	// SDP is the caller's offer. Present only on incoming_call events.
	SDP string `json:"sdp,omitempty"`

	// Caller details, forwarded opaquely to the orchestration backend.
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DecodeEvent decodes and validates one webhook payload.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed call event: %w", err)
	}
	if ev.CallID == "" {
		return nil, fmt.Errorf("call event is missing call_id")
	}
	switch ev.Type {
	case EventIncomingCall:
		if ev.SDP == "" {
			return nil, fmt.Errorf("incoming_call event for %s is missing the SDP offer", ev.CallID)
		}
	case EventTerminate:
		// No payload beyond call_id.
	default:
		return nil, fmt.Errorf("unsupported call event type %q", ev.Type)
	}
	return &ev, nil
}
