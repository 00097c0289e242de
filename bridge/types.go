/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// ---- Enums / Constants ----

// Role identifies which side of the bridge a media connection faces.
type Role string

const (
	RoleTelephony Role = "telephony"
	RoleAIBackend Role = "ai_backend"
)

// Status represents the conversation state of a call session.
type Status string

const (
	StatusWaitingContact           Status = "waiting_contact"
	StatusWaitingResponse          Status = "waiting_response"
	StatusOrchestrationInterrupted Status = "orchestration_interrupted"
	StatusResponding               Status = "responding"
)

// ControlChannelState represents the state of the control channel to the
// AI backend.
type ControlChannelState string

const (
	ControlChannelConnecting ControlChannelState = "connecting"
	ControlChannelOpen       ControlChannelState = "open"
	ControlChannelClosed     ControlChannelState = "closed"
)

// ---- Collaborator interfaces ----

// CallMetadata carries caller/tenant details captured at call setup. The
// bridge itself never interprets these; they are forwarded verbatim on
// orchestration requests.
type CallMetadata struct {
	From       string
	To         string
	Attributes map[string]string
}

// ResponderRequest is one orchestration round-trip: the accumulated caller
// input plus the call identity and metadata.
type ResponderRequest struct {
	CallID   string
	Input    string
	Metadata CallMetadata
}

// Responder is the orchestration backend collaborator. Given a transcript it
// returns the final reply text. Calls may be long-running; implementations
// must honor context cancellation.
type Responder interface {
	Respond(ctx context.Context, req ResponderRequest) (string, error)
}

// Negotiator is the AI voice backend negotiation collaborator. It submits an
// SDP offer together with request-scoped instructions and returns the
// backend's answer SDP.
type Negotiator interface {
	Negotiate(ctx context.Context, offerSDP, instructions string) (string, error)
}

// ---- Config ----

// MediaConfig holds configuration for media connections.
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
}

// DefaultMediaConfig returns a MediaConfig with sensible defaults.
// STUN is needed because the bridge typically runs behind NAT and both the
// telephony provider and the AI backend need a public srflx candidate.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Config holds configuration for the session registry and the sessions it
// creates.
type Config struct {
	// Media is the WebRTC configuration shared by both legs of every call.
	Media *MediaConfig

	// Negotiator submits AI backend SDP offers. Required for bridge setup;
	// if nil, inbound audio tracks leave the call telephony-only.
	Negotiator Negotiator

	// Responder is the orchestration backend. Required for turn-taking;
	// if nil, transcripts are logged and dropped.
	Responder Responder

	// Instructions are the request-scoped instructions submitted with the
	// AI backend negotiation.
	Instructions string

	// FillerText, when non-empty, is spoken while the orchestration backend
	// is working, subject to FillerCooldown.
	FillerText string

	// FillerCooldown is the minimum interval between filler messages.
	// Default: 7s.
	FillerCooldown time.Duration
}

// DefaultFillerCooldown is the minimum interval between filler messages when
// Config.FillerCooldown is unset.
const DefaultFillerCooldown = 7 * time.Second

// DefaultConfig returns a Config with media defaults applied. Negotiator and
// Responder must still be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		Media:          DefaultMediaConfig(),
		FillerCooldown: DefaultFillerCooldown,
	}
}
