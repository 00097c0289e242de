/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"encoding/json"
)

// ControlEventType identifies an inbound control event from the AI backend.
type ControlEventType string

const (
	// EventSessionUpdated confirms the backend applied a session.update.
	EventSessionUpdated ControlEventType = "session.updated"

	// EventError is an error report from the backend.
	EventError ControlEventType = "error"

	// EventInputCommitted signals the backend committed a chunk of caller
	// audio (end of a speech segment).
	EventInputCommitted ControlEventType = "input_audio_buffer.committed"

	// EventTranscriptionCompleted carries the transcript of a committed
	// audio segment.
	EventTranscriptionCompleted ControlEventType = "conversation.item.input_audio_transcription.completed"

	// EventUnknown is returned for unrecognized or malformed events.
	EventUnknown ControlEventType = ""
)

// ControlEvent is one decoded inbound control event. Only the fields relevant
// to the event's type are populated.
type ControlEvent struct {
	Type ControlEventType

	// Transcript is the caller's transcribed speech. Set for
	// EventTranscriptionCompleted.
	Transcript string

	// ErrorMessage is the backend error description. Set for EventError.
	ErrorMessage string

	// Raw is the original JSON payload, kept for logging.
	Raw []byte
}

type inboundEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeControlEvent decodes a raw control channel message. Malformed JSON
// and unrecognized types yield an event of type EventUnknown rather than an
// error; unknown events are logged and skipped, never fatal.
func DecodeControlEvent(data []byte) ControlEvent {
	ev := ControlEvent{Type: EventUnknown, Raw: data}

	var parsed inboundEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ev
	}

	switch ControlEventType(parsed.Type) {
	case EventSessionUpdated:
		ev.Type = EventSessionUpdated
	case EventError:
		ev.Type = EventError
		ev.ErrorMessage = parsed.Error.Message
	case EventInputCommitted:
		ev.Type = EventInputCommitted
	case EventTranscriptionCompleted:
		ev.Type = EventTranscriptionCompleted
		ev.Transcript = parsed.Transcript
	}
	return ev
}

// --- Outbound messages ---

type turnDetection struct {
	Type              string `json:"type"`
	CreateResponse    bool   `json:"create_response"`
	InterruptResponse bool   `json:"interrupt_response"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type sessionUpdateBody struct {
	Type                    string             `json:"type"`
	TurnDetection           turnDetection      `json:"turn_detection"`
	InputAudioTranscription inputTranscription `json:"input_audio_transcription"`
}

type sessionUpdateMessage struct {
	Type    string            `json:"type"`
	Session sessionUpdateBody `json:"session"`
}

// NewSessionUpdate builds the session.update message sent when the control
// channel opens. It switches the backend into bridge mode: semantic voice
// activity detection with automatic responses disabled (the orchestration
// layer decides what is spoken) and input transcription enabled.
func NewSessionUpdate(transcriptionModel string) ([]byte, error) {
	msg := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionUpdateBody{
			Type: "realtime",
			TurnDetection: turnDetection{
				Type:              "semantic_vad",
				CreateResponse:    false,
				InterruptResponse: true,
			},
			InputAudioTranscription: inputTranscription{
				Model: transcriptionModel,
			},
		},
	}
	return json.Marshal(msg)
}

type responseBody struct {
	Conversation string `json:"conversation"`
	Instructions string `json:"instructions"`
}

type responseCreateMessage struct {
	Type     string       `json:"type"`
	Response responseBody `json:"response"`
}

// NewResponseCreate builds the response.create message instructing the
// backend to speak the given text. conversation:"none" keeps the utterance
// out of the backend's own conversation state; the orchestration layer owns
// the dialogue history.
func NewResponseCreate(text string) ([]byte, error) {
	msg := responseCreateMessage{
		Type: "response.create",
		Response: responseBody{
			Conversation: "none",
			Instructions: text,
		},
	}
	return json.Marshal(msg)
}
