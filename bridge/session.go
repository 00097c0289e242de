/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const defaultTranscriptionModel = "whisper-1"

// orchestrationRequest is the cancellable handle for one in-flight
// orchestration round-trip.
type orchestrationRequest struct {
	cancel context.CancelFunc
}

// CallSession is the per-call aggregate: both media legs, the control
// channel, and the turn-taking state machine. All state transitions are
// serialized by the session mutex; the mutex is never held across network
// I/O (negotiation, orchestration).
type CallSession struct {
	mu sync.Mutex

	callID   string
	metadata CallMetadata
	config   *Config
	relay    *AudioRelay

	status       Status
	pendingInput string
	active       *orchestrationRequest

	telephony *MediaConnection
	ai        *MediaConnection
	aiSink    *webrtc.TrackLocalStaticRTP
	control   *ControlChannel

	lastFillerSentAt time.Time
	now              func() time.Time

	ctx       context.Context
	ctxCancel context.CancelFunc
	closed    bool
}

// NewCallSession creates a session for callID, answers the inbound telephony
// offer, and returns the session together with the answer SDP. The caller
// (the webhook/accept flow) delivers the answer to the telephony provider.
//
// Failure here is fatal for the call: without a telephony leg there is
// nothing to bridge.
func NewCallSession(callID, offerSDP string, metadata CallMetadata, config *Config, relay *AudioRelay) (*CallSession, string, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if relay == nil {
		relay = NewAudioRelay()
	}

	telephony, err := NewMediaConnection(RoleTelephony, config.Media)
	if err != nil {
		return nil, "", fmt.Errorf("call %s: telephony connection: %w", callID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		callID:    callID,
		metadata:  metadata,
		config:    config,
		relay:     relay,
		status:    StatusWaitingContact,
		telephony: telephony,
		now:       time.Now,
		ctx:       ctx,
		ctxCancel: cancel,
	}

	telephony.OnInboundTrack(func(track *webrtc.TrackRemote) {
		go s.setupBridge(track)
	})

	answerSDP, err := telephony.AnswerOffer(offerSDP)
	if err != nil {
		cancel()
		if cerr := telephony.Close(); cerr != nil {
			log.Printf("call %s: closing telephony connection after answer failure: %v", callID, cerr)
		}
		return nil, "", fmt.Errorf("call %s: answer offer: %w", callID, err)
	}

	return s, answerSDP, nil
}

// CallID returns the session's call identifier.
func (s *CallSession) CallID() string {
	return s.callID
}

// Status returns the session's conversation status.
func (s *CallSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PendingInput returns the accumulated, not-yet-answered caller input.
func (s *CallSession) PendingInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInput
}

// TelephonyConnection returns the telephony-leg media connection.
func (s *CallSession) TelephonyConnection() *MediaConnection {
	return s.telephony
}

// AIConnection returns the AI-leg media connection, or nil before bridge
// setup (or after a failed negotiation).
func (s *CallSession) AIConnection() *MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ai
}

// setupBridge runs once per inbound telephony audio track. The first track
// creates and negotiates the AI leg; any further track (or a track arriving
// while negotiation is still in flight) just joins the existing relay.
// Negotiation failure tears down only the AI leg; the telephony leg stays
// up, and a future inbound track retries from scratch.
func (s *CallSession) setupBridge(track RTPReader) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.ai != nil {
		sink := s.aiSink
		s.mu.Unlock()
		if err := s.relay.Subscribe(track, sink); err != nil {
			log.Printf("call %s: relay subscribe (additional track): %v", s.callID, err)
		}
		return
	}

	if s.config.Negotiator == nil {
		s.mu.Unlock()
		log.Printf("call %s: no negotiator configured, call remains telephony-only", s.callID)
		return
	}

	ai, err := NewMediaConnection(RoleAIBackend, s.config.Media)
	if err != nil {
		s.mu.Unlock()
		log.Printf("call %s: AI connection: %v", s.callID, err)
		return
	}

	control := NewControlChannel(s.handleControlOpen, s.handleControlEvent, nil)
	dc, err := ai.CreateControlChannel(ControlChannelLabel)
	if err != nil {
		s.mu.Unlock()
		log.Printf("call %s: control channel: %v", s.callID, err)
		if cerr := ai.Close(); cerr != nil {
			log.Printf("call %s: closing AI connection: %v", s.callID, cerr)
		}
		return
	}
	control.Bind(dc)

	aiSink, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"voicebridge-caller-"+uuid.New().String(),
	)
	if err != nil {
		s.mu.Unlock()
		log.Printf("call %s: caller audio sink: %v", s.callID, err)
		if cerr := ai.Close(); cerr != nil {
			log.Printf("call %s: closing AI connection: %v", s.callID, cerr)
		}
		return
	}
	if err := ai.AddOutboundTrack(aiSink); err != nil {
		s.mu.Unlock()
		log.Printf("call %s: outbound track on AI leg: %v", s.callID, err)
		if cerr := ai.Close(); cerr != nil {
			log.Printf("call %s: closing AI connection: %v", s.callID, cerr)
		}
		return
	}
	ai.OnInboundTrack(func(aiTrack *webrtc.TrackRemote) {
		s.handleAIBackendTrack(aiTrack)
	})

	// Publish the AI leg before negotiating so concurrent tracks take the
	// subscribe-only path instead of racing a second negotiation.
	s.ai = ai
	s.aiSink = aiSink
	s.control = control
	s.mu.Unlock()

	if err := s.relay.Subscribe(track, aiSink); err != nil {
		log.Printf("call %s: relay subscribe (caller→AI): %v", s.callID, err)
	}

	if err := s.negotiateAILeg(ai); err != nil {
		log.Printf("call %s: AI leg negotiation failed, continuing telephony-only: %v", s.callID, err)
		s.mu.Lock()
		s.ai = nil
		s.aiSink = nil
		s.control = nil
		s.mu.Unlock()
		if cerr := ai.Close(); cerr != nil {
			log.Printf("call %s: closing AI connection: %v", s.callID, cerr)
		}
	}
}

func (s *CallSession) negotiateAILeg(ai *MediaConnection) error {
	offerSDP, err := ai.Offer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	answerSDP, err := s.config.Negotiator.Negotiate(s.ctx, offerSDP, s.config.Instructions)
	if err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	if err := ai.ApplyAnswer(answerSDP); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// handleAIBackendTrack routes AI speech back to the caller: republish the
// inbound track as a local track on the telephony leg and relay into it.
func (s *CallSession) handleAIBackendTrack(track *webrtc.TrackRemote) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		track.Codec().RTPCodecCapability,
		"audio",
		"voicebridge-ai-"+uuid.New().String(),
	)
	if err != nil {
		log.Printf("call %s: AI audio sink: %v", s.callID, err)
		return
	}
	if err := s.telephony.AttachOutboundTrack(local); err != nil {
		log.Printf("call %s: attaching AI audio to telephony leg: %v", s.callID, err)
		return
	}
	if err := s.relay.Subscribe(track, local); err != nil {
		log.Printf("call %s: relay subscribe (AI→caller): %v", s.callID, err)
	}
}

// handleControlOpen configures the backend session the moment the control
// channel opens: semantic VAD with automatic responses off, so this bridge
// decides when the backend speaks.
func (s *CallSession) handleControlOpen() {
	payload, err := NewSessionUpdate(defaultTranscriptionModel)
	if err != nil {
		log.Printf("call %s: building session.update: %v", s.callID, err)
		return
	}
	s.mu.Lock()
	control := s.control
	s.mu.Unlock()
	if control == nil {
		return
	}
	if err := control.Send(payload); err != nil {
		log.Printf("call %s: sending session.update: %v", s.callID, err)
	}
}

// handleControlEvent dispatches one inbound control event.
func (s *CallSession) handleControlEvent(ev ControlEvent) {
	switch ev.Type {
	case EventSessionUpdated:
		log.Printf("call %s: backend session configuration acknowledged", s.callID)
	case EventError:
		log.Printf("call %s: backend error event: %s", s.callID, ev.ErrorMessage)
	case EventInputCommitted:
		// Reserved hook point.
	case EventTranscriptionCompleted:
		s.HandleTranscript(ev.Transcript)
	}
}

// HandleTranscript drives the turn-taking state machine with one caller
// transcript. With no orchestration in flight, the accumulated input is
// submitted immediately. With one in flight, the transcript is merged into
// pending input, the in-flight request is cancelled, and the merged input is
// resubmitted once the cancelled request settles.
func (s *CallSession) HandleTranscript(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.appendPendingLocked(text)

	if s.active != nil {
		s.status = StatusOrchestrationInterrupted
		s.active.cancel()
		return
	}
	s.submitLocked()
}

// appendPendingLocked merges one transcript into pending input. Pending is
// only non-empty here when a prior turn was interrupted or failed, so the
// merge preserves that turn's text.
func (s *CallSession) appendPendingLocked(text string) {
	if s.pendingInput == "" {
		s.pendingInput = text
		return
	}
	s.pendingInput = s.pendingInput + "\n" + text
}

// submitLocked starts a cancellable orchestration call for the current
// pending input and enters WAITING_RESPONSE. Caller must hold s.mu.
func (s *CallSession) submitLocked() {
	if s.pendingInput == "" {
		return
	}
	if s.config.Responder == nil {
		log.Printf("call %s: no responder configured, dropping input %q", s.callID, s.pendingInput)
		s.pendingInput = ""
		return
	}

	s.status = StatusWaitingResponse

	ctx, cancel := context.WithCancel(s.ctx)
	req := &orchestrationRequest{cancel: cancel}
	s.active = req

	input := s.pendingInput
	s.maybeSendFillerLocked()

	go func() {
		defer cancel()
		reply, err := s.config.Responder.Respond(ctx, ResponderRequest{
			CallID:   s.callID,
			Input:    input,
			Metadata: s.metadata,
		})
		s.finishOrchestration(req, reply, err)
	}()
}

// finishOrchestration settles one orchestration round-trip. Stale results
// (the request is no longer active) are discarded. A result arriving after
// an interruption is discarded too, since cancellation is cooperative and
// completion can race it; the merged pending input is resubmitted. A plain
// failure produces no spoken output; pending input is kept for the next
// transcript.
func (s *CallSession) finishOrchestration(req *orchestrationRequest, reply string, err error) {
	s.mu.Lock()

	if s.active != req {
		s.mu.Unlock()
		log.Printf("call %s: discarding stale orchestration result", s.callID)
		return
	}
	s.active = nil

	if s.status == StatusOrchestrationInterrupted {
		log.Printf("call %s: orchestration interrupted, resubmitting merged input", s.callID)
		s.submitLocked()
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.mu.Unlock()
		log.Printf("call %s: orchestration failed, no response this turn: %v", s.callID, err)
		return
	}

	s.pendingInput = ""
	s.status = StatusResponding
	control := s.control
	s.mu.Unlock()

	payload, mErr := NewResponseCreate(reply)
	if mErr != nil {
		log.Printf("call %s: building response.create: %v", s.callID, mErr)
		return
	}
	if control == nil {
		log.Printf("call %s: no control channel, dropping response", s.callID)
		return
	}
	if sErr := control.Send(payload); sErr != nil {
		log.Printf("call %s: sending response.create: %v", s.callID, sErr)
	}
}

// maybeSendFillerLocked emits the configured filler message, rate-limited by
// the cooldown. Triggers inside the cooldown window are dropped, not queued.
// Caller must hold s.mu.
func (s *CallSession) maybeSendFillerLocked() {
	if s.config.FillerText == "" || s.control == nil {
		return
	}
	cooldown := s.config.FillerCooldown
	if cooldown <= 0 {
		cooldown = DefaultFillerCooldown
	}

	now := s.now()
	if !s.lastFillerSentAt.IsZero() && now.Sub(s.lastFillerSentAt) < cooldown {
		return
	}
	s.lastFillerSentAt = now

	payload, err := NewResponseCreate(s.config.FillerText)
	if err != nil {
		log.Printf("call %s: building filler message: %v", s.callID, err)
		return
	}
	if err := s.control.Send(payload); err != nil {
		log.Printf("call %s: sending filler message: %v", s.callID, err)
	}
}

// Close tears the session down: cancels any in-flight orchestration and
// closes both media legs. Close failures are logged, never propagated; the
// call is ending regardless.
func (s *CallSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
	telephony := s.telephony
	ai := s.ai
	s.ai = nil
	s.aiSink = nil
	s.mu.Unlock()

	s.ctxCancel()

	if ai != nil {
		if err := ai.Close(); err != nil {
			log.Printf("call %s: closing AI connection: %v", s.callID, err)
		}
	}
	if telephony != nil {
		if err := telephony.Close(); err != nil {
			log.Printf("call %s: closing telephony connection: %v", s.callID, err)
		}
	}
}
