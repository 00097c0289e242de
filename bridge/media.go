/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaConnection wraps one Pion peer connection for a single leg of the
// bridge. The TELEPHONY role answers an inbound offer (remote description
// first); the AI_BACKEND role originates the offer (local description first)
// and negotiates against the backend's HTTP endpoint. Re-negotiation is not
// supported: each description is set at most once.
type MediaConnection struct {
	mu sync.Mutex

	role Role
	pc   *webrtc.PeerConnection
	api  *webrtc.API

	// outboundSender is the sender negotiated for outbound audio on the
	// TELEPHONY leg. The connection owns it; CallSession only looks it up.
	outboundSender *webrtc.RTPSender

	onInboundTrack func(track *webrtc.TrackRemote)

	localSet  bool
	remoteSet bool
	closed    bool
}

// NewMediaConnection creates a media connection for the given role.
func NewMediaConnection(role Role, config *MediaConfig) (*MediaConnection, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}

	m := &webrtc.MediaEngine{}
	// Opus is what both the telephony provider and the AI backend negotiate.
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register Opus: %w", err)
	}
	if role == RoleTelephony {
		// G.711 as a fallback for providers that won't take Opus.
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			PayloadType:        0,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register PCMU: %w", err)
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
			PayloadType:        8,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register PCMA: %w", err)
		}
	}

	// Register default interceptors (RTCP reports, NACK, TWCC). Required when
	// using a custom MediaEngine, otherwise Pion won't process incoming SRTP
	// properly and OnTrack may not fire.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &MediaConnection{
		role: role,
		pc:   pc,
		api:  api,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("%s PC: connection state → %s", role, s.String())
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Printf("%s PC: ICE connection state → %s", role, s.String())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("%s PC: inbound track codec=%s ssrc=%d", role, track.Codec().MimeType, track.SSRC())
		conn.mu.Lock()
		handler := conn.onInboundTrack
		conn.mu.Unlock()
		if handler != nil {
			handler(track)
		}
	})

	return conn, nil
}

// Role returns the role of this connection.
func (m *MediaConnection) Role() Role {
	return m.role
}

// OnInboundTrack sets the callback invoked for each inbound audio track.
func (m *MediaConnection) OnInboundTrack(handler func(track *webrtc.TrackRemote)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInboundTrack = handler
}

// AnswerOffer applies the remote SDP offer, ensures an outbound audio slot
// exists on every offered audio section, and returns the local SDP answer.
// Only valid for the TELEPHONY role.
//
// The outbound slot is claimed up front, with a placeholder local track on
// the offered transceiver, so audio can flow back to the caller later
// without renegotiation; the resulting sender is recorded and retrievable
// via OutboundAudioSender.
func (m *MediaConnection) AnswerOffer(offerSDP string) (string, error) {
	if m.role != RoleTelephony {
		return "", fmt.Errorf("answer offer: connection role is %s, want %s", m.role, RoleTelephony)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remoteSet {
		return "", fmt.Errorf("remote description already set")
	}
	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}
	m.remoteSet = true

	// Claim the send direction on the offered audio section.
	placeholder, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"voicebridge-"+uuid.New().String(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create outbound audio track: %w", err)
	}
	sender, err := m.pc.AddTrack(placeholder)
	if err != nil {
		return "", fmt.Errorf("failed to attach outbound audio track: %w", err)
	}
	m.outboundSender = sender
	go drainRTCP(sender)

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	m.localSet = true

	// Wait for ICE gathering so the answer carries candidates.
	<-webrtc.GatheringCompletePromise(m.pc)

	localDesc := m.pc.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return localDesc.SDP, nil
}

// AddOutboundTrack adds a sendrecv transceiver carrying the given local
// track, for legs where this side originates the offer.
func (m *MediaConnection) AddOutboundTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transceiver, err := m.pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	go drainRTCP(transceiver.Sender())
	return nil
}

// CreateControlChannel creates an ordered, reliable data channel on the
// connection. Must be called before Offer so the channel is negotiated.
func (m *MediaConnection) CreateControlChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := m.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return dc, nil
}

// Offer creates the local SDP offer, sets it as the local description, and
// returns it with ICE candidates gathered. Only valid for the AI_BACKEND
// role.
func (m *MediaConnection) Offer() (string, error) {
	if m.role != RoleAIBackend {
		return "", fmt.Errorf("offer: connection role is %s, want %s", m.role, RoleAIBackend)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.localSet {
		return "", fmt.Errorf("local description already set")
	}
	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	m.localSet = true

	<-webrtc.GatheringCompletePromise(m.pc)

	localDesc := m.pc.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return localDesc.SDP, nil
}

// ApplyAnswer sets the remote SDP answer on the connection. If the
// connection is already stable (answer already applied), this is a no-op.
func (m *MediaConnection) ApplyAnswer(answerSDP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc.SignalingState() == webrtc.SignalingStateStable {
		log.Printf("%s PC: ignoring duplicate SDP answer (signaling state already stable)", m.role)
		return nil
	}
	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	m.remoteSet = true
	return nil
}

// OutboundAudioSender returns the sender negotiated for outbound audio, or
// nil if none was claimed. The connection retains ownership.
func (m *MediaConnection) OutboundAudioSender() *webrtc.RTPSender {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outboundSender
}

// AttachOutboundTrack routes the given local track toward the remote peer.
// If an outbound sender was negotiated during the answer, the track replaces
// the sender's current one with no renegotiation needed. Otherwise it falls
// back to AddTrack; the new section is not renegotiated here, so audio stays
// pending until a future negotiation (degraded, logged).
func (m *MediaConnection) AttachOutboundTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	sender := m.outboundSender
	m.mu.Unlock()

	if sender != nil {
		if err := sender.ReplaceTrack(track); err == nil {
			return nil
		} else {
			log.Printf("%s PC: replaceTrack failed, falling back to addTrack: %v", m.role, err)
		}
	} else {
		log.Printf("%s PC: no negotiated outbound sender, falling back to addTrack (degraded: no audio until renegotiation)", m.role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	newSender, err := m.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add outbound track: %w", err)
	}
	go drainRTCP(newSender)
	return nil
}

// ConnectionState returns the current peer connection state.
func (m *MediaConnection) ConnectionState() webrtc.PeerConnectionState {
	return m.pc.ConnectionState()
}

// PeerConnection returns the underlying Pion peer connection for advanced use.
func (m *MediaConnection) PeerConnection() *webrtc.PeerConnection {
	return m.pc
}

// Close closes the peer connection and releases resources.
func (m *MediaConnection) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

// drainRTCP reads RTCP from a sender to keep the connection's feedback loop
// alive.
func drainRTCP(sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}
