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
)

// DuplicateCallError is returned by SessionRegistry.Create when a session
// already exists for the call ID. Webhook re-delivery is not deduplicated
// here; idempotency is the caller's responsibility.
type DuplicateCallError struct {
	CallID string
}

// Error implements the error interface.
func (e *DuplicateCallError) Error() string {
	return fmt.Sprintf("call %s already has an active session", e.CallID)
}

// SessionRegistry is the call_id → CallSession directory. It is the sole
// owner of session lifecycle and is safe for concurrent use. The audio relay
// is process-wide and shared by every session; subscriptions are independent
// per call.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession

	config *Config
	relay  *AudioRelay
}

// NewSessionRegistry creates an empty registry whose sessions share config
// and one process-wide audio relay.
func NewSessionRegistry(config *Config) *SessionRegistry {
	if config == nil {
		config = DefaultConfig()
	}
	return &SessionRegistry{
		sessions: make(map[string]*CallSession),
		config:   config,
		relay:    NewAudioRelay(),
	}
}

// Create builds a session for callID, answers the inbound offer, and returns
// the session with the answer SDP. Returns *DuplicateCallError if a session
// already exists for callID.
func (r *SessionRegistry) Create(callID, offerSDP string, metadata CallMetadata) (*CallSession, string, error) {
	r.mu.Lock()
	if _, ok := r.sessions[callID]; ok {
		r.mu.Unlock()
		return nil, "", &DuplicateCallError{CallID: callID}
	}
	// Reserve the slot before the (slow) answer so a concurrent duplicate
	// fails fast instead of racing a second telephony leg.
	r.sessions[callID] = nil
	r.mu.Unlock()

	session, answerSDP, err := NewCallSession(callID, offerSDP, metadata, r.config, r.relay)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, callID)
		r.mu.Unlock()
		return nil, "", err
	}

	r.mu.Lock()
	if _, ok := r.sessions[callID]; !ok {
		// A terminate evicted the reserved slot while the session was
		// still being set up.
		r.mu.Unlock()
		session.Close()
		return nil, "", fmt.Errorf("call %s was terminated during setup", callID)
	}
	r.sessions[callID] = session
	r.mu.Unlock()
	return session, answerSDP, nil
}

// Get returns the session for callID, or nil if absent.
func (r *SessionRegistry) Get(callID string) *CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close evicts the session for callID and closes its connections.
// Best-effort: absent sessions and close failures are logged and swallowed,
// never propagated, because the call is ending regardless.
func (r *SessionRegistry) Close(callID string) {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	delete(r.sessions, callID)
	r.mu.Unlock()

	if !ok {
		log.Printf("registry: close for unknown call %s", callID)
		return
	}
	if session == nil {
		log.Printf("registry: close for call %s still being set up", callID)
		return
	}
	session.Close()
}

// CloseAll evicts and closes every session. Used on process shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*CallSession)
	r.mu.Unlock()

	for id, session := range sessions {
		if session == nil {
			continue
		}
		log.Printf("registry: closing call %s on shutdown", id)
		session.Close()
	}
}
