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

	"github.com/pion/webrtc/v4"
)

// ControlChannelLabel is the data channel label the AI backend expects for
// control events.
const ControlChannelLabel = "oai-events"

// ControlSender sends text frames on a data channel. *webrtc.DataChannel
// satisfies this interface.
type ControlSender interface {
	SendText(s string) error
}

// ControlChannel manages the JSON control event stream to the AI backend over
// a WebRTC data channel. Sends before the channel opens, or after it closes,
// are dropped: control messages only make sense against a live backend
// session, so there is nothing to queue.
type ControlChannel struct {
	mu     sync.Mutex
	state  ControlChannelState
	sender ControlSender

	onOpen  func()
	onEvent func(ev ControlEvent)
	onClose func()
}

// NewControlChannel creates a control channel in the connecting state.
// onOpen fires when the underlying channel opens, onEvent for every decoded
// inbound event, onClose when the channel closes. Any callback may be nil.
func NewControlChannel(onOpen func(), onEvent func(ev ControlEvent), onClose func()) *ControlChannel {
	return &ControlChannel{
		state:   ControlChannelConnecting,
		onOpen:  onOpen,
		onEvent: onEvent,
		onClose: onClose,
	}
}

// Bind wires the control channel to a Pion data channel.
func (c *ControlChannel) Bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.sender = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.HandleOpen()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.HandleRaw(msg.Data)
	})
	dc.OnClose(func() {
		c.HandleClose()
	})
}

// SetSender sets the underlying sender directly. Bind does this for real
// data channels.
func (c *ControlChannel) SetSender(sender ControlSender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = sender
}

// State returns the current channel state.
func (c *ControlChannel) State() ControlChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleOpen transitions the channel to open and fires the open callback.
func (c *ControlChannel) HandleOpen() {
	c.mu.Lock()
	if c.state != ControlChannelConnecting {
		c.mu.Unlock()
		return
	}
	c.state = ControlChannelOpen
	c.mu.Unlock()

	log.Printf("control channel open")
	if c.onOpen != nil {
		c.onOpen()
	}
}

// HandleRaw decodes one inbound message and dispatches it. Unknown and
// malformed events are logged and skipped.
func (c *ControlChannel) HandleRaw(data []byte) {
	ev := DecodeControlEvent(data)
	if ev.Type == EventUnknown {
		log.Printf("control channel: ignoring unrecognized event: %.256s", string(data))
		return
	}
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// HandleClose transitions the channel to closed and fires the close callback.
func (c *ControlChannel) HandleClose() {
	c.mu.Lock()
	if c.state == ControlChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = ControlChannelClosed
	c.mu.Unlock()

	log.Printf("control channel closed")
	if c.onClose != nil {
		c.onClose()
	}
}

// Send transmits one JSON message to the backend. Returns an error only for
// transport failures on an open channel; messages sent while the channel is
// not open are dropped with a log line and a nil return.
func (c *ControlChannel) Send(payload []byte) error {
	c.mu.Lock()
	state := c.state
	sender := c.sender
	c.mu.Unlock()

	if state != ControlChannelOpen || sender == nil {
		log.Printf("control channel: dropping message, channel state is %s", state)
		return nil
	}
	if err := sender.SendText(string(payload)); err != nil {
		return fmt.Errorf("control channel send: %w", err)
	}
	return nil
}
