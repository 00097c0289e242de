/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridge

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// RTPReader reads RTP packets from a media source. *webrtc.TrackRemote
// satisfies this interface.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTPWriter writes RTP packets to a media sink. *webrtc.TrackLocalStaticRTP
// satisfies this interface.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// AudioRelay forwards RTP packets from remote tracks to local sinks. Each
// source track gets one pump goroutine; a remote track can only be read by a
// single reader, so all sinks for a source are fed from the same pump.
//
// A sink write failure only drops that sink. A source read failure ends the
// pump for that source; the relay itself stays usable.
type AudioRelay struct {
	mu    sync.Mutex
	pumps map[RTPReader]*relayPump
	done  bool
}

type relayPump struct {
	mu    sync.Mutex
	sinks []RTPWriter
}

// NewAudioRelay creates an empty relay.
func NewAudioRelay() *AudioRelay {
	return &AudioRelay{
		pumps: make(map[RTPReader]*relayPump),
	}
}

// Subscribe routes packets read from source to sink, in addition to any sinks
// already subscribed to the same source. The pump goroutine for source is
// started on first subscription.
func (r *AudioRelay) Subscribe(source RTPReader, sink RTPWriter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return errors.New("relay is closed")
	}

	pump, ok := r.pumps[source]
	if !ok {
		pump = &relayPump{}
		r.pumps[source] = pump
		go r.run(source, pump)
	}

	pump.mu.Lock()
	pump.sinks = append(pump.sinks, sink)
	pump.mu.Unlock()
	return nil
}

// run pumps packets from source to the pump's sinks until the source errors.
func (r *AudioRelay) run(source RTPReader, pump *relayPump) {
	for {
		pkt, _, err := source.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("audio relay: source read ended: %v", err)
			}
			r.mu.Lock()
			delete(r.pumps, source)
			r.mu.Unlock()
			return
		}

		pump.mu.Lock()
		sinks := pump.sinks
		var dropped []int
		for i, sink := range sinks {
			if err := sink.WriteRTP(pkt); err != nil {
				log.Printf("audio relay: dropping sink after write error: %v", err)
				dropped = append(dropped, i)
			}
		}
		if len(dropped) > 0 {
			kept := sinks[:0]
			for i, sink := range sinks {
				drop := false
				for _, d := range dropped {
					if i == d {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, sink)
				}
			}
			pump.sinks = kept
		}
		pump.mu.Unlock()
	}
}

// Close marks the relay closed. Pumps exit on their next source read error
// (closing the owning peer connections ends the source reads).
func (r *AudioRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}
