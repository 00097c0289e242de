/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// voicebridge bridges phone calls arriving from a telephony provider to an
// AI voice backend, with turn-taking driven by an orchestration backend.
//
// Call events arrive over the webhook endpoint and, optionally, the
// provider's websocket event stream. Configuration is environment-based:
//
//	VOICEBRIDGE_ADDR          listen address for the webhook server (default :8080)
//	VOICEBRIDGE_INSTRUCTIONS  instructions submitted with AI session negotiation
//	VOICEBRIDGE_FILLER        optional filler sentence spoken while orchestrating
//	AI_BACKEND_API_KEY        API key for the AI voice backend (required)
//	AI_BACKEND_URL            AI voice backend realtime API root (optional)
//	AI_BACKEND_MODEL          realtime model override (optional)
//	ORCHESTRATOR_URL          orchestration backend base URL (required)
//	ORCHESTRATOR_API_KEY      orchestration backend API key (required)
//	TELEPHONY_API_URL         provider call-control API root (optional)
//	TELEPHONY_API_KEY         provider API key
//	TELEPHONY_STREAM_URL      provider websocket event feed (optional)
//	STUN_URL                  STUN server override (optional)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/voicebridge/voicebridge-go/aivoice"
	"github.com/voicebridge/voicebridge-go/bridge"
	"github.com/voicebridge/voicebridge-go/orchestration"
	"github.com/voicebridge/voicebridge-go/telephony"
)

type app struct {
	registry *bridge.SessionRegistry
	accept   *telephony.Client
}

func main() {
	aiKey := os.Getenv("AI_BACKEND_API_KEY")
	if aiKey == "" {
		log.Fatal("AI_BACKEND_API_KEY is required")
	}
	orchURL := os.Getenv("ORCHESTRATOR_URL")
	if orchURL == "" {
		log.Fatal("ORCHESTRATOR_URL is required")
	}

	aiConfig := aivoice.DefaultConfig()
	if v := os.Getenv("AI_BACKEND_URL"); v != "" {
		aiConfig.BaseURL = v
	}
	if v := os.Getenv("AI_BACKEND_MODEL"); v != "" {
		aiConfig.Model = v
	}
	negotiator, err := aivoice.NewClient(aiKey, aiConfig)
	if err != nil {
		log.Fatalf("AI backend client: %v", err)
	}

	responder, err := orchestration.NewClient(os.Getenv("ORCHESTRATOR_API_KEY"), &orchestration.Config{BaseURL: orchURL})
	if err != nil {
		log.Fatalf("orchestration client: %v", err)
	}

	bridgeConfig := bridge.DefaultConfig()
	bridgeConfig.Negotiator = negotiator
	bridgeConfig.Responder = responder
	bridgeConfig.Instructions = os.Getenv("VOICEBRIDGE_INSTRUCTIONS")
	bridgeConfig.FillerText = os.Getenv("VOICEBRIDGE_FILLER")
	if stun := os.Getenv("STUN_URL"); stun != "" {
		bridgeConfig.Media.ICEServers = []webrtc.ICEServer{{URLs: []string{stun}}}
	}

	a := &app{registry: bridge.NewSessionRegistry(bridgeConfig)}

	if apiURL := os.Getenv("TELEPHONY_API_URL"); apiURL != "" {
		a.accept, err = telephony.NewClient(os.Getenv("TELEPHONY_API_KEY"), &telephony.Config{BaseURL: apiURL})
		if err != nil {
			log.Fatalf("telephony client: %v", err)
		}
	} else {
		log.Printf("TELEPHONY_API_URL not set; answers are returned on the webhook response only")
	}

	var stream *telephony.Stream
	if streamURL := os.Getenv("TELEPHONY_STREAM_URL"); streamURL != "" {
		stream, err = telephony.NewStream(&telephony.StreamConfig{
			URL:    streamURL,
			APIKey: os.Getenv("TELEPHONY_API_KEY"),
		}, func(ev *telephony.Event) {
			if _, err := a.handleEvent(ev); err != nil {
				log.Printf("stream event for call %s: %v", ev.CallID, err)
			}
		})
		if err != nil {
			log.Fatalf("event stream: %v", err)
		}
		if err := stream.Connect(); err != nil {
			log.Fatalf("event stream: %v", err)
		}
		log.Printf("consuming provider event stream at %s", streamURL)
	}

	addr := os.Getenv("VOICEBRIDGE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", a.handleWebhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("voicebridge listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("webhook server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("webhook server shutdown: %v", err)
	}
	if stream != nil {
		stream.Disconnect()
	}
	a.registry.CloseAll()
}

// handleWebhook decodes one call event and applies it to the registry. The
// answer SDP is echoed in the response so deployments without a configured
// accept API can deliver it themselves.
func (a *app) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := telephony.DecodeEvent(body)
	if err != nil {
		log.Printf("webhook: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	answerSDP, err := a.handleEvent(ev)
	if err != nil {
		var dup *bridge.DuplicateCallError
		if errors.As(err, &dup) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("webhook event for call %s: %v", ev.CallID, err)
		http.Error(w, "call setup failed", http.StatusInternalServerError)
		return
	}

	if answerSDP == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"call_id":    ev.CallID,
		"answer_sdp": answerSDP,
	})
}

// handleEvent applies one call event. For incoming calls it returns the
// answer SDP produced by the new session.
func (a *app) handleEvent(ev *telephony.Event) (string, error) {
	switch ev.Type {
	case telephony.EventIncomingCall:
		meta := bridge.CallMetadata{From: ev.From, To: ev.To, Attributes: ev.Attributes}
		_, answerSDP, err := a.registry.Create(ev.CallID, ev.SDP, meta)
		if err != nil {
			return "", err
		}
		log.Printf("call %s: answered (from=%s)", ev.CallID, ev.From)

		if a.accept != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.accept.PreAccept(ctx, ev.CallID, answerSDP); err != nil {
				a.registry.Close(ev.CallID)
				return "", err
			}
			if err := a.accept.Accept(ctx, ev.CallID, answerSDP); err != nil {
				a.registry.Close(ev.CallID)
				return "", err
			}
			log.Printf("call %s: accepted via provider API", ev.CallID)
		}
		return answerSDP, nil

	case telephony.EventTerminate:
		log.Printf("call %s: terminate", ev.CallID)
		a.registry.Close(ev.CallID)
		return "", nil
	}
	return "", nil
}
