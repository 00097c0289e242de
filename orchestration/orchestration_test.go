/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge-go/bridge"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-api-key", &Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return client
}

func TestRespond(t *testing.T) {
	var got respondRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Unexpected error decoding body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"Your table is booked."}`))
	})

	reply, err := client.Respond(context.Background(), bridge.ResponderRequest{
		CallID: "c1",
		Input:  "book a table\nfor two",
		Metadata: bridge.CallMetadata{
			From:       "+15550100",
			To:         "+15550199",
			Attributes: map[string]string{"tenant": "acme"},
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reply != "Your table is booked." {
		t.Errorf("Unexpected reply: %q", reply)
	}
	if got.CallID != "c1" {
		t.Errorf("Expected call_id c1, got %q", got.CallID)
	}
	if got.Input != "book a table\nfor two" {
		t.Errorf("Expected merged input forwarded, got %q", got.Input)
	}
	if got.From != "+15550100" || got.To != "+15550199" {
		t.Errorf("Expected caller metadata forwarded, got %+v", got)
	}
	if got.Metadata["tenant"] != "acme" {
		t.Errorf("Expected attributes forwarded, got %v", got.Metadata)
	}
}

func TestRespondCancellation(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			t.Error("Handler was never cancelled")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Respond(ctx, bridge.ResponderRequest{CallID: "c1", Input: "hi"})
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Respond did not return after cancellation")
	}
}

func TestRespondBackendError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"agent crashed"}`))
	})

	_, err := client.Respond(context.Background(), bridge.ResponderRequest{CallID: "c1", Input: "hi"})
	if err == nil {
		t.Fatal("Expected error for backend failure")
	}
}

func TestRespondEmptyReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Respond(context.Background(), bridge.ResponderRequest{CallID: "c1", Input: "hi"})
	if err == nil {
		t.Fatal("Expected error for empty reply")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("key", nil); err == nil {
		t.Error("Expected error for missing config")
	}
	if _, err := NewClient("key", &Config{}); err == nil {
		t.Error("Expected error for missing base URL")
	}
	if _, err := NewClient("", &Config{BaseURL: "http://localhost"}); err == nil {
		t.Error("Expected error for empty API key")
	}
}
