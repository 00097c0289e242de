/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridgesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, config *Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if config == nil {
		config = DefaultConfig()
	}
	config.BaseURL = server.URL
	if config.RetryBaseDelay == 0 {
		config.RetryBaseDelay = time.Millisecond
	}

	client, err := NewClient("test-api-key", config)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		if _, err := NewClient("", DefaultConfig()); err == nil {
			t.Error("Expected error for empty API key")
		}
	})

	t.Run("requires base URL", func(t *testing.T) {
		if _, err := NewClient("key", DefaultConfig()); err == nil {
			t.Error("Expected error for missing base URL")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BaseURL = "http://localhost"
		client, err := NewClient("key", cfg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if client.GetAPIKey() != "key" {
			t.Errorf("Unexpected API key: %s", client.GetAPIKey())
		}
		if client.GetHTTPClient() == nil {
			t.Error("Expected a default HTTP client")
		}
		if client.GetLogger() == nil {
			t.Error("Expected a default logger")
		}
	})
}

func TestRequestAuthAndHeaders(t *testing.T) {
	var gotAuth, gotCustom, gotTracking string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		gotTracking = r.Header.Get("TrackingID")
		_, _ = w.Write([]byte(`{}`))
	}), &Config{DefaultHeaders: map[string]string{"X-Custom": "yes"}})

	resp, err := client.Request(http.MethodGet, "ping", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer test-api-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotCustom != "yes" {
		t.Errorf("Expected default header forwarded, got %q", gotCustom)
	}
	if !strings.HasPrefix(gotTracking, "voicebridge_") {
		t.Errorf("Expected a tracking ID, got %q", gotTracking)
	}
}

func TestRequestRetriesTransientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}), &Config{MaxRetries: 3})

	resp, err := client.RequestWithRetry(context.Background(), http.MethodGet, "flaky", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after retries, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestRequestRetryExhaustion(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}), &Config{MaxRetries: 2})

	resp, err := client.RequestWithRetry(context.Background(), http.MethodGet, "down", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected the final 502 returned, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}

func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}), &Config{MaxRetries: 3})

	resp, err := client.RequestWithRetry(context.Background(), http.MethodGet, "bad", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected no retries for 400, got %d attempts", calls)
	}
}

func TestRequestRetryRespectsContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}), &Config{MaxRetries: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.RequestWithRetry(ctx, http.MethodGet, "limited", nil, nil)
	if err == nil {
		t.Fatal("Expected context deadline error while waiting out Retry-After")
	}
}

func TestRequestMultipart(t *testing.T) {
	var gotSDP, gotSession string
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Unexpected error parsing form on attempt %d: %v", n, err)
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gotSDP = r.FormValue("sdp")
		gotSession = r.FormValue("session")
		_, _ = w.Write([]byte("v=0\r\n"))
	}), &Config{MaxRetries: 2})

	resp, err := client.RequestMultipart("calls", []MultipartField{
		{Name: "sdp", Value: "v=0\r\noffer"},
		{Name: "session", Value: `{"type":"realtime"}`},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	body, err := ReadRaw(resp)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The multipart body must survive the retry intact.
	if gotSDP != "v=0\r\noffer" {
		t.Errorf("Unexpected sdp field after retry: %q", gotSDP)
	}
	if gotSession != `{"type":"realtime"}` {
		t.Errorf("Unexpected session field after retry: %q", gotSession)
	}
	if string(body) != "v=0\r\n" {
		t.Errorf("Unexpected body: %q", body)
	}
}

func TestParseResponse(t *testing.T) {
	t.Run("decodes JSON", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":"bridge"}`))
		}), nil)

		resp, err := client.Request(http.MethodGet, "thing", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		var out struct {
			Name string `json:"name"`
		}
		if err := ParseResponse(resp, &out); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if out.Name != "bridge" {
			t.Errorf("Unexpected value: %q", out.Name)
		}
	})

	t.Run("maps error status", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no such call"}`))
		}), nil)

		resp, err := client.Request(http.MethodGet, "missing", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		var out map[string]interface{}
		err = ParseResponse(resp, &out)
		if !IsNotFound(err) {
			t.Errorf("Expected NotFoundError, got %v", err)
		}
	})
}

func TestReadRawError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}), nil)

	resp, err := client.Request(http.MethodGet, "secure", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, err = ReadRaw(resp)
	if !IsAuthError(err) {
		t.Errorf("Expected AuthError, got %v", err)
	}
}

func TestRequestBodyEncoding(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("Expected JSON content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Unexpected error decoding body: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	}), nil)

	resp, err := client.Request(http.MethodPost, "submit", nil, map[string]string{"call_id": "c1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if got["call_id"] != "c1" {
		t.Errorf("Expected body forwarded, got %v", got)
	}
}
