/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package bridgesdk

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func makeResponse(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
	}
}

func TestNewAPIErrorSubtypes(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, IsAuthError, "auth"},
		{http.StatusForbidden, IsForbidden, "forbidden"},
		{http.StatusNotFound, IsNotFound, "not found"},
		{http.StatusConflict, IsConflict, "conflict"},
		{http.StatusTooManyRequests, IsRateLimited, "rate limited"},
		{http.StatusInternalServerError, IsServerError, "server 500"},
		{http.StatusBadGateway, IsServerError, "server 502"},
		{http.StatusServiceUnavailable, IsServerError, "server 503"},
		{http.StatusGatewayTimeout, IsServerError, "server 504"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(makeResponse(tt.status, nil), nil)
			if !tt.check(err) {
				t.Errorf("Status %d did not map to expected subtype: %v", tt.status, err)
			}

			// Every subtype exposes the base fields via errors.As.
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected APIError via errors.As, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestNewAPIErrorBodyParsing(t *testing.T) {
	t.Run("JSON body", func(t *testing.T) {
		body := []byte(`{"message":"call not found","requestId":"req-42"}`)
		err := NewAPIError(makeResponse(http.StatusNotFound, nil), body)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %T", err)
		}
		if apiErr.Message != "call not found" {
			t.Errorf("Unexpected message: %q", apiErr.Message)
		}
		if apiErr.RequestID != "req-42" {
			t.Errorf("Unexpected request ID: %q", apiErr.RequestID)
		}
		if !strings.Contains(err.Error(), "call not found") || !strings.Contains(err.Error(), "req-42") {
			t.Errorf("Expected message and request ID in Error(): %s", err.Error())
		}
	})

	t.Run("non-JSON body preserved raw", func(t *testing.T) {
		body := []byte("<html>gateway error</html>")
		err := NewAPIError(makeResponse(http.StatusBadGateway, nil), body)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %T", err)
		}
		if apiErr.Message != "" {
			t.Errorf("Expected empty message for non-JSON body, got %q", apiErr.Message)
		}
		if string(apiErr.RawBody) != "<html>gateway error</html>" {
			t.Errorf("Expected raw body preserved, got %q", apiErr.RawBody)
		}
	})

	t.Run("retry-after header", func(t *testing.T) {
		err := NewAPIError(makeResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "12"}), nil)

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			t.Fatalf("Expected RateLimitError, got %T", err)
		}
		if rl.RetryAfter != 12*time.Second {
			t.Errorf("Expected 12s retry-after, got %v", rl.RetryAfter)
		}
	})

	t.Run("unmapped status returns base type", func(t *testing.T) {
		err := NewAPIError(makeResponse(http.StatusTeapot, nil), nil)
		if IsServerError(err) || IsNotFound(err) || IsAuthError(err) {
			t.Errorf("Expected plain APIError for unmapped status, got %v", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %T", err)
		}
	})
}

func TestHelpersRejectOtherErrors(t *testing.T) {
	plain := errors.New("not an API error")
	if IsRateLimited(plain) || IsNotFound(plain) || IsAuthError(plain) ||
		IsForbidden(plain) || IsConflict(plain) || IsServerError(plain) {
		t.Error("Expected helpers to reject non-API errors")
	}
}
