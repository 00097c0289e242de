/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package bridgesdk provides the shared HTTP client core used by the
// telephony, orchestration, and AI voice backend clients: authenticated
// JSON and multipart requests with retry for transient errors, and a
// structured error taxonomy for non-2xx responses.
package bridgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for SDK logging. Any logger that implements Printf
// (such as the standard library's *log.Logger) can be used.
type Logger interface {
	Printf(format string, v ...any)
}

// Client is an authenticated HTTP client bound to one API base URL.
type Client struct {
	// HTTP client used to communicate with the API
	httpClient *http.Client

	// Base URL for API requests
	BaseURL *url.URL

	// API key for request authentication
	apiKey string

	// Configuration for the client
	Config *Config

	// Logger for SDK operations
	logger Logger
}

// GetAPIKey returns the API key used for request authentication
func (c *Client) GetAPIKey() string {
	return c.apiKey
}

// GetHTTPClient returns the HTTP client used for API requests
func (c *Client) GetHTTPClient() *http.Client {
	return c.httpClient
}

// GetLogger returns the logger used by the SDK.
func (c *Client) GetLogger() Logger {
	return c.logger
}

// Config holds the configuration for a Client
type Config struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// Default headers to include in API requests
	DefaultHeaders map[string]string

	// Custom HTTP client to use instead of the default one
	// If nil, a default client will be created with the specified Timeout
	HttpClient *http.Client

	// MaxRetries is the maximum number of retries for transient errors (429, 502, 503, 504).
	// Set to 0 to disable retries. Default: 3.
	MaxRetries int

	// RetryBaseDelay is the initial delay between retries. Default: 1s.
	// Subsequent retries use exponential backoff (delay * 2^attempt).
	RetryBaseDelay time.Duration

	// Logger is the logger for SDK operations. If nil, the standard library's
	// default logger (log.Default()) is used.
	Logger Logger
}

// DefaultConfig returns a default configuration for a Client
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		DefaultHeaders: make(map[string]string),
		HttpClient:     nil,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
	}
}

// NewClient creates a new Client with the given API key and configuration.
// Config.BaseURL is required.
func NewClient(apiKey string, config *Config) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	// Create HTTP client - either use the provided custom client or create a default one
	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	// Set up logger - use provided logger or default
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	client := &Client{
		httpClient: httpClient,
		BaseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
		Config:     config,
	}

	return client, nil
}

// Request performs an HTTP request to the API with automatic retry
// for transient errors (429, 502, 503, 504).
// The caller is responsible for closing the response body when done.
func (c *Client) Request(method, path string, params url.Values, body interface{}) (*http.Response, error) {
	return c.RequestWithRetry(context.Background(), method, path, params, body)
}

// RequestWithContext performs an HTTP request to the API with the given context.
// The context can be used for per-request timeouts and cancellation.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithContext(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + path)
	if err != nil {
		return nil, err
	}

	if params != nil {
		u.RawQuery = params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TrackingID", newTrackingID())

	// Add default headers
	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// newTrackingID generates a correlation id sent with every request, for
// cross-service log correlation.
func newTrackingID() string {
	return "voicebridge_" + uuid.New().String()
}

// RequestWithRetry performs an HTTP request with automatic retry for transient errors.
// It retries on HTTP 429 (Too Many Requests, respecting Retry-After header) and
// transient server errors (502, 503, 504) using exponential backoff.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.RequestWithContext(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}

		// Check if we should retry
		if !isRetryableStatus(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		// Determine delay
		delay := retryDelay(resp, baseDelay, attempt)

		// Close the response body before retrying
		resp.Body.Close()

		// Wait with context cancellation support
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return resp, err
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay calculates the delay before the next retry attempt.
// For 429 responses, it respects the Retry-After header if present.
// Otherwise, it uses exponential backoff: baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	// Exponential backoff
	return baseDelay * (1 << uint(attempt))
}

// MultipartField represents a text field in a multipart request.
type MultipartField struct {
	Name  string
	Value string
}

// RequestMultipart performs a multipart/form-data POST request to the API
// with automatic retry for transient errors (429, 502, 503, 504).
// This is used by the AI backend negotiation endpoint, which takes the offer
// SDP and session configuration as form fields.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestMultipart(path string, fields []MultipartField) (*http.Response, error) {
	return c.RequestMultipartWithRetry(context.Background(), path, fields)
}

// RequestMultipartWithRetry performs a multipart/form-data POST with retry support.
// The multipart body is rebuilt on each retry attempt.
func (c *Client) RequestMultipartWithRetry(ctx context.Context, path string, fields []MultipartField) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.doMultipartRequest(ctx, path, fields)
		if err != nil {
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)
		resp.Body.Close()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return resp, err
}

// doMultipartRequest performs a single multipart/form-data POST request.
func (c *Client) doMultipartRequest(ctx context.Context, path string, fields []MultipartField) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, f := range fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("error writing field %s: %w", f.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("error closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("TrackingID", newTrackingID())

	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// ParseResponse parses a JSON HTTP response into the given interface.
// Non-2xx responses are converted into a structured APIError.
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	return json.Unmarshal(body, v)
}

// ReadRaw reads an HTTP response body as raw bytes. Non-2xx responses are
// converted into a structured APIError. The negotiation endpoint answers
// with plain SDP text rather than JSON, which is why this exists.
func ReadRaw(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, NewAPIError(resp, body)
	}

	return body, nil
}
