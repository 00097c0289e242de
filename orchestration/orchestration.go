/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package orchestration implements the bridge's Responder against the
// orchestration backend's HTTP API: one transcript in, one final reply
// string out. Calls can be long-running; everything is bound to the caller's
// context so an interrupted turn cancels the request in flight.
package orchestration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge-go/bridge"
	"github.com/voicebridge/voicebridge-go/bridgesdk"
)

const respondPath = "respond"

// DefaultTimeout allows for slow orchestration round-trips (tool calls,
// model inference). Interruption, not this timeout, is the usual way a
// request ends early.
const DefaultTimeout = 120 * time.Second

// Config holds configuration for the orchestration client.
type Config struct {
	// BaseURL of the orchestration backend. Required.
	BaseURL string

	// Client configures the underlying HTTP client. Optional.
	Client *bridgesdk.Config
}

// Client talks to the orchestration backend. It implements the bridge's
// Responder interface.
type Client struct {
	sdk *bridgesdk.Client
}

type respondRequest struct {
	CallID   string            `json:"call_id"`
	Input    string            `json:"input"`
	Metadata map[string]string `json:"metadata,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
}

type respondResponse struct {
	Reply string `json:"reply"`
}

// NewClient creates an orchestration client authenticated with apiKey.
func NewClient(apiKey string, config *Config) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("orchestration client: base URL is required")
	}

	sdkConfig := config.Client
	if sdkConfig == nil {
		sdkConfig = bridgesdk.DefaultConfig()
		sdkConfig.Timeout = DefaultTimeout
	}
	sdkConfig.BaseURL = config.BaseURL

	sdk, err := bridgesdk.NewClient(apiKey, sdkConfig)
	if err != nil {
		return nil, fmt.Errorf("orchestration client: %w", err)
	}
	return &Client{sdk: sdk}, nil
}

// Respond submits the accumulated caller input and returns the backend's
// reply text. Cancelling ctx aborts the request.
func (c *Client) Respond(ctx context.Context, req bridge.ResponderRequest) (string, error) {
	body := respondRequest{
		CallID:   req.CallID,
		Input:    req.Input,
		Metadata: req.Metadata.Attributes,
		From:     req.Metadata.From,
		To:       req.Metadata.To,
	}

	resp, err := c.sdk.RequestWithContext(ctx, http.MethodPost, respondPath, nil, body)
	if err != nil {
		return "", fmt.Errorf("orchestration request: %w", err)
	}

	var parsed respondResponse
	if err := bridgesdk.ParseResponse(resp, &parsed); err != nil {
		return "", fmt.Errorf("orchestration response: %w", err)
	}
	if parsed.Reply == "" {
		return "", fmt.Errorf("orchestration backend returned an empty reply")
	}
	return parsed.Reply, nil
}
