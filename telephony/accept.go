/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/voicebridge/voicebridge-go/bridgesdk"
)

// Action is a call-control action on the provider's accept API.
type Action string

const (
	// ActionPreAccept signals early media setup before the call is answered.
	ActionPreAccept Action = "PRE_ACCEPT"

	// ActionAccept answers the call with the negotiated session.
	ActionAccept Action = "ACCEPT"
)

const actionsPath = "calls/actions"

// Config holds configuration for the accept client.
type Config struct {
	// BaseURL of the provider's call-control API. Required.
	BaseURL string

	// Client configures the underlying HTTP client. Optional.
	Client *bridgesdk.Config
}

// Client drives the provider's accept REST API with the bridge's answer SDP.
type Client struct {
	sdk *bridgesdk.Client
}

type sessionDescription struct {
	SDP     string `json:"sdp"`
	SDPType string `json:"sdp_type"`
}

type actionRequest struct {
	CallID  string             `json:"call_id"`
	Action  Action             `json:"action"`
	Session sessionDescription `json:"session"`
}

// NewClient creates an accept client authenticated with apiKey.
func NewClient(apiKey string, config *Config) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("telephony client: base URL is required")
	}

	sdkConfig := config.Client
	if sdkConfig == nil {
		sdkConfig = bridgesdk.DefaultConfig()
	}
	sdkConfig.BaseURL = config.BaseURL

	sdk, err := bridgesdk.NewClient(apiKey, sdkConfig)
	if err != nil {
		return nil, fmt.Errorf("telephony client: %w", err)
	}
	return &Client{sdk: sdk}, nil
}

// PreAccept submits the answer SDP for early media setup.
func (c *Client) PreAccept(ctx context.Context, callID, answerSDP string) error {
	return c.sendAction(ctx, callID, ActionPreAccept, answerSDP)
}

// Accept answers the call with the answer SDP.
func (c *Client) Accept(ctx context.Context, callID, answerSDP string) error {
	return c.sendAction(ctx, callID, ActionAccept, answerSDP)
}

func (c *Client) sendAction(ctx context.Context, callID string, action Action, answerSDP string) error {
	if callID == "" {
		return fmt.Errorf("call ID is required")
	}
	if answerSDP == "" {
		return fmt.Errorf("answer SDP is required")
	}

	body := actionRequest{
		CallID: callID,
		Action: action,
		Session: sessionDescription{
			SDP:     answerSDP,
			SDPType: "answer",
		},
	}

	resp, err := c.sdk.RequestWithRetry(ctx, http.MethodPost, actionsPath, nil, body)
	if err != nil {
		return fmt.Errorf("%s for call %s: %w", action, callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s for call %s: %w", action, callID, bridgesdk.NewAPIError(resp, respBody))
	}
	return nil
}
