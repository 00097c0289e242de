/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package aivoice implements SDP negotiation against the AI voice backend's
// HTTP endpoint. The offer and the session configuration go up as multipart
// form fields; the response body is the raw answer SDP text, not JSON.
package aivoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voicebridge/voicebridge-go/bridgesdk"
)

const (
	// DefaultBaseURL is the AI voice backend's realtime API root.
	DefaultBaseURL = "https://api.openai.com/v1/realtime"

	// negotiatePath is the call-negotiation endpoint under the base URL.
	negotiatePath = "calls"

	DefaultModel        = "gpt-realtime"
	DefaultVoice        = "marin"
	DefaultOutputFormat = "pcm16"
)

// Config holds the session parameters submitted with every negotiation.
type Config struct {
	// BaseURL of the backend's realtime API. Default: DefaultBaseURL.
	BaseURL string

	// Model is the realtime model to run the voice session on.
	Model string

	// Voice is the synthesized output voice.
	Voice string

	// OutputFormat is the output audio encoding.
	OutputFormat string

	// Client configures the underlying HTTP client. Optional.
	Client *bridgesdk.Config
}

// DefaultConfig returns a Config with backend defaults applied.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		Voice:        DefaultVoice,
		OutputFormat: DefaultOutputFormat,
	}
}

type outputAudioConfig struct {
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

type audioConfig struct {
	Output outputAudioConfig `json:"output"`
}

type sessionConfig struct {
	Type         string      `json:"type"`
	Model        string      `json:"model"`
	Instructions string      `json:"instructions,omitempty"`
	Audio        audioConfig `json:"audio"`
}

// Client negotiates voice sessions with the AI backend. It implements the
// bridge's Negotiator interface.
type Client struct {
	sdk    *bridgesdk.Client
	config *Config
}

// NewClient creates a negotiation client authenticated with apiKey.
func NewClient(apiKey string, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.OutputFormat == "" {
		config.OutputFormat = DefaultOutputFormat
	}

	sdkConfig := config.Client
	if sdkConfig == nil {
		sdkConfig = bridgesdk.DefaultConfig()
	}
	sdkConfig.BaseURL = config.BaseURL

	sdk, err := bridgesdk.NewClient(apiKey, sdkConfig)
	if err != nil {
		return nil, fmt.Errorf("aivoice client: %w", err)
	}
	return &Client{sdk: sdk, config: config}, nil
}

// Negotiate submits offerSDP with the session configuration and returns the
// backend's answer SDP. Instructions are request-scoped and ride in the
// session configuration.
func (c *Client) Negotiate(ctx context.Context, offerSDP, instructions string) (string, error) {
	session := sessionConfig{
		Type:         "realtime",
		Model:        c.config.Model,
		Instructions: instructions,
		Audio: audioConfig{
			Output: outputAudioConfig{
				Voice:  c.config.Voice,
				Format: c.config.OutputFormat,
			},
		},
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session config: %w", err)
	}

	resp, err := c.sdk.RequestMultipartWithRetry(ctx, negotiatePath, []bridgesdk.MultipartField{
		{Name: "sdp", Value: offerSDP},
		{Name: "session", Value: string(sessionJSON)},
	})
	if err != nil {
		return "", fmt.Errorf("negotiation request: %w", err)
	}

	body, err := bridgesdk.ReadRaw(resp)
	if err != nil {
		return "", fmt.Errorf("negotiation response: %w", err)
	}

	answerSDP := string(body)
	if !strings.HasPrefix(answerSDP, "v=") {
		return "", fmt.Errorf("malformed answer SDP from backend: %.80q", answerSDP)
	}
	return answerSDP, nil
}
