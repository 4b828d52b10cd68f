// Package anthropic is the shared Claude Messages API client used by the
// judge, planner, and refiner adapters. It is grounded on the teacher's
// ai/providers/anthropic/client.go (itsneelabh-gomind): a plain net/http
// POST to /v1/messages with the x-api-key/anthropic-version headers, the
// same request/response shapes, but retried through this module's
// internal/adapters/retry and internal/adapters/breaker rather than the
// teacher's hand-rolled ExecuteWithRetry loop.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/choiwab/promptsmith/internal/adapters/breaker"
	"github.com/choiwab/promptsmith/internal/adapters/retry"
	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/logging"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// ContentBlock is one element of a message's content array: either a text
// block or a base64 image block (vision input for the judge adapter).
type ContentBlock struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *Source `json:"source,omitempty"`
}

// Source is the base64-encoded image payload for an "image" content block.
type Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is a single turn in the Messages API request.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// TextBlock returns a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock returns a base64 image content block for vision prompts.
func ImageBlock(mediaType string, data []byte) ContentBlock {
	return ContentBlock{
		Type: "image",
		Source: &Source{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}
}

// Client is a thin, retried, circuit-broken wrapper around Anthropic's
// Messages API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	logger     logging.Logger
	breaker    *breaker.Breaker
}

// New builds a Client for the given model, named breaker, and base URL
// override (empty uses the public API).
func New(apiKey, model, baseURL, breakerName string, logger logging.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		logger:     logger.With("adapters.anthropic"),
		breaker:    breaker.New(breakerName, 5, 30*time.Second),
	}
}

// Complete sends a single-turn message and returns the concatenated text
// content, retrying once on a categorized transient failure.
func (c *Client) Complete(ctx context.Context, op, system string, maxTokens int, temperature float32, content ...ContentBlock) (string, error) {
	if c.apiKey == "" {
		return "", apperr.New(apperr.CodeUpstreamError, op, fmt.Errorf("anthropic API key not configured"))
	}

	req := messagesRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: content}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", apperr.New(apperr.CodeUpstreamError, op, fmt.Errorf("marshal request: %w", err))
	}

	result, err := retry.Do(ctx, 2, func(ctx context.Context) (string, error) {
		raw, err := c.breaker.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.send(ctx, body)
		})
		if err != nil {
			return "", err
		}
		return raw.(string), nil
	})
	if err != nil {
		if err == breaker.ErrOpen {
			return "", apperr.New(apperr.CodeUpstreamError, op, err)
		}
		return "", err
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", retry.Wrap(apperr.New(apperr.CodeUpstreamTimeout, "anthropic.send", err))
		}
		return "", retry.Wrap(apperr.New(apperr.CodeUpstreamError, "anthropic.send", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.Wrap(apperr.New(apperr.CodeUpstreamError, "anthropic.send", fmt.Errorf("read response: %w", err)))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", retry.Wrap(apperr.New(apperr.CodeUpstreamError, "anthropic.send", fmt.Errorf("malformed response: %w", err)))
	}
	if parsed.Error != nil {
		return "", apperr.Newf(apperr.CodeUpstreamError, "anthropic.send", "anthropic error: %s", parsed.Error.Message)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", retry.Wrap(apperr.New(apperr.CodeUpstreamError, "anthropic.send", fmt.Errorf("no text content in response")))
	}
	return text, nil
}

// classifyStatus maps Anthropic's HTTP status codes onto the module's
// retryable/non-retryable taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusInternalServerError,
		status == http.StatusBadGateway, status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return retry.Wrap(apperr.Newf(apperr.CodeUpstreamTimeout, "anthropic.send", "status %d: %s", status, string(body)))
	case status == http.StatusBadRequest:
		return apperr.Newf(apperr.CodeSafetyRejection, "anthropic.send", "status %d: %s", status, string(body))
	default:
		return apperr.Newf(apperr.CodeUpstreamError, "anthropic.send", "status %d: %s", status, string(body))
	}
}
