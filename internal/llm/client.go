// Package llm speaks the OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crew/internal/chat/ports"
	crewerrors "crew/internal/shared/errors"
	"crew/internal/shared/jsonx"
)

// Config configures one chat completions client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Headers     map[string]string
	// RequestRetries is how many extra attempts a transient failure gets
	// before the error surfaces. Zero means a single attempt.
	RequestRetries int
}

// Client is an OpenAI API compatible chat completions client.
type Client struct {
	model       string
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	logger      ports.Logger
	headers     map[string]string
	maxTokens   int
	temperature float64
	retries     int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient constructs a client from config. Zero values get sane defaults.
func NewClient(config Config, logger ports.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Client{
		model:       config.Model,
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		headers:     config.Headers,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		retries:     max(config.RequestRetries, 0),
	}
}

// Chat sends a completion request and returns the assistant content.
// Transient failures (rate limits, 5xx, transport errors) are retried with
// exponential backoff up to the configured attempt count.
func (c *Client) Chat(ctx context.Context, messages []chatMessage) (string, error) {
	if c.retries == 0 {
		return c.complete(ctx, messages)
	}

	var content string
	operation := func() error {
		out, err := c.complete(ctx, messages)
		if err != nil {
			if crewerrors.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		content = out
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

// complete performs a single chat completions round trip.
func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	req := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
		"stream":      false,
	}

	body, err := jsonx.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("=== LLM Request ===")
	c.logger.Debug("URL: POST %s", endpoint)
	c.logger.Debug("Model: %s", c.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("HTTP request failed: %v", err)
		return "", wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("=== LLM Response ===")
	c.logger.Debug("Status: %d %s", resp.StatusCode, resp.Status)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Error Response Body: %s", string(respBody))
		return "", mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := jsonx.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		errMsg := oaiResp.Error.Message
		if oaiResp.Error.Type != "" {
			errMsg = fmt.Sprintf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
		}
		return "", mapHTTPError(resp.StatusCode, []byte(errMsg), resp.Header)
	}

	if len(oaiResp.Choices) == 0 {
		return "", crewerrors.NewTransientError(errors.New("no choices in response"), "LLM returned an empty response. Please retry.")
	}

	return oaiResp.Choices[0].Message.Content, nil
}

// wrapRequestError classifies transport-level failures.
func wrapRequestError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if crewerrors.IsTransient(err) {
		return crewerrors.NewTransientError(err, crewerrors.FormatForLLM(err))
	}
	return crewerrors.NewTransientError(err, fmt.Sprintf("Request to the model backend failed: %v", err))
}

// mapHTTPError classifies non-2xx responses. 401/403 and other 4xx (except
// 408/429) are permanent; everything else is worth retrying.
func mapHTTPError(status int, body []byte, headers http.Header) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	base := fmt.Errorf("status %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return crewerrors.NewPermanentError(base, "Authentication failed when calling the backend. Check the API key.")
	case status == http.StatusTooManyRequests:
		hint := "The API rate limit was reached. Wait a moment before retrying."
		if wait := retryAfterSeconds(headers); wait > 0 {
			hint = fmt.Sprintf("The API rate limit was reached. Retry after %d seconds.", wait)
		}
		return crewerrors.NewTransientError(base, hint)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return crewerrors.NewTransientError(base, "The request timed out waiting for the backend.")
	case status >= 500:
		return crewerrors.NewTransientError(base, fmt.Sprintf("Server error (%d) from the backend. This is usually temporary.", status))
	case status >= 400:
		return crewerrors.NewPermanentError(base, fmt.Sprintf("The backend rejected the request (%d): %s", status, msg))
	}
	return crewerrors.NewTransientError(base, base.Error())
}

func retryAfterSeconds(headers http.Header) int {
	if headers == nil {
		return 0
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
