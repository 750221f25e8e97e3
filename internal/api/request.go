package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// SuccessCode is the envelope code of a successful response.
const SuccessCode = "200000"

// rateLimitCode is the envelope code returned when a request was throttled.
const rateLimitCode = "429000"

// APIError represents an error from the KuCoin API.
type APIError struct {
	StatusCode int
	Code       string // envelope code, empty if the body was not an envelope
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kucoin api error %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kucoin api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.Code == rateLimitCode
}

// envelope is the wrapper around every REST response.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Call sends req (JSON encoded, nil for no body) and decodes the envelope's
// data into result (nil to discard). Transient failures are retried.
func (c *Client) Call(ctx context.Context, method, path string, req, result any) error {
	var payload []byte
	if req != nil {
		var err error
		payload, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	data, err := c.doWithRetry(ctx, method, path, nil, payload)
	if err != nil {
		return err
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// doRequest performs one HTTP request and returns the envelope data.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (json.RawMessage, error) {
	endpoint := path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		for k, v := range c.signer.SignRequest(method, endpoint, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       raw,
		}
		if decodeErr == nil && env.Code != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Msg
		}
		return nil, apiErr
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", decodeErr)
	}
	if env.Code != SuccessCode {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Msg,
			Body:       raw,
		}
	}

	return env.Data, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, payload []byte) (json.RawMessage, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff
			if backoff > 0 {
				jitter = backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		data, err := c.doRequest(ctx, method, path, query, payload)
		if err == nil {
			return data, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
