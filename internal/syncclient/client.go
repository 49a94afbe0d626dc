// Package syncclient talks to the caresync sync endpoint.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwalitptl/caresync/internal/model"
)

const syncPath = "/api/v1/sync/case-records"

// Sentinel errors for the status classes the syncer reacts to.
var (
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrServer     = errors.New("server error")
)

// HTTPError is a non-2xx sync response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sync: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sync: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return nil
	}
}

// PushResult is a 200 or 202 response.
type PushResult struct {
	StatusCode int
	Replayed   bool
	Response   model.SyncResponse
}

// Client is an HTTP client for the sync endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// PushBatch sends one batch. idempotencyKey is sent as the Idempotency-Key
// header when set.
func (c *Client) PushBatch(ctx context.Context, idempotencyKey string, batch *model.SyncRequest) (*PushResult, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+syncPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(model.IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			httpErr.Message = apiErr.Error
		}
		return nil, httpErr
	}

	result := &PushResult{
		StatusCode: resp.StatusCode,
		Replayed:   resp.Header.Get(model.ReplayedHeader) == "true",
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result.Response); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return result, nil
}
