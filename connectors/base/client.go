// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseSize caps response bodies at 10MB.
	DefaultMaxResponseSize = 10 * 1024 * 1024
	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the initial delay between retries.
	DefaultRetryDelay = 100 * time.Millisecond
	// MaxRetryDelay is the maximum delay between retries.
	MaxRetryDelay = 5 * time.Second
)

// Client is the shared HTTP transport the destination-system connectors
// build on: bearer auth, JSON bodies, bounded responses, and retry with
// exponential backoff on transient failures.
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient validates the endpoint and builds the transport. Validation
// rejects private addresses unless allowPrivate is set; property-network
// deployments talk to panels on RFC1918 space and set it.
func NewClient(name string, cfg *ConnectorConfig) (*Client, error) {
	opts := DefaultURLValidationOptions()
	if allow, ok := cfg.Options["allow_private_ips"].(bool); ok {
		opts.AllowPrivateIPs = allow
	}
	if err := ValidateURL(cfg.BaseURL, opts); err != nil {
		return nil, NewConnectorError(name, "Connect", "endpoint rejected", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		retryDelay: DefaultRetryDelay,
	}, nil
}

// Do sends one JSON request and decodes the JSON response into out (out may
// be nil). Transient failures (network errors, 429, 5xx) are retried with
// exponential backoff; the returned error's Transient flag tells the caller
// whether its own retry budget still applies.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return NewConnectorError(c.name, "Do", "request body not serializable", err)
		}
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewTransientError(c.name, "Do", "request cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > MaxRetryDelay {
				delay = MaxRetryDelay
			}
		}

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ce, ok := err.(*ConnectorError); !ok || !ce.Transient {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return NewConnectorError(c.name, "Do", "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewTransientError(c.name, "Do", "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxResponseSize))
	if err != nil {
		return NewTransientError(c.name, "Do", "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return NewConnectorError(c.name, "Do", "response not valid JSON", err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return NewTransientError(c.name, "Do",
			fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, SanitizeLogString(string(raw))), nil)
	default:
		return NewConnectorError(c.name, "Do",
			fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, SanitizeLogString(string(raw))), nil)
	}
}

// Ping issues the standard health probe and measures latency.
func (c *Client) Ping(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	err := c.Do(ctx, http.MethodGet, "/health", nil, nil)
	status := &HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status, nil
}
