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

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHTTPClient is a mock implementation of HTTPClient
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func jsonResponse(status int, body interface{}) *http.Response {
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// =============================================================================
// Provider Creation Tests
// =============================================================================

func TestNewProvider_Success(t *testing.T) {
	provider, err := NewProvider(Config{
		APIKey: "test-api-key",
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, DefaultBaseURL, provider.baseURL)
	assert.Equal(t, DefaultAPIVersion, provider.apiVersion)
	assert.Equal(t, DefaultModel, provider.model)
	assert.Equal(t, DefaultTimeout, provider.timeout)
	assert.True(t, provider.IsHealthy())
}

func TestNewProvider_CustomConfig(t *testing.T) {
	provider, err := NewProvider(Config{
		APIKey:     "test-api-key",
		BaseURL:    "https://custom.anthropic.com",
		APIVersion: "2024-01-01",
		Model:      "claude-3-haiku-20240307",
		Timeout:    30 * time.Second,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "https://custom.anthropic.com", provider.baseURL)
	assert.Equal(t, "2024-01-01", provider.apiVersion)
	assert.Equal(t, "claude-3-haiku-20240307", provider.model)
	assert.Equal(t, 30*time.Second, provider.timeout)
}

func TestNewProvider_MissingAPIKey(t *testing.T) {
	provider, err := NewProvider(Config{})

	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "API key is required")
}

// =============================================================================
// Complete Tests
// =============================================================================

func TestComplete_Success(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)

	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		if req.Header.Get("x-api-key") != "test-key" {
			return false
		}
		if req.Header.Get("anthropic-version") != DefaultAPIVersion {
			return false
		}
		var body anthropicRequest
		raw, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(raw))
		if err := json.Unmarshal(raw, &body); err != nil {
			return false
		}
		return body.System == "classify incidents" && len(body.Messages) == 1
	})).Return(jsonResponse(http.StatusOK, map[string]interface{}{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       DefaultModel,
		"stop_reason": "end_turn",
		"content": []map[string]string{
			{"type": "text", "text": `{"category":"guest_access"}`},
		},
		"usage": map[string]int{"input_tokens": 50, "output_tokens": 12},
	}), nil)
	provider.SetHTTPClient(mockClient)

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt:       "keycard used twice",
		SystemPrompt: "classify incidents",
		MaxTokens:    256,
		Temperature:  0,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"category":"guest_access"}`, resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 50, resp.InputTokens)
	assert.Equal(t, 12, resp.OutputTokens)
	assert.True(t, provider.IsHealthy())
	mockClient.AssertExpectations(t)
}

func TestComplete_RateLimitError(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)

	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusTooManyRequests, map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    "rate_limit_error",
			"message": "Rate limit exceeded",
		},
	}), nil)
	provider.SetHTTPClient(mockClient)

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "x", Temperature: -1})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsRateLimitError())
	assert.False(t, apiErr.IsAuthError())
	// 4xx failures do not mark the provider unhealthy.
	assert.True(t, provider.IsHealthy())
}

func TestComplete_ServerErrorMarksUnhealthy(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)

	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusServiceUnavailable, map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    "overloaded_error",
			"message": "Overloaded",
		},
	}), nil)
	provider.SetHTTPClient(mockClient)

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "x", Temperature: -1})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsOverloadedError())
	assert.False(t, provider.IsHealthy())
}

func TestComplete_TransportError(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)

	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))
	provider.SetHTTPClient(mockClient)

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "x", Temperature: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, provider.IsHealthy())
}

func TestComplete_MalformedErrorBody(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)

	mockClient := new(MockHTTPClient)
	mockClient.On("Do", mock.Anything).Return(&http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(bytes.NewReader([]byte("not json"))),
	}, nil)
	provider.SetHTTPClient(mockClient)

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "x", Temperature: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{StatusCode: 401, Type: "authentication_error", Message: "bad key"}
	assert.Contains(t, e.Error(), "status 401")
	assert.Contains(t, e.Error(), "authentication_error")
	assert.True(t, e.IsAuthError())
}
