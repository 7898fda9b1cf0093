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

package llm

import (
	"context"
	"time"
)

// Request is the provider-agnostic completion request. The tools build one
// of these per call; providers translate it to their native body.
type Request struct {
	// SystemPrompt frames the tool's task and the required JSON shape.
	SystemPrompt string

	// UserPrompt carries the incident content under analysis.
	UserPrompt string

	// Temperature in [0,1]. Zero is valid and means deterministic.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Timeout bounds the call. Zero means the provider's default timeout.
	Timeout time.Duration
}

// Response is the provider-agnostic completion response. Content is the raw
// model text; callers parse it and own their fallback on parse failure.
type Response struct {
	Content      string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is the unified interface over LLM backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// Query generates a completion for the given request.
	Query(ctx context.Context, req Request) (*Response, error)

	// HealthCheck verifies the provider is operational. It should complete
	// within a reasonable timeout (e.g. 10s).
	HealthCheck(ctx context.Context) error
}

// StaticProvider returns a fixed reply for every query. It backs
// LLM_PROVIDER=static deployments (smoke environments without model
// credentials) and forces every tool down its deterministic fallback when
// the reply is not the JSON a tool expects.
type StaticProvider struct {
	Reply string
}

// NewStaticProvider creates a StaticProvider with the given canned reply.
func NewStaticProvider(reply string) *StaticProvider {
	if reply == "" {
		reply = "{}"
	}
	return &StaticProvider{Reply: reply}
}

func (s *StaticProvider) Name() string { return "static" }

func (s *StaticProvider) Query(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Content: s.Reply, Model: "static", StopReason: "end_turn"}, nil
}

func (s *StaticProvider) HealthCheck(ctx context.Context) error { return nil }
