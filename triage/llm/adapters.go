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

	"stayguard/platform/triage/llm/anthropic"
	"stayguard/platform/triage/llm/bedrock"
)

// Compile-time interface compliance checks.
var (
	_ Provider = (*anthropicAdapter)(nil)
	_ Provider = (*bedrockAdapter)(nil)
	_ Provider = (*StaticProvider)(nil)
)

// NewAnthropicProvider builds a Provider backed by the Anthropic Messages
// API.
func NewAnthropicProvider(cfg anthropic.Config) (Provider, error) {
	p, err := anthropic.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &anthropicAdapter{provider: p}, nil
}

type anthropicAdapter struct {
	provider *anthropic.Provider
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

func (a *anthropicAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := a.provider.Complete(ctx, anthropic.CompletionRequest{
		Prompt:       req.UserPrompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Content:      resp.Content,
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Latency:      resp.Latency,
	}, nil
}

func (a *anthropicAdapter) HealthCheck(ctx context.Context) error {
	return a.provider.HealthCheck(ctx)
}

// NewBedrockProvider builds a Provider backed by AWS Bedrock.
func NewBedrockProvider(ctx context.Context, cfg bedrock.Config) (Provider, error) {
	p, err := bedrock.NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &bedrockAdapter{provider: p}, nil
}

// NewBedrockProviderWithClient wraps an existing Bedrock client. Intended
// for tests.
func NewBedrockProviderWithClient(client bedrock.InvokeAPI, region, model string) Provider {
	return &bedrockAdapter{provider: bedrock.NewProviderWithClient(client, region, model)}
}

type bedrockAdapter struct {
	provider *bedrock.Provider
}

func (b *bedrockAdapter) Name() string { return "bedrock" }

func (b *bedrockAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := b.provider.Complete(ctx, bedrock.CompletionRequest{
		Prompt:       req.UserPrompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Content:      resp.Content,
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Latency:      resp.Latency,
	}, nil
}

func (b *bedrockAdapter) HealthCheck(ctx context.Context) error {
	return b.provider.HealthCheck(ctx)
}
