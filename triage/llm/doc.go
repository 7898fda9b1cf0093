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

/*
Package llm defines the model-client contract the triage tools consume and
the adapters binding concrete providers to it.

The engine only ever needs one thing from a model: given a system prompt and
a user prompt, return text that should parse as JSON. Everything
provider-specific (auth, endpoints, body shapes) stays behind the Provider
interface; tools hold a Provider and nothing else.

Concrete providers live in subpackages (anthropic, bedrock) with their own
native request types; this package wraps them into Provider via small
adapters so the subpackages never import upward.

	provider, err := llm.NewAnthropicProvider(anthropic.Config{APIKey: key})
	resp, err := provider.Query(ctx, llm.Request{
	    SystemPrompt: sys,
	    UserPrompt:   user,
	    MaxTokens:    1024,
	    Temperature:  0.2,
	    Timeout:      20 * time.Second,
	})

A parse failure of resp.Content is never the provider's concern: each tool
owns its fallback.
*/
package llm
