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

// Package main is the entry point for the StayGuard Triage Engine service.
//
// The Triage Engine is the autonomous incident-response service that:
// - Accepts security incident reports from property staff and systems
// - Classifies, risk-scores, and prioritizes each incident
// - Selects response playbooks gated by safety and compliance checks
// - Executes containment actions against property systems
// - Escalates to human reviewers when autonomy thresholds are exceeded
//
// Usage:
//
//	./triage
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis connection string (optional)
//	LLM_PROVIDER - anthropic, bedrock, or static (default: anthropic)
//	ANTHROPIC_API_KEY - Anthropic API key
//	JWT_SECRET - HMAC secret for API authentication (optional)
package main

import (
	"stayguard/platform/server"
)

func main() {
	server.Run()
}
