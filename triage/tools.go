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

package triage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stayguard/platform/triage/llm"
)

// =============================================================================
// Tool Adapters
// =============================================================================

// Tool names used as ToolResults keys and metrics labels.
const (
	ToolClassification = "classification"
	ToolPrioritization = "prioritization"
	ToolResponse       = "response_generation"
	ToolSafety         = "safety"
	ToolCompliance     = "compliance"
)

// AnalysisRequest is the uniform input to every LLM-backed analyzer. Fields
// beyond Title/Description are populated as earlier nodes fill them in.
type AnalysisRequest struct {
	Title       string
	Description string
	Category    Category
	Priority    Priority
	Risk        RiskAssessment
	Metadata    IncidentMetadata
	Playbook    *Playbook
}

// AnalysisResult is the tagged output variant. Exactly one pointer matching
// Kind is set; Kind ToolResultUnparseable means the fallback produced the
// populated variant and Raw preserves the model text that failed parsing.
type AnalysisResult struct {
	Kind           ToolResultKind
	Classification *ClassificationResult
	Prioritization *PrioritizationResult
	Response       *ResponsePlan
	Raw            string
	FallbackUsed   bool
}

// SampleSink receives one performance sample per adapter invocation.
type SampleSink interface {
	RecordSample(s PerformanceSample)
}

// Analyzer is the single capability interface all LLM-backed tools expose.
// Implementations are safe for concurrent use.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

// llmTool is the shared adapter shell: rate limit, timeout, provider call,
// parse, fallback, performance sample. Tool-specific behavior is pure
// parameterization.
type llmTool struct {
	name         string
	provider     llm.Provider
	limiter      *rate.Limiter
	timeout      time.Duration
	temperature  float64
	maxTokens    int
	systemPrompt string
	buildPrompt  func(req AnalysisRequest) string
	parse        func(raw string, req AnalysisRequest) (*AnalysisResult, error)
	fallback     func(req AnalysisRequest, raw string) *AnalysisResult
	sink         SampleSink
}

func (t *llmTool) Name() string { return t.name }

// Analyze runs one adapter invocation. Provider and parse failures never
// surface as hard errors when a fallback exists: the fallback result is
// returned together with the classified error so the node can record both.
func (t *llmTool) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	start := time.Now()

	if err := t.limiter.Wait(ctx); err != nil {
		t.emit(start, false, 0)
		return t.fallback(req, ""), NewEngineError(ErrKindTimeout, t.name, "rate limiter wait cancelled", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.provider.Query(callCtx, llm.Request{
		SystemPrompt: t.systemPrompt,
		UserPrompt:   t.buildPrompt(req),
		Temperature:  t.temperature,
		MaxTokens:    t.maxTokens,
		Timeout:      t.timeout,
	})
	if err != nil {
		t.emit(start, false, 0)
		kind := ErrKindTransientIO
		if callCtx.Err() != nil {
			kind = ErrKindTimeout
		}
		return t.fallback(req, ""), NewEngineError(kind, t.name, "model query failed", err)
	}

	result, perr := t.parse(resp.Content, req)
	if perr != nil {
		fb := t.fallback(req, resp.Content)
		t.emit(start, true, confidenceOf(fb))
		return fb, NewEngineError(ErrKindParse, t.name, "model output failed validation", perr)
	}

	t.emit(start, true, confidenceOf(result))
	return result, nil
}

func (t *llmTool) emit(start time.Time, success bool, confidence float64) {
	if t.sink == nil {
		return
	}
	t.sink.RecordSample(PerformanceSample{
		Source:     t.name,
		Duration:   time.Since(start),
		Success:    success,
		Confidence: confidence,
		At:         time.Now().UTC(),
	})
}

func confidenceOf(r *AnalysisResult) float64 {
	switch {
	case r == nil:
		return 0
	case r.Classification != nil:
		return r.Classification.Confidence
	case r.Prioritization != nil:
		return r.Prioritization.Risk.Confidence
	default:
		return 0
	}
}

// ToolConfig parameterizes one adapter at construction.
type ToolConfig struct {
	// RatePerMinute refills the token bucket; burst equals one second's
	// worth, minimum 1.
	RatePerMinute int
	Timeout       time.Duration
	MaxTokens     int
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// =============================================================================
// Classification tool
// =============================================================================

const classifySystemPrompt = `You are a hotel security incident classifier. Classify the incident into exactly one category from: guest-access, payment-fraud, pii-breach, operational-security, vendor-access, physical-security, cyber-security, compliance-violation.
Respond with only a JSON object:
{"category": "...", "confidence": 0.0-1.0, "reasoning": "...", "alternatives": ["..."], "entities": ["..."], "severity_indicators": ["..."]}`

// NewClassificationTool builds the classify adapter. Parse failure falls
// back to the deterministic keyword heuristic with confidence capped at 0.8
// and a parsing_error severity indicator.
func NewClassificationTool(provider llm.Provider, sink SampleSink, cfg ToolConfig) Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &llmTool{
		name:         ToolClassification,
		provider:     provider,
		limiter:      newLimiter(cfg.RatePerMinute),
		timeout:      cfg.Timeout,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: classifySystemPrompt,
		sink:         sink,
		buildPrompt: func(req AnalysisRequest) string {
			return fmt.Sprintf("Title: %s\nDescription: %s\nLocation: %s\nReporting channel: %s",
				req.Title, req.Description, req.Metadata.Location, req.Metadata.ReportingChannel)
		},
		parse:    parseClassification,
		fallback: classificationFallback,
	}
}

func parseClassification(raw string, _ AnalysisRequest) (*AnalysisResult, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var out ClassificationResult
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("classification JSON invalid: %w", err)
	}
	if !out.Category.IsValid() {
		return nil, fmt.Errorf("unknown category %q", out.Category)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("confidence %f outside [0,1]", out.Confidence)
	}
	return &AnalysisResult{Kind: ToolResultClassification, Classification: &out}, nil
}

func classificationFallback(req AnalysisRequest, raw string) *AnalysisResult {
	cls := ClassifyByKeywords(req.Title, req.Description)
	cls.SeverityIndicators = append(cls.SeverityIndicators, "parsing_error")
	return &AnalysisResult{
		Kind:           ToolResultUnparseable,
		Classification: cls,
		Raw:            raw,
		FallbackUsed:   true,
	}
}

// categoryKeywords drive the deterministic fallback classifier. Scan order
// follows AllCategories, so ties resolve identically on every run.
var categoryKeywords = map[Category][]string{
	CategoryGuestAccess: {
		"keycard", "key card", "room access", "access card", "badge",
		"unauthorized entry", "door", "elevator", "lock",
	},
	CategoryPaymentFraud: {
		"payment", "transaction", "credit card", "chargeback", "fraud",
		"billing", "refund", "pos",
	},
	CategoryPIIBreach: {
		"guest records", "data export", "personal data", "pii", "breach",
		"leak", "exported", "database dump", "records exported",
	},
	CategoryOperationalSecurity: {
		"procedure", "policy", "shift", "patrol", "cctv", "camera",
	},
	CategoryVendorAccess: {
		"vendor", "contractor", "supplier", "third party", "third-party",
	},
	CategoryPhysicalSecurity: {
		"theft", "stolen", "break-in", "intrusion", "trespass", "vandalism",
		"assault", "fight",
	},
	CategoryCyberSecurity: {
		"malware", "phishing", "ransomware", "network", "server", "login",
		"brute force", "firewall", "vpn",
	},
	CategoryComplianceViolation: {
		"compliance", "audit", "regulation", "violation", "gdpr", "dpdp",
		"pci",
	},
}

// ClassifyByKeywords is the deterministic keyword-heuristic classifier used
// when model output is unparseable. Confidence is proportional to keyword
// hits, capped at 0.8. With no hits at all it reports operational-security
// at the floor confidence.
func ClassifyByKeywords(title, description string) *ClassificationResult {
	text := strings.ToLower(title + " " + description)

	best := CategoryOperationalSecurity
	bestHits := 0
	var alternatives []Category
	for _, cat := range AllCategories {
		hits := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			if bestHits > 0 {
				alternatives = append(alternatives, best)
			}
			best, bestHits = cat, hits
		} else if hits > 0 {
			alternatives = append(alternatives, cat)
		}
	}

	confidence := 0.3 + 0.15*float64(bestHits)
	if confidence > 0.8 {
		confidence = 0.8
	}
	if bestHits == 0 {
		confidence = 0.3
	}

	return &ClassificationResult{
		Category:     best,
		Confidence:   confidence,
		Reasoning:    fmt.Sprintf("keyword heuristic: %d indicative terms for %s", bestHits, best),
		Alternatives: alternatives,
		Entities:     ExtractEntities(title + " " + description),
	}
}

var (
	cardIDPattern   = regexp.MustCompile(`\bKC[_-]?\w+\b`)
	userPattern     = regexp.MustCompile(`\b\w+_user\b`)
	roomRefPattern  = regexp.MustCompile(`(?i)\b(?:room|rm\.?|suite)\s*#?\s*(\d{3,4})\b`)
	countRefPattern = regexp.MustCompile(`\b[\d,]+\s+(?:guest\s+)?records\b`)
)

// ExtractEntities pulls actionable identifiers (keycard ids, usernames,
// room numbers, record counts) out of free text in a stable order.
func ExtractEntities(text string) []string {
	var out []string
	out = append(out, cardIDPattern.FindAllString(text, -1)...)
	out = append(out, userPattern.FindAllString(text, -1)...)
	for _, m := range roomRefPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, "room:"+m[1])
	}
	out = append(out, countRefPattern.FindAllString(text, -1)...)
	return out
}

// =============================================================================
// Prioritization tool
// =============================================================================

const prioritizeSystemPrompt = `You are a hotel security risk assessor. Given an incident and its category, produce a risk assessment.
Respond with only a JSON object:
{"priority": "critical|high|medium|low|informational", "reasoning": "...", "risk": {"score": 0.0-10.0, "likelihood": 0.0-10.0, "confidence": 0.0-1.0, "risk_factors": ["..."], "mitigation_urgency": "..."}, "recommended_sla_minutes": 60, "stakeholders": ["..."]}`

// NewPrioritizationTool builds the prioritize adapter. The returned
// priority always equals the risk-score banding; a model that disagrees
// with its own score is corrected, and gate overrides are recorded
// separately on the incident.
func NewPrioritizationTool(provider llm.Provider, sink SampleSink, cfg ToolConfig) Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &llmTool{
		name:         ToolPrioritization,
		provider:     provider,
		limiter:      newLimiter(cfg.RatePerMinute),
		timeout:      cfg.Timeout,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: prioritizeSystemPrompt,
		sink:         sink,
		buildPrompt: func(req AnalysisRequest) string {
			return fmt.Sprintf("Category: %s\nTitle: %s\nDescription: %s\nAffected guests: %d\nAffected systems: %s\nEstimated cost: %.0f",
				req.Category, req.Title, req.Description,
				req.Metadata.AffectedGuests,
				strings.Join(req.Metadata.AffectedSystems, ", "),
				req.Metadata.EstimatedCost)
		},
		parse:    parsePrioritization,
		fallback: prioritizationFallback,
	}
}

type prioritizationWire struct {
	Priority              Priority       `json:"priority"`
	Reasoning             string         `json:"reasoning"`
	Risk                  RiskAssessment `json:"risk"`
	RecommendedSLAMinutes int            `json:"recommended_sla_minutes"`
	Stakeholders          []string       `json:"stakeholders"`
}

func parsePrioritization(raw string, _ AnalysisRequest) (*AnalysisResult, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var wire prioritizationWire
	if err := json.Unmarshal(obj, &wire); err != nil {
		return nil, fmt.Errorf("prioritization JSON invalid: %w", err)
	}
	if wire.Risk.Score < 0 || wire.Risk.Score > 10 {
		return nil, fmt.Errorf("risk score %f outside [0,10]", wire.Risk.Score)
	}
	if wire.Risk.Confidence < 0 || wire.Risk.Confidence > 1 {
		return nil, fmt.Errorf("risk confidence %f outside [0,1]", wire.Risk.Confidence)
	}

	out := PrioritizationResult{
		Priority:       PriorityFromRiskScore(wire.Risk.Score),
		Reasoning:      wire.Reasoning,
		Risk:           wire.Risk,
		RecommendedSLA: time.Duration(wire.RecommendedSLAMinutes) * time.Minute,
		Stakeholders:   wire.Stakeholders,
	}
	if out.RecommendedSLA <= 0 {
		out.RecommendedSLA = SLAForPriority(out.Priority)
	}
	return &AnalysisResult{Kind: ToolResultPrioritization, Prioritization: &out}, nil
}

// prioritizationFallback derives risk deterministically from category and
// scope when the model is unavailable or unparseable.
func prioritizationFallback(req AnalysisRequest, raw string) *AnalysisResult {
	score := baseRiskForCategory(req.Category)
	var factors []string

	if req.Metadata.AffectedGuests > 100 {
		score += 1.5
		factors = append(factors, "large guest population affected")
	} else if req.Metadata.AffectedGuests > 10 {
		score += 0.8
		factors = append(factors, "multiple guests affected")
	}
	if len(req.Metadata.AffectedSystems) > 2 {
		score += 0.7
		factors = append(factors, "multiple systems affected")
	}
	if req.Metadata.EstimatedCost > 100000 {
		score += 1.0
		factors = append(factors, "estimated cost above INR 100,000")
	}
	if score > 10 {
		score = 10
	}

	priority := PriorityFromRiskScore(score)
	res := PrioritizationResult{
		Priority:  priority,
		Reasoning: "heuristic fallback: category base risk adjusted for scope",
		Risk: RiskAssessment{
			Score:             score,
			Likelihood:        score * 0.8,
			Confidence:        0.6,
			RiskFactors:       factors,
			MitigationUrgency: urgencyForPriority(priority),
		},
		RecommendedSLA: SLAForPriority(priority),
		Stakeholders:   []string{"security_team"},
	}
	return &AnalysisResult{
		Kind:           ToolResultUnparseable,
		Prioritization: &res,
		Raw:            raw,
		FallbackUsed:   true,
	}
}

// baseRiskForCategory is the heuristic starting score per category.
func baseRiskForCategory(c Category) float64 {
	switch c {
	case CategoryPIIBreach:
		return 7.5
	case CategoryPaymentFraud:
		return 6.5
	case CategoryCyberSecurity:
		return 6.5
	case CategoryGuestAccess:
		return 6.0
	case CategoryPhysicalSecurity:
		return 5.5
	case CategoryVendorAccess:
		return 5.0
	case CategoryComplianceViolation:
		return 4.5
	default:
		return 4.0
	}
}

func urgencyForPriority(p Priority) string {
	switch p {
	case PriorityCritical:
		return "immediate"
	case PriorityHigh:
		return "urgent"
	case PriorityMedium:
		return "scheduled"
	default:
		return "routine"
	}
}

// =============================================================================
// Response generation tool
// =============================================================================

const respondSystemPrompt = `You are a hotel security response planner. Given a classified, prioritized incident and its playbook, produce a concrete response plan.
Respond with only a JSON object:
{"immediate_actions": ["..."], "investigation_steps": ["..."], "containment_measures": ["..."], "notifications": ["..."], "documentation_required": ["..."], "follow_up_actions": ["..."]}`

// NewResponseTool builds the response-generation adapter. Temperature is
// pinned to zero and the fallback is a pure function of the request, so the
// same input always produces the same plan.
func NewResponseTool(provider llm.Provider, sink SampleSink, cfg ToolConfig) Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &llmTool{
		name:         ToolResponse,
		provider:     provider,
		limiter:      newLimiter(cfg.RatePerMinute),
		timeout:      cfg.Timeout,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: respondSystemPrompt,
		sink:         sink,
		buildPrompt: func(req AnalysisRequest) string {
			playbook := "none"
			if req.Playbook != nil {
				playbook = fmt.Sprintf("%s (%s)", req.Playbook.ID, strings.Join(req.Playbook.RequiredActions, ", "))
			}
			return fmt.Sprintf("Category: %s\nPriority: %s\nRisk score: %.1f\nTitle: %s\nDescription: %s\nPlaybook: %s",
				req.Category, req.Priority, req.Risk.Score, req.Title, req.Description, playbook)
		},
		parse:    parseResponsePlan,
		fallback: responseFallback,
	}
}

func parseResponsePlan(raw string, _ AnalysisRequest) (*AnalysisResult, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var out ResponsePlan
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("response plan JSON invalid: %w", err)
	}
	if len(out.ImmediateActions) == 0 {
		return nil, fmt.Errorf("response plan has no immediate actions")
	}
	return &AnalysisResult{Kind: ToolResultResponsePlan, Response: &out}, nil
}

// responseFallback builds the plan from the playbook's required actions.
// Deterministic for identical input.
func responseFallback(req AnalysisRequest, raw string) *AnalysisResult {
	plan := &ResponsePlan{
		DocumentationRequired: []string{"incident timeline", "actions taken log"},
		FollowUpActions:       []string{"review incident in next security standup"},
	}
	if req.Playbook != nil {
		for _, action := range req.Playbook.RequiredActions {
			switch {
			case strings.HasPrefix(action, "investigate"):
				plan.InvestigationSteps = append(plan.InvestigationSteps, strings.ReplaceAll(action, "_", " "))
			case strings.HasPrefix(action, "notify"):
				plan.Notifications = append(plan.Notifications, strings.ReplaceAll(action, "_", " "))
			case strings.HasPrefix(action, "document"):
				plan.DocumentationRequired = append(plan.DocumentationRequired, strings.ReplaceAll(action, "_", " "))
			case strings.HasPrefix(action, "contain") || strings.HasPrefix(action, "lockdown"):
				plan.ContainmentMeasures = append(plan.ContainmentMeasures, strings.ReplaceAll(action, "_", " "))
			default:
				plan.ImmediateActions = append(plan.ImmediateActions, strings.ReplaceAll(action, "_", " "))
			}
		}
	}
	if len(plan.ImmediateActions) == 0 {
		plan.ImmediateActions = []string{"alert on-duty security manager", "secure the affected area or system"}
	}
	return &AnalysisResult{
		Kind:         ToolResultUnparseable,
		Response:     plan,
		Raw:          raw,
		FallbackUsed: true,
	}
}

// =============================================================================
// Shared parsing helpers
// =============================================================================

// extractJSONObject pulls the outermost JSON object out of model text,
// tolerating prose or code fences around it.
func extractJSONObject(raw string) (json.RawMessage, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	candidate := raw[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}
	return json.RawMessage(candidate), nil
}

// ContentHash fingerprints tool input; the response tool uses it to assert
// idempotence in logs and tests.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
