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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Safety Tool
// =============================================================================

// PII and content violation type names used in SafetyViolation.Type.
const (
	PIICreditCard   = "credit_card"
	PIIEmail        = "email"
	PIIPhone        = "phone"
	PIIGovernmentID = "government_id"
	PIIPassport     = "passport"
	PIIRoomNumber   = "room_number"
	PIIIPAddress    = "ip_address"

	ViolationViolence = "violence"
	ViolationThreat   = "threat_indicator"
)

// piiPattern is one compiled detection rule. Validator may veto a regex hit
// and refine its confidence.
type piiPattern struct {
	piiType   string
	pattern   *regexp.Regexp
	severity  ViolationSeverity
	validator func(match string) (bool, float64)
}

// SafetyInput is everything the safety tool reads. RiskScore and Category
// come from earlier workflow nodes and feed the human-review decision.
type SafetyInput struct {
	Content   string
	RiskScore float64
	Category  Category
}

// SafetyTool detects PII, threat language, and hospitality-specific content
// issues. It is fully deterministic: the same input always yields the same
// violations and the same sanitized content, so gate routing replays
// identically from a checkpoint.
type SafetyTool struct {
	patterns []piiPattern
}

// NewSafetyTool compiles the detection rule set.
func NewSafetyTool() *SafetyTool {
	return &SafetyTool{patterns: []piiPattern{
		// Credit card: major networks plus 4x4 grouping, Luhn-validated.
		{
			piiType:   PIICreditCard,
			pattern:   regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b|\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`),
			severity:  SeverityHigh,
			validator: validateCardNumber,
		},
		// Government ID: Aadhaar-style 12 digits in 4-4-4 groups.
		{
			piiType:  PIIGovernmentID,
			pattern:  regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
			severity: SeverityHigh,
			validator: func(m string) (bool, float64) {
				if countDigits(m) != 12 {
					return false, 0
				}
				// Aadhaar never starts with 0 or 1.
				first := firstDigit(m)
				if first == '0' || first == '1' {
					return false, 0
				}
				return true, 0.8
			},
		},
		// Passport: one letter + seven digits (Indian format).
		{
			piiType:  PIIPassport,
			pattern:  regexp.MustCompile(`\b[A-Z][0-9]{7}\b`),
			severity: SeverityHigh,
			validator: func(m string) (bool, float64) { return true, 0.7 },
		},
		{
			piiType:   PIIEmail,
			pattern:   regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			severity:  SeverityMedium,
			validator: validateEmailAddress,
		},
		// Phone: Indian mobile with optional +91, or any +CC international.
		{
			piiType:  PIIPhone,
			pattern:  regexp.MustCompile(`(?:\+91[-\s]?)?\b[6-9]\d{9}\b|\+\d{1,3}[-\s]?\d{6,12}\b`),
			severity: SeverityMedium,
			validator: func(m string) (bool, float64) {
				n := countDigits(m)
				if n < 10 || n > 14 {
					return false, 0
				}
				return true, 0.7
			},
		},
		{
			piiType:  PIIIPAddress,
			pattern:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			severity: SeverityMedium,
			validator: func(m string) (bool, float64) { return true, 0.8 },
		},
		// Room number: only flagged with an explicit "room"/"rm" prefix so
		// ordinary 3-4 digit numbers stay untouched.
		{
			piiType:  PIIRoomNumber,
			pattern:  regexp.MustCompile(`(?i)\b(?:room|rm\.?|suite)\s*#?\s*\d{3,4}\b`),
			severity: SeverityMedium,
			validator: func(m string) (bool, float64) { return true, 0.9 },
		},
	}}
}

// violenceKeywords each alone make the content critical.
var violenceKeywords = []string{
	"bomb", "kill", "shoot", "gun", "hostage", "stab", "explosive",
	"assault", "weapon",
}

// threatIndicators are weaker signals; three or more together make the
// content critical.
var threatIndicators = []string{
	"threat", "attack", "revenge", "destroy", "break in", "force entry",
	"steal", "sabotage", "intrude", "harm",
}

// hospitalityFlags are property-operations content issues surfaced as
// content flags, not violations.
var hospitalityFlags = []string{
	"master key", "keycard clone", "cloned card", "cctv blind",
	"camera disabled", "tailgating", "vendor badge", "staff credential",
}

// Check runs the full safety evaluation. Severity mapping is fixed:
// credit-card / government-id / passport are high, other PII medium, a
// violence keyword or three or more threat indicators critical. Passed is
// false iff any critical violation exists.
func (t *SafetyTool) Check(in SafetyInput) *SafetyCheck {
	content := in.Content
	violations := t.detectPII(content)

	lower := strings.ToLower(content)
	for _, kw := range violenceKeywords {
		if idx := strings.Index(lower, kw); idx >= 0 {
			violations = append(violations, SafetyViolation{
				Type:       ViolationViolence,
				Severity:   SeverityCritical,
				Match:      content[idx : idx+len(kw)],
				Position:   idx,
				Confidence: 0.9,
			})
		}
	}

	var indicatorHits []SafetyViolation
	for _, kw := range threatIndicators {
		if idx := strings.Index(lower, kw); idx >= 0 {
			indicatorHits = append(indicatorHits, SafetyViolation{
				Type:       ViolationThreat,
				Severity:   SeverityLow,
				Match:      content[idx : idx+len(kw)],
				Position:   idx,
				Confidence: 0.6,
			})
		}
	}
	if len(indicatorHits) >= 3 {
		for i := range indicatorHits {
			indicatorHits[i].Severity = SeverityCritical
		}
	}
	violations = append(violations, indicatorHits...)

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Position != violations[j].Position {
			return violations[i].Position < violations[j].Position
		}
		return violations[i].Type < violations[j].Type
	})

	var flags []string
	for _, f := range hospitalityFlags {
		if strings.Contains(lower, f) {
			flags = append(flags, f)
		}
	}

	criticals, highs := 0, 0
	overall := SeverityLow
	for _, v := range violations {
		switch v.Severity {
		case SeverityCritical:
			criticals++
		case SeverityHigh:
			highs++
		}
		if severityRank(v.Severity) > severityRank(overall) {
			overall = v.Severity
		}
	}

	check := &SafetyCheck{
		Passed:           criticals == 0,
		OverallRiskLevel: overall,
		Violations:       violations,
		ContentFlags:     flags,
		RequiresHumanReview: criticals > 0 || highs > 2 ||
			in.RiskScore >= 8.0 || in.Category == CategoryPIIBreach,
		SanitizedContent: t.Sanitize(content),
	}
	check.Recommendations = recommendationsFor(check, in)
	return check
}

// detectPII runs the pattern set with overlap suppression: a span claimed by
// an earlier (higher-priority) pattern is never reported twice. Pattern
// order in the rule set is therefore part of the contract.
func (t *SafetyTool) detectPII(content string) []SafetyViolation {
	var out []SafetyViolation
	var claimed [][2]int

	for _, p := range t.patterns {
		for _, loc := range p.pattern.FindAllStringIndex(content, -1) {
			if overlapsAny(claimed, loc[0], loc[1]) {
				continue
			}
			match := content[loc[0]:loc[1]]
			conf := 1.0
			if p.validator != nil {
				ok, c := p.validator(match)
				if !ok {
					continue
				}
				conf = c
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			out = append(out, SafetyViolation{
				Type:       p.piiType,
				Severity:   p.severity,
				Match:      match,
				Position:   loc[0],
				Confidence: conf,
			})
		}
	}
	return out
}

// Sanitize masks every PII match in content using the fixed rules: credit
// cards keep the first four and last four digits, emails keep the first
// character and the domain, everything else is replaced character for
// character with '*'. The result is the same length as the input and
// sanitizing twice changes nothing (masked text no longer matches any
// pattern).
func (t *SafetyTool) Sanitize(content string) string {
	masked := []byte(content)
	var claimed [][2]int

	for _, p := range t.patterns {
		for _, loc := range p.pattern.FindAllStringIndex(content, -1) {
			if overlapsAny(claimed, loc[0], loc[1]) {
				continue
			}
			match := content[loc[0]:loc[1]]
			if p.validator != nil {
				if ok, _ := p.validator(match); !ok {
					continue
				}
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			maskSpan(masked, loc[0], loc[1], p.piiType, match)
		}
	}
	return string(masked)
}

// maskSpan applies the per-type masking rule to masked[start:end].
func maskSpan(masked []byte, start, end int, piiType, match string) {
	switch piiType {
	case PIICreditCard:
		// Keep the first 4 and last 4 digits; mask every other digit.
		digitsSeen := 0
		total := countDigits(match)
		for i := start; i < end; i++ {
			if masked[i] >= '0' && masked[i] <= '9' {
				digitsSeen++
				if digitsSeen > 4 && digitsSeen <= total-4 {
					masked[i] = '*'
				}
			}
		}
	case PIIEmail:
		// Keep the first character and everything from '@' on.
		at := strings.LastIndexByte(match, '@')
		for i := start + 1; i < start+at; i++ {
			masked[i] = '*'
		}
	default:
		for i := start; i < end; i++ {
			if masked[i] != ' ' && masked[i] != '-' {
				masked[i] = '*'
			}
		}
	}
}

// recommendationsFor summarizes what the verdict demands of operators.
func recommendationsFor(c *SafetyCheck, in SafetyInput) []string {
	var recs []string
	if !c.Passed {
		recs = append(recs, "halt autonomous handling until a human reviews the flagged content")
	}
	piiSeen := false
	for _, v := range c.Violations {
		if v.Type != ViolationViolence && v.Type != ViolationThreat {
			piiSeen = true
			break
		}
	}
	if piiSeen {
		recs = append(recs, "use sanitized content in all notifications and logs")
	}
	if in.Category == CategoryPIIBreach {
		recs = append(recs, "trigger breach notification workflow within regulatory deadlines")
	}
	if len(c.ContentFlags) > 0 {
		recs = append(recs, "review hospitality content flags with property security")
	}
	return recs
}

func severityRank(s ViolationSeverity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func overlapsAny(claimed [][2]int, start, end int) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func firstDigit(s string) byte {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return s[i]
		}
	}
	return 0
}

// validateCardNumber requires a Luhn-valid 13-19 digit number.
func validateCardNumber(match string) (bool, float64) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, match)
	if len(clean) < 13 || len(clean) > 19 {
		return false, 0
	}
	if !luhnValid(clean) {
		return false, 0
	}
	return true, 0.95
}

// luhnValid performs the Luhn checksum.
func luhnValid(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		digit, _ := strconv.Atoi(string(number[i]))
		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alternate = !alternate
	}
	return sum%10 == 0
}

// validateEmailAddress rejects structurally invalid addresses the regex
// still lets through.
func validateEmailAddress(match string) (bool, float64) {
	at := strings.LastIndexByte(match, '@')
	if at < 1 {
		return false, 0
	}
	domain := match[at+1:]
	if !strings.Contains(domain, ".") || strings.Contains(match, "..") {
		return false, 0
	}
	return true, 0.9
}
