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
	"fmt"
	"sort"
	"time"

	"stayguard/platform/shared/types"
)

// =============================================================================
// Compliance Tool
// =============================================================================

// Regulatory notification deadlines. These are fixed by the frameworks, not
// configurable.
const (
	DPDPBreachNotificationDeadline = 72 * time.Hour
	GDPRAuthorityDeadline          = 72 * time.Hour
	PCICardBrandDeadline           = 24 * time.Hour
)

// ComplianceInput is what the compliance tool reads off the incident.
type ComplianceInput struct {
	Category Category
	Metadata IncidentMetadata
	Risk     RiskAssessment
	Safety   *SafetyCheck
}

// ComplianceTool evaluates which regulatory frameworks apply to an incident
// and what each one demands. It is deterministic: replaying a checkpoint
// routes through the same verdict.
type ComplianceTool struct {
	property types.PropertyProfile
}

// NewComplianceTool builds the tool for one property. The property's country
// decides whether GDPR applies territorially regardless of guest mix.
func NewComplianceTool(property types.PropertyProfile) *ComplianceTool {
	return &ComplianceTool{property: property}
}

// Check produces the compliance verdict. DPDP is always the baseline
// framework (Indian hospitality data); GDPR joins when the property or the
// affected guests are in EU scope; PCI DSS joins for payment fraud.
func (t *ComplianceTool) Check(in ComplianceInput) *ComplianceCheck {
	check := &ComplianceCheck{
		NotificationDeadlines: make(map[string]time.Duration),
		Passed:                true,
	}

	t.applyDPDP(in, check)
	if t.gdprApplies(in) {
		t.applyGDPR(in, check)
	}
	if in.Category == CategoryPaymentFraud {
		t.applyPCIDSS(in, check)
	}

	if in.Category == CategoryPIIBreach {
		check.LegalReviewRequired = true
	}
	if in.Safety != nil && !in.Safety.Passed {
		check.LegalReviewRequired = true
	}

	for _, r := range check.Results {
		if !r.Passed {
			check.Passed = false
		}
	}
	return check
}

// gdprApplies reports whether the incident falls in GDPR territorial scope:
// the property itself is in the EU, the incident location names an EU
// country, or the affected guests are EU residents.
func (t *ComplianceTool) gdprApplies(in ComplianceInput) bool {
	if t.property.InEU() {
		return true
	}
	if types.IsEUCountry(in.Metadata.Location) {
		return true
	}
	if types.IsEUCountry(in.Metadata.GuestNationality) {
		return true
	}
	if v, ok := in.Metadata.Extra["eu_guests"]; ok {
		switch n := v.(type) {
		case bool:
			return n
		case float64:
			return n > 0
		case int:
			return n > 0
		}
	}
	return false
}

func (t *ComplianceTool) applyDPDP(in ComplianceInput, check *ComplianceCheck) {
	result := FrameworkResult{Framework: FrameworkDPDP, Passed: true}

	breached := in.Category == CategoryPIIBreach ||
		(in.Safety != nil && safetyHasPII(in.Safety))
	if breached {
		result.Passed = false
		result.Violations = append(result.Violations,
			"personal data of Indian residents exposed or at risk")
		result.RequiredActions = append(result.RequiredActions,
			ComplianceAction{Action: "notify Data Protection Board of India", Deadline: DPDPBreachNotificationDeadline},
			ComplianceAction{Action: "notify affected data principals", Deadline: DPDPBreachNotificationDeadline},
		)
		check.NotificationDeadlines["dpdp_board"] = DPDPBreachNotificationDeadline
		check.DocumentationRequired = append(check.DocumentationRequired,
			"breach impact assessment", "affected data principal inventory")
	}

	check.Frameworks = append(check.Frameworks, FrameworkDPDP)
	check.Results = append(check.Results, result)
}

func (t *ComplianceTool) applyGDPR(in ComplianceInput, check *ComplianceCheck) {
	result := FrameworkResult{Framework: FrameworkGDPR, Passed: true}

	breached := in.Category == CategoryPIIBreach ||
		(in.Safety != nil && safetyHasPII(in.Safety))
	if breached {
		result.Passed = false
		result.Violations = append(result.Violations,
			"personal data of EU data subjects exposed or at risk")
		result.RequiredActions = append(result.RequiredActions,
			ComplianceAction{Action: "notify supervisory authority", Deadline: GDPRAuthorityDeadline},
		)
		if in.Metadata.AffectedGuests > 0 || in.Risk.Score >= 6.0 {
			result.RequiredActions = append(result.RequiredActions,
				ComplianceAction{Action: "notify affected data subjects without undue delay", Deadline: GDPRAuthorityDeadline})
		}
		check.NotificationDeadlines["gdpr_authority"] = GDPRAuthorityDeadline
		check.DocumentationRequired = append(check.DocumentationRequired,
			"article 33 breach record")
		check.LegalReviewRequired = true
	}

	check.Frameworks = append(check.Frameworks, FrameworkGDPR)
	check.Results = append(check.Results, result)
}

func (t *ComplianceTool) applyPCIDSS(in ComplianceInput, check *ComplianceCheck) {
	result := FrameworkResult{
		Framework: FrameworkPCIDSS,
		Passed:    false,
		Violations: []string{
			fmt.Sprintf("suspected cardholder data compromise at property %s", t.property.Code),
		},
		RequiredActions: []ComplianceAction{
			{Action: "notify card brands and acquiring bank", Deadline: PCICardBrandDeadline},
			{Action: "preserve transaction logs and system state", Deadline: PCICardBrandDeadline},
			{Action: "engage PCI forensic investigator if compromise confirmed", Deadline: 7 * 24 * time.Hour},
		},
	}

	check.Frameworks = append(check.Frameworks, FrameworkPCIDSS)
	check.Results = append(check.Results, result)
	check.NotificationDeadlines["card_brands"] = PCICardBrandDeadline
	check.LegalReviewRequired = true
	check.DocumentationRequired = append(check.DocumentationRequired,
		"cardholder data environment scope", "transaction audit trail")
}

// safetyHasPII reports whether the safety check found any PII violation (as
// opposed to threat-language violations).
func safetyHasPII(s *SafetyCheck) bool {
	for _, v := range s.Violations {
		if v.Type != ViolationViolence && v.Type != ViolationThreat {
			return true
		}
	}
	return false
}

// DeadlineSummary renders the notification deadlines for operator-facing
// output, e.g. "card_brands: 24 hours".
func DeadlineSummary(deadlines map[string]time.Duration) []string {
	var out []string
	for name, d := range deadlines {
		out = append(out, fmt.Sprintf("%s: %d hours", name, int(d.Hours())))
	}
	// Map order is random; callers want stable output.
	sort.Strings(out)
	return out
}
