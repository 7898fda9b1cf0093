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
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Playbook Catalog & Selector
// =============================================================================

// Timeout scaling bounds applied by the selector.
const (
	minScaledActionTimeout = 5 * time.Minute
	maxScaledActionTimeout = 8 * time.Hour
)

// StepExecutiveNotification is appended to a selected playbook when the
// incident's risk score reaches 8.
const StepExecutiveNotification = "executive_notification"

// PlaybookCatalog is the immutable set of playbooks the selector filters.
type PlaybookCatalog struct {
	playbooks []Playbook
}

// NewPlaybookCatalog returns the built-in catalog: one playbook per incident
// category plus the operational-security default.
func NewPlaybookCatalog() *PlaybookCatalog {
	return &PlaybookCatalog{playbooks: defaultPlaybooks()}
}

// LoadPlaybookCatalog reads a YAML override file and validates it. An empty
// path returns the built-in catalog.
func LoadPlaybookCatalog(path string) (*PlaybookCatalog, error) {
	if path == "" {
		return NewPlaybookCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook catalog %s: %w", path, err)
	}
	var doc struct {
		Playbooks []Playbook `yaml:"playbooks"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse playbook catalog %s: %w", path, err)
	}
	c := &PlaybookCatalog{playbooks: doc.Playbooks}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid playbook catalog %s: %w", path, err)
	}
	return c, nil
}

// validate enforces catalog invariants: unique ids, at least one category
// per playbook, every required action carries a requirement block, and the
// operational-security default exists.
func (c *PlaybookCatalog) validate() error {
	seen := make(map[string]bool)
	hasDefault := false
	for _, pb := range c.playbooks {
		if pb.ID == "" {
			return fmt.Errorf("playbook %q has no id", pb.Name)
		}
		if seen[pb.ID] {
			return fmt.Errorf("duplicate playbook id %q", pb.ID)
		}
		seen[pb.ID] = true
		if len(pb.ApplicableCategories) == 0 {
			return fmt.Errorf("playbook %q applies to no categories", pb.ID)
		}
		for _, cat := range pb.ApplicableCategories {
			if !cat.IsValid() {
				return fmt.Errorf("playbook %q names unknown category %q", pb.ID, cat)
			}
			if cat == CategoryOperationalSecurity {
				hasDefault = true
			}
		}
		for _, action := range pb.RequiredActions {
			if _, ok := pb.ActionRequirements[action]; !ok {
				return fmt.Errorf("playbook %q action %q has no requirement block", pb.ID, action)
			}
		}
	}
	if !hasDefault {
		return fmt.Errorf("catalog has no operational-security playbook to default to")
	}
	return nil
}

// Playbooks returns the catalog contents. Callers must not mutate entries.
func (c *PlaybookCatalog) Playbooks() []Playbook { return c.playbooks }

// ByID looks up a playbook.
func (c *PlaybookCatalog) ByID(id string) (Playbook, bool) {
	for _, pb := range c.playbooks {
		if pb.ID == id {
			return pb, true
		}
	}
	return Playbook{}, false
}

// SelectionInput is what the selector reads off the incident.
type SelectionInput struct {
	Category Category
	Priority Priority
	Risk     RiskAssessment
}

// Selection is the selector's output: the chosen playbook with scaled
// timeouts, plus the reasoning that picked it.
type Selection struct {
	Playbook  Playbook `json:"playbook"`
	Reasoning string   `json:"reasoning"`
	Defaulted bool     `json:"defaulted"`
}

// Select filters the catalog by category and returns the matching playbook
// with priority-scaled timeouts. When nothing matches, the
// operational-security playbook is the documented default. Critical
// incidents get halved timeouts (floor 5 minutes); low and informational get
// doubled timeouts (cap 8 hours). Risk at or above 8 appends an
// executive-notification step.
func (c *PlaybookCatalog) Select(in SelectionInput) Selection {
	var match *Playbook
	for i := range c.playbooks {
		if c.playbooks[i].AppliesTo(in.Category) {
			match = &c.playbooks[i]
			break
		}
	}

	sel := Selection{}
	if match == nil {
		for i := range c.playbooks {
			if c.playbooks[i].AppliesTo(CategoryOperationalSecurity) {
				match = &c.playbooks[i]
				break
			}
		}
		sel.Defaulted = true
		sel.Reasoning = fmt.Sprintf(
			"no playbook covers category %s; defaulting to operational-security playbook %s",
			in.Category, match.ID)
	} else {
		sel.Reasoning = fmt.Sprintf(
			"playbook %s matched: category %s in applicable categories", match.ID, in.Category)
	}

	pb := clonePlaybook(*match)
	for name, req := range pb.ActionRequirements {
		req.Timeout = scaleTimeout(req.Timeout, in.Priority)
		pb.ActionRequirements[name] = req
	}
	if in.Risk.Score >= 8.0 && !containsString(pb.RequiredActions, StepExecutiveNotification) {
		pb.RequiredActions = append(pb.RequiredActions, StepExecutiveNotification)
		pb.ActionRequirements[StepExecutiveNotification] = ActionRequirement{
			Timeout: scaleTimeout(30*time.Minute, in.Priority),
		}
		sel.Reasoning += fmt.Sprintf("; risk %.1f >= 8.0 appended %s", in.Risk.Score, StepExecutiveNotification)
	}

	sel.Playbook = pb
	return sel
}

// scaleTimeout applies the priority scaling rule to one action timeout.
func scaleTimeout(t time.Duration, p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		scaled := t / 2
		if scaled < minScaledActionTimeout {
			scaled = minScaledActionTimeout
		}
		return scaled
	case PriorityLow, PriorityInformational:
		scaled := t * 2
		if scaled > maxScaledActionTimeout {
			scaled = maxScaledActionTimeout
		}
		return scaled
	default:
		return t
	}
}

// clonePlaybook deep-copies the mutable parts so the catalog entry stays
// immutable across selections.
func clonePlaybook(pb Playbook) Playbook {
	out := pb
	out.RequiredActions = append([]string(nil), pb.RequiredActions...)
	out.ApplicableCategories = append([]Category(nil), pb.ApplicableCategories...)
	out.ComplianceFrameworks = append([]Framework(nil), pb.ComplianceFrameworks...)
	out.ActionRequirements = make(map[string]ActionRequirement, len(pb.ActionRequirements))
	for k, v := range pb.ActionRequirements {
		out.ActionRequirements[k] = v
	}
	if pb.EscalationCriteria != nil {
		out.EscalationCriteria = make(map[string]string, len(pb.EscalationCriteria))
		for k, v := range pb.EscalationCriteria {
			out.EscalationCriteria[k] = v
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// defaultPlaybooks is the built-in catalog. Action names are the vocabulary
// the plan builder maps to executor action types.
func defaultPlaybooks() []Playbook {
	return []Playbook{
		{
			ID:                   "pb-guest-access",
			Name:                 "Guest Access Compromise",
			ApplicableCategories: []Category{CategoryGuestAccess},
			RequiredActions: []string{
				"revoke_access", "update_room_status", "notify_security_team",
				"investigate_access_logs", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"revoke_access":           {Timeout: 10 * time.Minute},
				"update_room_status":      {Timeout: 10 * time.Minute},
				"notify_security_team":    {Timeout: 15 * time.Minute},
				"investigate_access_logs": {Timeout: 2 * time.Hour},
				"document_incident":       {Timeout: 4 * time.Hour},
			},
			EscalationCriteria: map[string]string{
				"multiple_rooms": "more than 3 rooms affected",
				"vip_guest":      "affected guest is VIP",
			},
			ComplianceFrameworks: []Framework{FrameworkDPDP},
		},
		{
			ID:                   "pb-payment-fraud",
			Name:                 "Payment Fraud Response",
			ApplicableCategories: []Category{CategoryPaymentFraud},
			RequiredActions: []string{
				"flag_transactions", "notify_finance_team", "file_compliance_report",
				"investigate_transaction_pattern", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"flag_transactions":               {Timeout: 15 * time.Minute},
				"notify_finance_team":             {Timeout: 15 * time.Minute},
				"file_compliance_report":          {RequiresComplianceCheck: true, RequiresLegalReview: true, Timeout: 12 * time.Hour},
				"investigate_transaction_pattern": {Timeout: 4 * time.Hour},
				"document_incident":               {Timeout: 4 * time.Hour},
			},
			EscalationCriteria: map[string]string{
				"high_value": "aggregate fraud exceeds INR 100,000",
			},
			ComplianceFrameworks: []Framework{FrameworkPCIDSS, FrameworkDPDP},
		},
		{
			ID:                   "pb-pii-breach",
			Name:                 "PII Breach Containment",
			ApplicableCategories: []Category{CategoryPIIBreach},
			RequiredActions: []string{
				"revoke_access", "contain_data_export", "file_compliance_report",
				"notify_privacy_officer", "investigate_exfiltration", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"revoke_access":            {RequiresHumanApproval: true, Timeout: 15 * time.Minute},
				"contain_data_export":      {RequiresHumanApproval: true, Timeout: 30 * time.Minute},
				"file_compliance_report":   {RequiresComplianceCheck: true, RequiresLegalReview: true, Timeout: 24 * time.Hour},
				"notify_privacy_officer":   {Timeout: 30 * time.Minute},
				"investigate_exfiltration": {Timeout: 8 * time.Hour},
				"document_incident":        {Timeout: 8 * time.Hour},
			},
			EscalationCriteria: map[string]string{
				"bulk_export": "more than 100 records affected",
			},
			ComplianceFrameworks: []Framework{FrameworkDPDP, FrameworkGDPR},
		},
		{
			ID:                   "pb-operational-security",
			Name:                 "Operational Security Baseline",
			ApplicableCategories: []Category{CategoryOperationalSecurity},
			RequiredActions: []string{
				"notify_security_team", "investigate_incident", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"notify_security_team": {Timeout: 30 * time.Minute},
				"investigate_incident": {Timeout: 4 * time.Hour},
				"document_incident":    {Timeout: 8 * time.Hour},
			},
		},
		{
			ID:                   "pb-vendor-access",
			Name:                 "Vendor Access Violation",
			ApplicableCategories: []Category{CategoryVendorAccess},
			RequiredActions: []string{
				"revoke_access", "notify_security_team", "notify_vendor_manager",
				"investigate_access_logs", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"revoke_access":           {Timeout: 15 * time.Minute},
				"notify_security_team":    {Timeout: 30 * time.Minute},
				"notify_vendor_manager":   {Timeout: time.Hour},
				"investigate_access_logs": {Timeout: 4 * time.Hour},
				"document_incident":       {Timeout: 8 * time.Hour},
			},
		},
		{
			ID:                   "pb-physical-security",
			Name:                 "Physical Security Response",
			ApplicableCategories: []Category{CategoryPhysicalSecurity},
			RequiredActions: []string{
				"lockdown_area", "notify_security_team", "update_room_status",
				"investigate_incident", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"lockdown_area":        {RequiresHumanApproval: true, Timeout: 10 * time.Minute},
				"notify_security_team": {Timeout: 10 * time.Minute},
				"update_room_status":   {Timeout: 30 * time.Minute},
				"investigate_incident": {Timeout: 2 * time.Hour},
				"document_incident":    {Timeout: 8 * time.Hour},
			},
			EscalationCriteria: map[string]string{
				"guest_harm": "any guest injury reported",
			},
		},
		{
			ID:                   "pb-cyber-security",
			Name:                 "Cyber Security Containment",
			ApplicableCategories: []Category{CategoryCyberSecurity},
			RequiredActions: []string{
				"revoke_access", "contain_affected_systems", "notify_security_team",
				"investigate_intrusion", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"revoke_access":            {Timeout: 15 * time.Minute},
				"contain_affected_systems": {RequiresHumanApproval: true, Timeout: 30 * time.Minute},
				"notify_security_team":     {Timeout: 15 * time.Minute},
				"investigate_intrusion":    {Timeout: 8 * time.Hour},
				"document_incident":        {Timeout: 8 * time.Hour},
			},
		},
		{
			ID:                   "pb-compliance-violation",
			Name:                 "Compliance Violation Handling",
			ApplicableCategories: []Category{CategoryComplianceViolation},
			RequiredActions: []string{
				"file_compliance_report", "notify_compliance_officer",
				"investigate_incident", "document_incident",
			},
			ActionRequirements: map[string]ActionRequirement{
				"file_compliance_report":    {RequiresComplianceCheck: true, Timeout: 24 * time.Hour},
				"notify_compliance_officer": {Timeout: time.Hour},
				"investigate_incident":      {Timeout: 8 * time.Hour},
				"document_incident":         {Timeout: 8 * time.Hour},
			},
			ComplianceFrameworks: []Framework{FrameworkDPDP},
		},
	}
}
