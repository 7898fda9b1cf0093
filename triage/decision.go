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
	"strings"
	"time"

	"github.com/google/uuid"

	"stayguard/platform/shared/types"
)

// =============================================================================
// Decision Engine
// =============================================================================

// financialNormalization is the INR amount financial impact is normalized
// against before weighting, and the autonomy override threshold.
const financialNormalization = 100000.0

// Impact weights (sum 1.0).
const (
	weightFinancial    = 0.25
	weightSatisfaction = 0.20
	weightOperational  = 0.20
	weightReputation   = 0.20
	weightCompliance   = 0.15
)

// severityMultipliers scale base impact by priority band.
var severityMultipliers = map[Priority]float64{
	PriorityInformational: 0.2,
	PriorityLow:           0.5,
	PriorityMedium:        1.0,
	PriorityHigh:          2.0,
	PriorityCritical:      3.5,
}

// categoryImpact is the per-category base impact table. Financial is INR;
// the dimension scores are in [0,10].
type categoryImpact struct {
	financial    float64
	satisfaction float64
	operational  float64
	reputation   float64
	compliance   float64
	urgency      float64
}

var categoryImpacts = map[Category]categoryImpact{
	CategoryGuestAccess:         {financial: 25000, satisfaction: 7.0, operational: 5.0, reputation: 6.0, compliance: 4.0, urgency: 1.2},
	CategoryPaymentFraud:        {financial: 80000, satisfaction: 5.0, operational: 4.0, reputation: 7.0, compliance: 8.0, urgency: 1.3},
	CategoryPIIBreach:           {financial: 120000, satisfaction: 6.0, operational: 5.0, reputation: 9.0, compliance: 9.5, urgency: 1.4},
	CategoryOperationalSecurity: {financial: 15000, satisfaction: 4.0, operational: 6.0, reputation: 3.0, compliance: 3.0, urgency: 1.0},
	CategoryVendorAccess:        {financial: 30000, satisfaction: 3.0, operational: 5.5, reputation: 4.0, compliance: 5.0, urgency: 1.0},
	CategoryPhysicalSecurity:    {financial: 40000, satisfaction: 8.0, operational: 6.0, reputation: 7.5, compliance: 4.0, urgency: 1.4},
	CategoryCyberSecurity:       {financial: 90000, satisfaction: 4.0, operational: 8.0, reputation: 7.0, compliance: 7.0, urgency: 1.3},
	CategoryComplianceViolation: {financial: 50000, satisfaction: 2.0, operational: 4.0, reputation: 5.0, compliance: 9.0, urgency: 1.1},
}

// autonomyThresholds is the per-category score an incident must reach to
// proceed without a human.
var autonomyThresholds = map[Category]float64{
	CategoryGuestAccess:         0.75,
	CategoryPaymentFraud:        0.70,
	CategoryPIIBreach:           0.65,
	CategoryCyberSecurity:       0.60,
	CategoryComplianceViolation: 0.50,
	CategoryOperationalSecurity: 0.70,
	CategoryVendorAccess:        0.75,
	CategoryPhysicalSecurity:    0.80,
}

// Autonomy criteria weights (sum 1.0).
const (
	critFinancial     = 0.20
	critGuestSafety   = 0.25
	critConfidence    = 0.15
	critCompliance    = 0.15
	critOperational   = 0.10
	critTime          = 0.05
	critHistory       = 0.05
	critIntegration   = 0.05
)

// Plan scoring weights.
const (
	planWeightEffectiveness = 0.35
	planWeightEfficiency    = 0.20
	planWeightRisk          = 0.25
	planWeightComplexity    = 0.10
	planWeightResources     = 0.10
)

// HistoricalSource supplies per-category outcome history to the autonomy
// assessment. The memory retriever implements it.
type HistoricalSource interface {
	HistoricalSuccessRate(c Category) float64
}

// DecisionEngine scores incidents for autonomy and selects action plans.
type DecisionEngine struct {
	property types.PropertyProfile
	history  HistoricalSource
	now      func() time.Time
}

// NewDecisionEngine builds the engine for one property. history may be nil;
// the assessment then assumes a neutral 0.7 success rate.
func NewDecisionEngine(property types.PropertyProfile, history HistoricalSource) *DecisionEngine {
	return &DecisionEngine{property: property, history: history, now: time.Now}
}

// ComputeBusinessImpact scores the incident's business exposure: category
// base impacts × severity multiplier × scope multiplier (capped at 5.0) ×
// urgency factor, with a 1.2 night-hours multiplier between 22:00 and 06:00
// property-local time.
func (d *DecisionEngine) ComputeBusinessImpact(in *Incident) *BusinessImpact {
	base, ok := categoryImpacts[in.Category]
	if !ok {
		base = categoryImpacts[CategoryOperationalSecurity]
	}
	severity := severityMultipliers[in.Priority]
	if severity == 0 {
		severity = 1.0
	}

	scope := 1.0 + float64(in.Metadata.AffectedGuests)/50.0 + float64(len(in.Metadata.AffectedSystems))/4.0
	if scope > 5.0 {
		scope = 5.0
	}

	urgency := base.urgency
	hour := d.now().In(d.property.Location()).Hour()
	if hour >= 22 || hour < 6 {
		urgency *= 1.2
	}

	impact := &BusinessImpact{
		Financial:    base.financial * severity * scope,
		Satisfaction: clamp10(base.satisfaction * severity * scope),
		Operational:  clamp10(base.operational * severity * scope),
		Reputation:   clamp10(base.reputation * severity * scope),
		Compliance:   clamp10(base.compliance * severity * scope),
		Scope:        scope,
		Urgency:      urgency,
	}
	impact.Total = urgency * (weightFinancial*(impact.Financial/financialNormalization) +
		weightSatisfaction*impact.Satisfaction +
		weightOperational*impact.Operational +
		weightReputation*impact.Reputation +
		weightCompliance*impact.Compliance)
	return impact
}

// ComputeRiskVector derives the seven-dimension risk picture from the
// incident and its business impact. Overall is the weighted mean of six
// dimensions; escalation risk feeds escalation triggers only.
func (d *DecisionEngine) ComputeRiskVector(in *Incident, impact *BusinessImpact) *RiskVector {
	risk := in.Risk.Score / 10.0

	v := &RiskVector{
		GuestSafety:     scaleRiskFor(in.Category, risk, CategoryPhysicalSecurity, CategoryGuestAccess),
		DataSecurity:    scaleRiskFor(in.Category, risk, CategoryPIIBreach, CategoryCyberSecurity),
		Financial:       clamp01(impact.Financial / (financialNormalization * 5)),
		Operational:     clamp01(impact.Operational / 10.0),
		LegalCompliance: clamp01(impact.Compliance / 10.0),
		Reputation:      clamp01(impact.Reputation / 10.0),
		Escalation:      clamp01(risk * 0.9),
	}

	v.RequiresLegalReview = in.Category == CategoryPIIBreach || in.Category == CategoryPaymentFraud
	v.RequiresManagementApproval = in.Priority == PriorityCritical && in.Risk.Score >= 9.0
	if in.Priority == PriorityCritical {
		v.CriticalTimeframe = 15 * time.Minute
	} else if in.Priority == PriorityHigh {
		v.CriticalTimeframe = 60 * time.Minute
	}

	v.Overall = 0.25*v.GuestSafety + 0.20*v.DataSecurity + 0.15*v.Financial +
		0.15*v.Operational + 0.15*v.LegalCompliance + 0.10*v.Reputation
	return v
}

// scaleRiskFor passes the normalized risk score through unchanged when the
// incident category is one of the dimension's drivers, and halves it
// otherwise. The driver path preserves the score exactly so the autonomy
// override boundary (guest-safety risk strictly greater than 0.8) lands on
// the same edge as a composite risk score of 8.0.
func scaleRiskFor(c Category, base float64, drivers ...Category) float64 {
	for _, d := range drivers {
		if c == d {
			return clamp01(base)
		}
	}
	return clamp01(base * 0.5)
}

// AssessAutonomy produces the autonomous-vs-escalate call: eight weighted
// criteria against the per-category threshold, with hard overrides that
// force escalation regardless of score.
func (d *DecisionEngine) AssessAutonomy(in *Incident, impact *BusinessImpact, vector *RiskVector) *AutonomyAssessment {
	histRate := 0.7
	if d.history != nil {
		if r := d.history.HistoricalSuccessRate(in.Category); r > 0 {
			histRate = r
		}
	}

	scores := map[string]float64{
		"financial_threshold":       financialAutonomyScore(impact.Financial),
		"guest_safety":              guestSafetyAutonomyScore(vector.GuestSafety),
		"classification_confidence": clamp01(in.ClassificationConfidence),
		"compliance_simplicity":     complianceSimplicityScore(vector.LegalCompliance),
		"operational_impact":        operationalAutonomyScore(vector.Operational),
		// Tighter timeframes favor autonomy: humans cannot respond in minutes.
		"time_sensitivity":       timeSensitivityScore(vector.CriticalTimeframe),
		"historical_success":     clamp01(histRate),
		"integration_complexity": integrationScore(in.Metadata.AffectedSystems),
	}

	weighted := critFinancial*scores["financial_threshold"] +
		critGuestSafety*scores["guest_safety"] +
		critConfidence*scores["classification_confidence"] +
		critCompliance*scores["compliance_simplicity"] +
		critOperational*scores["operational_impact"] +
		critTime*scores["time_sensitivity"] +
		critHistory*scores["historical_success"] +
		critIntegration*scores["integration_complexity"]

	threshold, ok := autonomyThresholds[in.Category]
	if !ok {
		threshold = 0.75
	}

	var overrides []string
	if vector.RequiresLegalReview {
		overrides = append(overrides, "requires_legal_review")
	}
	if vector.RequiresManagementApproval {
		overrides = append(overrides, "requires_management_approval")
	}
	if impact.Financial > financialNormalization {
		overrides = append(overrides, "financial_impact_exceeds_threshold")
	}
	if vector.GuestSafety > 0.8 {
		overrides = append(overrides, "guest_safety_risk_exceeds_threshold")
	}
	if in.ClassificationConfidence < 0.6 {
		overrides = append(overrides, "classification_confidence_below_threshold")
	}

	a := &AutonomyAssessment{
		CriteriaScores: scores,
		WeightedScore:  weighted,
		Threshold:      threshold,
		Autonomous:     weighted >= threshold && len(overrides) == 0,
		Overrides:      overrides,
	}
	if a.Autonomous {
		a.Reasoning = fmt.Sprintf("weighted score %.2f meets %s threshold %.2f with no overrides",
			weighted, in.Category, threshold)
	} else if len(overrides) > 0 {
		a.Reasoning = fmt.Sprintf("escalation forced by: %s", strings.Join(overrides, ", "))
	} else {
		a.Reasoning = fmt.Sprintf("weighted score %.2f below %s threshold %.2f",
			weighted, in.Category, threshold)
	}
	return a
}

// The autonomy criteria band their inputs rather than taking linear
// complements: impact dimensions clamp at 10 and hit the ceiling for any
// high-severity incident, which would score every such incident as maximal
// exposure regardless of its actual footprint.

// financialAutonomyScore bands exposure in INR. The top band overlaps the
// hard financial override, which catches anything above financialNormalization.
func financialAutonomyScore(exposure float64) float64 {
	switch {
	case exposure <= 25000:
		return 1.0
	case exposure <= 50000:
		return 0.9
	case exposure <= financialNormalization:
		return 0.6
	default:
		return 0.2
	}
}

// guestSafetyAutonomyScore bands the guest-safety dimension; above 0.8 the
// hard override already forces escalation.
func guestSafetyAutonomyScore(risk float64) float64 {
	switch {
	case risk <= 0.4:
		return 1.0
	case risk <= 0.7:
		return 0.8
	case risk <= 0.8:
		return 0.5
	default:
		return 0.2
	}
}

func complianceSimplicityScore(legal float64) float64 {
	switch {
	case legal <= 0.4:
		return 1.0
	case legal <= 0.7:
		return 0.8
	case legal <= 0.9:
		return 0.6
	default:
		return 0.3
	}
}

func operationalAutonomyScore(op float64) float64 {
	switch {
	case op <= 0.5:
		return 1.0
	case op <= 0.8:
		return 0.7
	default:
		return 0.5
	}
}

func timeSensitivityScore(tf time.Duration) float64 {
	switch {
	case tf == 0:
		return 0.5
	case tf <= 15*time.Minute:
		return 1.0
	case tf <= time.Hour:
		return 0.8
	default:
		return 0.6
	}
}

func integrationScore(systems []string) float64 {
	switch {
	case len(systems) <= 1:
		return 1.0
	case len(systems) <= 3:
		return 0.7
	default:
		return 0.4
	}
}

// =============================================================================
// Plan generation & selection
// =============================================================================

// planCandidate pairs a generated plan with its unweighted dimension scores.
type planCandidate struct {
	name  string
	plan  DecisionPlan
	score PlanScore
	cost  float64
}

// BuildPlan enumerates candidate plans from the selected playbook at three
// scopes (minimal, standard, comprehensive), scores each, and returns the
// winner with its alternatives and rationale recorded. Ties break by lower
// complexity, then lower estimated cost.
func (d *DecisionEngine) BuildPlan(in *Incident, sel Selection, vector *RiskVector) *DecisionPlan {
	scopes := []string{"minimal", "standard", "comprehensive"}
	candidates := make([]planCandidate, 0, len(scopes))
	for _, scope := range scopes {
		candidates = append(candidates, d.buildCandidate(in, sel, vector, scope))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score.Total != b.score.Total {
			return a.score.Total > b.score.Total
		}
		if a.score.Complexity != b.score.Complexity {
			return a.score.Complexity < b.score.Complexity
		}
		return a.cost < b.cost
	})

	winner := candidates[0]
	plan := winner.plan
	plan.Score = winner.score
	plan.Rationale = fmt.Sprintf(
		"selected %s scope: score %.3f (effectiveness %.2f, efficiency %.2f, risk mitigation %.2f, complexity %.2f, resources %.2f)",
		winner.name, winner.score.Total, winner.score.Effectiveness, winner.score.Efficiency,
		winner.score.RiskMitigation, winner.score.Complexity, winner.score.ResourceAvailability)
	for _, alt := range candidates[1:] {
		plan.Alternatives = append(plan.Alternatives, PlanSummary{
			Name:        alt.name,
			ActionCount: len(alt.plan.Actions),
			Score:       alt.score.Total,
			Reason:      "lower weighted score than selected plan",
		})
	}
	return &plan
}

// buildCandidate materializes one scoped plan from the playbook's required
// actions.
func (d *DecisionEngine) buildCandidate(in *Incident, sel Selection, vector *RiskVector, scope string) planCandidate {
	actions := buildActions(in, sel.Playbook, scope)

	timeline := make(map[string]time.Time)
	cursor := d.now().UTC()
	totalDuration := time.Duration(0)
	totalCost := 0.0
	for _, a := range actions {
		timeline[a.ID] = cursor
		if len(a.DependsOn) > 0 {
			cursor = cursor.Add(a.EstimatedDuration)
		}
		totalDuration += a.EstimatedDuration
		totalCost += actionCost(a.Type)
	}

	// Scope widens coverage (effectiveness, risk mitigation) and narrows
	// efficiency; complexity grows with action count and dependencies.
	coverage := float64(len(actions)) / float64(len(sel.Playbook.RequiredActions)+1)
	effectiveness := clamp01(0.5 + coverage*0.5)
	efficiency := clamp01(1.0 - float64(totalDuration)/(float64(8*time.Hour)))
	riskMitigation := clamp01(effectiveness * (0.6 + 0.4*vector.Overall))
	complexity := clamp01(float64(len(actions)) / 10.0)
	resources := resourceAvailability(actions)

	score := PlanScore{
		Effectiveness:        effectiveness,
		Efficiency:           efficiency,
		RiskMitigation:       riskMitigation,
		Complexity:           complexity,
		ResourceAvailability: resources,
	}
	score.Total = planWeightEffectiveness*effectiveness +
		planWeightEfficiency*efficiency +
		planWeightRisk*riskMitigation +
		planWeightComplexity*(1-complexity) +
		planWeightResources*resources

	plan := DecisionPlan{
		ID:                 "PLAN-" + uuid.NewString(),
		IncidentID:         in.ID,
		Actions:            actions,
		Timeline:           timeline,
		ExpectedOutcome:    fmt.Sprintf("%s containment of %s incident via %s scope", in.Priority, in.Category, scope),
		SuccessProbability: clamp01(0.55 + 0.35*effectiveness),
		CostBenefit: CostBenefit{
			EstimatedCost:   totalCost,
			ExpectedBenefit: totalCost * 3,
			Summary:         fmt.Sprintf("%d actions, estimated cost INR %.0f", len(actions), totalCost),
		},
		EscalationTriggers: escalationTriggers(sel.Playbook, vector),
	}
	if hasRollbackableAction(actions) {
		plan.RollbackPlan = &RollbackPlan{
			Automatic:   true,
			Description: "registered rollback tokens are invoked in reverse completion order on abort",
		}
	}
	return planCandidate{name: scope, plan: plan, score: score, cost: totalCost}
}

// buildActions maps playbook action names to executor actions, threading
// incident entities (card ids, rooms) into parameters. Scope controls how
// much of the playbook runs: minimal keeps only containment-critical
// actions, comprehensive adds a verification sweep.
func buildActions(in *Incident, pb Playbook, scope string) []Action {
	var actions []Action
	var lastContainment string

	for rank, name := range pb.RequiredActions {
		t := actionTypeFor(name)
		if scope == "minimal" && (t == ActionInvestigation || t == ActionDocumentation) {
			continue
		}
		req := pb.ActionRequirements[name]
		a := Action{
			ID:                fmt.Sprintf("%s-%d-%s", in.ID, rank, name),
			Type:              t,
			Params:            actionParams(name, t, in),
			PriorityRank:      rank,
			EstimatedDuration: estimatedDuration(t),
			RollbackPossible:  t == ActionAccessControl || t == ActionPMSUpdate || t == ActionLockdown,
			FailurePolicy:     DefaultFailurePolicy(t),
			SuccessCriteria:   []string{fmt.Sprintf("%s acknowledged by destination system", name)},
		}
		if req.Timeout > 0 {
			a.EstimatedDuration = minDuration(a.EstimatedDuration, req.Timeout)
		}
		// Notifications and documentation wait for containment to land.
		if (t == ActionNotification || t == ActionDocumentation || t == ActionComplianceReport) && lastContainment != "" {
			a.DependsOn = []string{lastContainment}
		}
		if t == ActionAccessControl || t == ActionLockdown || t == ActionPMSUpdate {
			lastContainment = a.ID
		}
		actions = append(actions, a)
	}

	if scope == "comprehensive" {
		verify := Action{
			ID:                fmt.Sprintf("%s-%d-%s", in.ID, len(pb.RequiredActions), "verify_containment"),
			Type:              ActionInvestigation,
			Params:            map[string]interface{}{"task": "verify containment effectiveness"},
			PriorityRank:      len(pb.RequiredActions),
			EstimatedDuration: 30 * time.Minute,
			FailurePolicy:     FailureProceed,
		}
		if lastContainment != "" {
			verify.DependsOn = []string{lastContainment}
		}
		actions = append(actions, verify)
	}
	return actions
}

// actionTypeFor maps a playbook action name to the destination system.
func actionTypeFor(name string) ActionType {
	switch {
	case strings.HasPrefix(name, "revoke") || strings.Contains(name, "access"):
		return ActionAccessControl
	case strings.HasPrefix(name, "lockdown"):
		return ActionLockdown
	case strings.Contains(name, "room_status") || strings.HasPrefix(name, "update_room"):
		return ActionPMSUpdate
	case strings.HasPrefix(name, "notify") || name == StepExecutiveNotification:
		return ActionNotification
	case strings.HasPrefix(name, "investigate"):
		return ActionInvestigation
	case strings.Contains(name, "compliance") || strings.HasPrefix(name, "file_"):
		return ActionComplianceReport
	case strings.HasPrefix(name, "document"):
		return ActionDocumentation
	case strings.HasPrefix(name, "contain") || strings.HasPrefix(name, "flag"):
		return ActionAccessControl
	default:
		return ActionDocumentation
	}
}

// actionParams threads incident context into the action's parameter map.
func actionParams(name string, t ActionType, in *Incident) map[string]interface{} {
	params := map[string]interface{}{"action": name, "incident_id": in.ID}
	switch t {
	case ActionAccessControl:
		if card := firstCardID(in); card != "" {
			params["card_id"] = card
		}
		params["reason"] = in.Title
	case ActionPMSUpdate:
		if in.Metadata.RoomNumber != "" {
			params["room"] = in.Metadata.RoomNumber
			params["status"] = "security_hold"
			params["reason"] = in.Title
		}
	case ActionLockdown:
		params["area"] = in.Metadata.Location
		params["duration_minutes"] = 60
	case ActionNotification:
		params["subject"] = fmt.Sprintf("[%s] %s", strings.ToUpper(string(in.Priority)), in.Title)
		params["channel"] = "messaging"
		if name == StepExecutiveNotification {
			params["channel"] = "phone"
			params["audience"] = "executive"
		}
	case ActionComplianceReport:
		params["category"] = string(in.Category)
	}
	return params
}

// firstCardID extracts a keycard identifier recorded by the classifier, or
// scans the description directly.
func firstCardID(in *Incident) string {
	if tr, ok := in.ToolResults[ToolClassification]; ok && tr.Classification != nil {
		for _, e := range tr.Classification.Entities {
			if strings.HasPrefix(e, "KC") {
				return e
			}
		}
	}
	return cardIDPattern.FindString(in.Description)
}

func estimatedDuration(t ActionType) time.Duration {
	switch t {
	case ActionAccessControl, ActionLockdown:
		return 5 * time.Minute
	case ActionPMSUpdate:
		return 5 * time.Minute
	case ActionNotification:
		return 2 * time.Minute
	case ActionInvestigation:
		return time.Hour
	case ActionComplianceReport:
		return 30 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// actionCost is the rough INR operating cost per action type used in
// cost/benefit summaries.
func actionCost(t ActionType) float64 {
	switch t {
	case ActionInvestigation:
		return 5000
	case ActionComplianceReport:
		return 8000
	case ActionLockdown:
		return 10000
	default:
		return 1500
	}
}

func escalationTriggers(pb Playbook, vector *RiskVector) []string {
	var out []string
	for name, desc := range pb.EscalationCriteria {
		out = append(out, fmt.Sprintf("%s: %s", name, desc))
	}
	sort.Strings(out)
	if vector.Escalation > 0.7 {
		out = append(out, "escalation risk above 0.7: page duty manager on any action failure")
	}
	return out
}

func hasRollbackableAction(actions []Action) bool {
	for _, a := range actions {
		if a.RollbackPossible {
			return true
		}
	}
	return false
}

func resourceAvailability(actions []Action) float64 {
	// External-system actions contend for per-system concurrency slots.
	external := 0
	for _, a := range actions {
		if a.System() != "internal" {
			external++
		}
	}
	return clamp01(1.0 - float64(external)/12.0)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
