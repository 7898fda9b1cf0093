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
	"encoding/json"
	"time"
)

// =============================================================================
// Incident Enumerations
// =============================================================================

// Category classifies what kind of security event an incident is.
type Category string

const (
	CategoryGuestAccess         Category = "guest-access"
	CategoryPaymentFraud        Category = "payment-fraud"
	CategoryPIIBreach           Category = "pii-breach"
	CategoryOperationalSecurity Category = "operational-security"
	CategoryVendorAccess        Category = "vendor-access"
	CategoryPhysicalSecurity    Category = "physical-security"
	CategoryCyberSecurity       Category = "cyber-security"
	CategoryComplianceViolation Category = "compliance-violation"
)

// AllCategories lists every valid category in a stable order.
var AllCategories = []Category{
	CategoryGuestAccess,
	CategoryPaymentFraud,
	CategoryPIIBreach,
	CategoryOperationalSecurity,
	CategoryVendorAccess,
	CategoryPhysicalSecurity,
	CategoryCyberSecurity,
	CategoryComplianceViolation,
}

// IsValid returns true if the Category is a known value.
func (c Category) IsValid() bool {
	for _, v := range AllCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// Priority is the urgency band assigned to an incident.
type Priority string

const (
	PriorityCritical      Priority = "critical"
	PriorityHigh          Priority = "high"
	PriorityMedium        Priority = "medium"
	PriorityLow           Priority = "low"
	PriorityInformational Priority = "informational"
)

// IsValid returns true if the Priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityInformational:
		return true
	default:
		return false
	}
}

func (p Priority) String() string { return string(p) }

// PriorityFromRiskScore maps a composite risk score in [0,10] to the fixed
// priority banding. Gate signals may override the banded value; the override
// is recorded on the incident.
func PriorityFromRiskScore(score float64) Priority {
	switch {
	case score >= 8.0:
		return PriorityCritical
	case score >= 6.0:
		return PriorityHigh
	case score >= 4.0:
		return PriorityMedium
	case score >= 2.0:
		return PriorityLow
	default:
		return PriorityInformational
	}
}

// SLAForPriority returns the maximum total processing time promised for a
// priority band. Used for routing urgency and the timeliness score.
func SLAForPriority(p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		return 15 * time.Minute
	case PriorityHigh:
		return time.Hour
	case PriorityMedium:
		return 4 * time.Hour
	case PriorityLow:
		return 24 * time.Hour
	default:
		return 72 * time.Hour
	}
}

// Status is the incident lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// IsTerminal reports whether no further workflow activity is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// =============================================================================
// Risk, Metadata, Response Plan
// =============================================================================

// RiskAssessment is the composite risk picture attached by the assess-risk
// node. Score and Likelihood are in [0,10]; Confidence in [0,1].
type RiskAssessment struct {
	Score             float64  `json:"score"`
	Likelihood        float64  `json:"likelihood"`
	Confidence        float64  `json:"confidence"`
	RiskFactors       []string `json:"risk_factors,omitempty"`
	MitigationUrgency string   `json:"mitigation_urgency,omitempty"`
}

// IncidentMetadata carries submission context. Extra holds reporter-supplied
// keys that have no first-class field.
type IncidentMetadata struct {
	Location          string                 `json:"location,omitempty"`
	PropertyCode      string                 `json:"property_code,omitempty"`
	RoomNumber        string                 `json:"room_number,omitempty"`
	AffectedSystems   []string               `json:"affected_systems,omitempty"`
	AffectedGuests    int                    `json:"affected_guests,omitempty"`
	AffectedEmployees int                    `json:"affected_employees,omitempty"`
	BusinessImpact    string                 `json:"business_impact,omitempty"`
	EstimatedCost     float64                `json:"estimated_cost,omitempty"`
	ReportingChannel  string                 `json:"reporting_channel,omitempty"`
	ReportedBy        string                 `json:"reported_by,omitempty"`
	GuestNationality  string                 `json:"guest_nationality,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResponsePlan is the generated response to an incident.
type ResponsePlan struct {
	ImmediateActions      []string `json:"immediate_actions"`
	InvestigationSteps    []string `json:"investigation_steps,omitempty"`
	ContainmentMeasures   []string `json:"containment_measures,omitempty"`
	Notifications         []string `json:"notifications,omitempty"`
	DocumentationRequired []string `json:"documentation_required,omitempty"`
	FollowUpActions       []string `json:"follow_up_actions,omitempty"`
}

// =============================================================================
// Tool Results
// =============================================================================

// ToolResultKind tags which variant a ToolResult carries.
type ToolResultKind string

const (
	ToolResultClassification ToolResultKind = "classification"
	ToolResultPrioritization ToolResultKind = "prioritization"
	ToolResultResponsePlan   ToolResultKind = "response_plan"
	ToolResultSafety         ToolResultKind = "safety"
	ToolResultCompliance     ToolResultKind = "compliance"
	ToolResultUnparseable    ToolResultKind = "unparseable"
)

// ToolResult records one adapter invocation on the incident. Exactly one of
// the variant pointers matching Kind is set on success; tool errors are
// captured here (never thrown across the node boundary) with ErrorKind and
// Error populated.
type ToolResult struct {
	Tool       string         `json:"tool"`
	Kind       ToolResultKind `json:"kind"`
	Success    bool           `json:"success"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration"`
	Confidence float64        `json:"confidence,omitempty"`

	Classification *ClassificationResult `json:"classification,omitempty"`
	Prioritization *PrioritizationResult `json:"prioritization,omitempty"`
	Response       *ResponsePlan         `json:"response,omitempty"`
	Safety         *SafetyCheck          `json:"safety,omitempty"`
	Compliance     *ComplianceCheck      `json:"compliance,omitempty"`

	// Raw preserves unparseable model output for forensics.
	Raw string `json:"raw,omitempty"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ClassificationResult is the classify tool's output.
type ClassificationResult struct {
	Category           Category   `json:"category"`
	Confidence         float64    `json:"confidence"`
	Reasoning          string     `json:"reasoning,omitempty"`
	Alternatives       []Category `json:"alternatives,omitempty"`
	Entities           []string   `json:"entities,omitempty"`
	SeverityIndicators []string   `json:"severity_indicators,omitempty"`
}

// PrioritizationResult is the prioritize tool's output.
type PrioritizationResult struct {
	Priority       Priority       `json:"priority"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Risk           RiskAssessment `json:"risk"`
	RecommendedSLA time.Duration  `json:"recommended_sla"`
	Stakeholders   []string       `json:"stakeholders,omitempty"`
}

// =============================================================================
// Safety & Compliance
// =============================================================================

// ViolationSeverity grades a single safety violation.
type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "low"
	SeverityMedium   ViolationSeverity = "medium"
	SeverityHigh     ViolationSeverity = "high"
	SeverityCritical ViolationSeverity = "critical"
)

// SafetyViolation is one detected content problem (PII match, threat
// keyword, hospitality-specific issue).
type SafetyViolation struct {
	Type       string            `json:"type"`
	Severity   ViolationSeverity `json:"severity"`
	Match      string            `json:"match"`
	Position   int               `json:"position"`
	Confidence float64           `json:"confidence"`
}

// SafetyCheck is the safety tool's verdict over incident content.
// Passed is false iff any critical violation was found.
type SafetyCheck struct {
	Passed              bool              `json:"passed"`
	OverallRiskLevel    ViolationSeverity `json:"overall_risk_level"`
	Violations          []SafetyViolation `json:"violations,omitempty"`
	ContentFlags        []string          `json:"content_flags,omitempty"`
	RequiresHumanReview bool              `json:"requires_human_review"`
	SanitizedContent    string            `json:"sanitized_content,omitempty"`
	Recommendations     []string          `json:"recommendations,omitempty"`
}

// Framework names a regulatory regime the compliance tool evaluates.
type Framework string

const (
	FrameworkDPDP   Framework = "DPDP"
	FrameworkGDPR   Framework = "GDPR"
	FrameworkPCIDSS Framework = "PCI DSS"
)

// ComplianceAction is a required step under a framework with its deadline.
type ComplianceAction struct {
	Action   string        `json:"action"`
	Deadline time.Duration `json:"deadline"`
}

// FrameworkResult is the per-framework outcome.
type FrameworkResult struct {
	Framework       Framework          `json:"framework"`
	Passed          bool               `json:"passed"`
	RequiredActions []ComplianceAction `json:"required_actions,omitempty"`
	Violations      []string           `json:"violations,omitempty"`
}

// ComplianceCheck is the compliance tool's verdict.
type ComplianceCheck struct {
	Frameworks            []Framework              `json:"frameworks"`
	Results               []FrameworkResult        `json:"results"`
	NotificationDeadlines map[string]time.Duration `json:"notification_deadlines,omitempty"`
	LegalReviewRequired   bool                     `json:"legal_review_required"`
	DocumentationRequired []string                 `json:"documentation_required,omitempty"`
	Passed                bool                     `json:"passed"`
}

// =============================================================================
// Playbooks & Actions
// =============================================================================

// ActionRequirement is the per-action policy block inside a playbook.
// Carries yaml tags as well: the catalog can be overridden by a YAML file.
type ActionRequirement struct {
	RequiresHumanApproval   bool          `json:"requires_human_approval" yaml:"requires_human_approval"`
	RequiresComplianceCheck bool          `json:"requires_compliance_check" yaml:"requires_compliance_check"`
	RequiresLegalReview     bool          `json:"requires_legal_review" yaml:"requires_legal_review"`
	Timeout                 time.Duration `json:"timeout" yaml:"timeout"`
}

// Playbook is an immutable catalog entry binding required actions and
// per-action policy to one or more incident categories.
type Playbook struct {
	ID                   string                       `json:"id" yaml:"id"`
	Name                 string                       `json:"name" yaml:"name"`
	ApplicableCategories []Category                   `json:"applicable_categories" yaml:"applicable_categories"`
	RequiredActions      []string                     `json:"required_actions" yaml:"required_actions"`
	ActionRequirements   map[string]ActionRequirement `json:"action_requirements" yaml:"action_requirements"`
	EscalationCriteria   map[string]string            `json:"escalation_criteria,omitempty" yaml:"escalation_criteria,omitempty"`
	ComplianceFrameworks []Framework                  `json:"compliance_frameworks,omitempty" yaml:"compliance_frameworks,omitempty"`
}

// AppliesTo reports whether the playbook covers the category.
func (p Playbook) AppliesTo(c Category) bool {
	for _, ac := range p.ApplicableCategories {
		if ac == c {
			return true
		}
	}
	return false
}

// ActionType identifies which destination system executes an action.
type ActionType string

const (
	ActionAccessControl    ActionType = "access-control"
	ActionPMSUpdate        ActionType = "pms-update"
	ActionNotification     ActionType = "notification"
	ActionDocumentation    ActionType = "documentation"
	ActionInvestigation    ActionType = "investigation"
	ActionComplianceReport ActionType = "compliance-report"
	ActionLockdown         ActionType = "lockdown"
)

// FailurePolicy controls what happens to an action's dependents when it
// fails.
type FailurePolicy string

const (
	// FailureBlock cancels dependents (recursively, recorded as skipped).
	FailureBlock FailurePolicy = "block"
	// FailureProceed lets dependents run despite the failure.
	FailureProceed FailurePolicy = "proceed"
	// FailureEscalate halts the plan and re-enters the human approval gate.
	FailureEscalate FailurePolicy = "escalate"
)

// DefaultFailurePolicy returns the policy an action type carries unless the
// playbook overrides it.
func DefaultFailurePolicy(t ActionType) FailurePolicy {
	switch t {
	case ActionAccessControl, ActionLockdown:
		return FailureBlock
	case ActionNotification:
		return FailureProceed
	case ActionComplianceReport:
		return FailureEscalate
	default:
		return FailureProceed
	}
}

// Action is one unit of work the executor runs.
type Action struct {
	ID                string                 `json:"id"`
	Type              ActionType             `json:"type"`
	Params            map[string]interface{} `json:"params,omitempty"`
	PriorityRank      int                    `json:"priority_rank"`
	EstimatedDuration time.Duration          `json:"estimated_duration"`
	DependsOn         []string               `json:"depends_on,omitempty"`
	RollbackPossible  bool                   `json:"rollback_possible"`
	SuccessCriteria   []string               `json:"success_criteria,omitempty"`
	FailureConditions []string               `json:"failure_conditions,omitempty"`
	FailurePolicy     FailurePolicy          `json:"failure_policy"`
}

// System returns the destination-system key used for executor concurrency
// caps. Actions that never leave the engine share the internal pool.
func (a Action) System() string {
	switch a.Type {
	case ActionAccessControl, ActionLockdown:
		return "access-control"
	case ActionPMSUpdate:
		return "pms"
	case ActionNotification:
		return "notifications"
	default:
		return "internal"
	}
}

// =============================================================================
// Decision Plan
// =============================================================================

// CostBenefit summarizes a plan's economics in INR.
type CostBenefit struct {
	EstimatedCost   float64 `json:"estimated_cost"`
	ExpectedBenefit float64 `json:"expected_benefit"`
	Summary         string  `json:"summary,omitempty"`
}

// PlanScore carries the weighted scoring that selected a plan.
type PlanScore struct {
	Effectiveness        float64 `json:"effectiveness"`
	Efficiency           float64 `json:"efficiency"`
	RiskMitigation       float64 `json:"risk_mitigation"`
	Complexity           float64 `json:"complexity"`
	ResourceAvailability float64 `json:"resource_availability"`
	Total                float64 `json:"total"`
}

// PlanSummary is a considered-but-rejected alternative.
type PlanSummary struct {
	Name        string  `json:"name"`
	ActionCount int     `json:"action_count"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason,omitempty"`
}

// RollbackPlan describes how a plan unwinds on abort.
type RollbackPlan struct {
	Steps       []string `json:"steps,omitempty"`
	Automatic   bool     `json:"automatic"`
	Description string   `json:"description,omitempty"`
}

// DecisionPlan is the action plan chosen by the decision engine.
type DecisionPlan struct {
	ID                 string               `json:"id"`
	IncidentID         string               `json:"incident_id"`
	Actions            []Action             `json:"actions"`
	Timeline           map[string]time.Time `json:"timeline,omitempty"`
	ExpectedOutcome    string               `json:"expected_outcome,omitempty"`
	SuccessProbability float64              `json:"success_probability"`
	CostBenefit        CostBenefit          `json:"cost_benefit"`
	Alternatives       []PlanSummary        `json:"alternatives,omitempty"`
	EscalationTriggers []string             `json:"escalation_triggers,omitempty"`
	RollbackPlan       *RollbackPlan        `json:"rollback_plan,omitempty"`
	Score              PlanScore            `json:"score"`
	Rationale          string               `json:"rationale,omitempty"`
}

// =============================================================================
// Decision Engine Products
// =============================================================================

// BusinessImpact is the scored business exposure of an incident.
// Financial is in INR; the category dimensions are in [0,10] before
// weighting.
type BusinessImpact struct {
	Financial    float64 `json:"financial"`
	Satisfaction float64 `json:"satisfaction"`
	Operational  float64 `json:"operational"`
	Reputation   float64 `json:"reputation"`
	Compliance   float64 `json:"compliance"`
	Scope        float64 `json:"scope"`
	Urgency      float64 `json:"urgency"`
	Total        float64 `json:"total"`
}

// RiskVector is the seven-dimension risk picture in [0,1] per dimension.
// Escalation feeds escalation triggers and is excluded from Overall.
type RiskVector struct {
	GuestSafety     float64 `json:"guest_safety"`
	DataSecurity    float64 `json:"data_security"`
	Financial       float64 `json:"financial"`
	Operational     float64 `json:"operational"`
	LegalCompliance float64 `json:"legal_compliance"`
	Reputation      float64 `json:"reputation"`
	Escalation      float64 `json:"escalation"`

	RequiresLegalReview       bool          `json:"requires_legal_review"`
	RequiresManagementApproval bool         `json:"requires_management_approval"`
	CriticalTimeframe         time.Duration `json:"critical_timeframe,omitempty"`

	Overall float64 `json:"overall"`
}

// AutonomyAssessment is the decision engine's autonomous-vs-escalate call.
type AutonomyAssessment struct {
	CriteriaScores map[string]float64 `json:"criteria_scores"`
	WeightedScore  float64            `json:"weighted_score"`
	Threshold      float64            `json:"threshold"`
	Autonomous     bool               `json:"autonomous"`
	Overrides      []string           `json:"overrides,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
}

// =============================================================================
// Human Intervention
// =============================================================================

// InterventionType identifies why a human was pulled in.
type InterventionType string

const (
	InterventionApproval         InterventionType = "approval"
	InterventionSafetyReview     InterventionType = "safety_review"
	InterventionComplianceReview InterventionType = "compliance_review"
)

// InterventionStatus is the lifecycle of a pending intervention request.
type InterventionStatus string

const (
	InterventionPending   InterventionStatus = "pending"
	InterventionApproved  InterventionStatus = "approved"
	InterventionRejected  InterventionStatus = "rejected"
	InterventionExpired   InterventionStatus = "expired"
	InterventionCancelled InterventionStatus = "cancelled"
)

// HumanIntervention is a pending request for a human decision.
type HumanIntervention struct {
	ID          string                 `json:"id"`
	IncidentID  string                 `json:"incident_id"`
	Type        InterventionType       `json:"type"`
	Reason      string                 `json:"reason"`
	RequestedAt time.Time              `json:"requested_at"`
	RequestedBy string                 `json:"requested_by"`
	Deadline    time.Time              `json:"deadline"`
	Status      InterventionStatus     `json:"status"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// ApprovalRecord is one resolved human decision, append-only.
type ApprovalRecord struct {
	ID               string           `json:"id"`
	InterventionID   string           `json:"intervention_id"`
	InterventionType InterventionType `json:"intervention_type"`
	Approver         string           `json:"approver"`
	Decision         bool             `json:"decision"`
	Notes            string           `json:"notes,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// =============================================================================
// Workflow Bookkeeping
// =============================================================================

// StepRecord marks a completed workflow step.
type StepRecord struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// FailedStep captures a node failure; the engine never silently drops one.
type FailedStep struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// PriorityOverride records a gate overriding the risk-banded priority.
type PriorityOverride struct {
	From   Priority `json:"from"`
	To     Priority `json:"to"`
	Reason string   `json:"reason"`
	Source string   `json:"source"`
}

// QualityScores holds the evaluator's per-dimension scores plus the overall
// grade.
type QualityScores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Timeliness   float64 `json:"timeliness"`
	Safety       float64 `json:"safety"`
	Compliance   float64 `json:"compliance"`
	Efficiency   float64 `json:"efficiency"`
	Quality      float64 `json:"quality"`
	Overall      float64 `json:"overall"`
	Grade        string  `json:"grade"`
}

// =============================================================================
// Incident (root entity)
// =============================================================================

// Incident is the root entity: a single reported security event passing
// through the workflow. The workflow engine exclusively owns the in-flight
// value; the persistent store owns the record at rest.
type Incident struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Status      Status   `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	ClassificationConfidence float64          `json:"classification_confidence"`
	Risk                     RiskAssessment   `json:"risk"`
	Metadata                 IncidentMetadata `json:"metadata"`

	SelectedPlaybook  string        `json:"selected_playbook,omitempty"`
	PlaybookReasoning string        `json:"playbook_reasoning,omitempty"`
	Response          *ResponsePlan `json:"response,omitempty"`

	ToolResults map[string]ToolResult `json:"tool_results,omitempty"`

	PendingApprovals []HumanIntervention `json:"pending_approvals,omitempty"`
	ApprovalHistory  []ApprovalRecord    `json:"approval_history,omitempty"`

	CompletedSteps []StepRecord `json:"completed_steps,omitempty"`
	FailedSteps    []FailedStep `json:"failed_steps,omitempty"`

	QualityScores    *QualityScores    `json:"quality_scores,omitempty"`
	PriorityOverride *PriorityOverride `json:"priority_override,omitempty"`

	RequiresHumanIntervention bool `json:"requires_human_intervention"`
	WorkflowPaused            bool `json:"workflow_paused"`
	SafetyGuardrailsPassed    bool `json:"safety_guardrails_passed"`
}

// HasPendingIntervention reports whether an intervention of the given type
// is waiting on a human.
func (in *Incident) HasPendingIntervention(t InterventionType) bool {
	for _, p := range in.PendingApprovals {
		if p.Type == t && p.Status == InterventionPending {
			return true
		}
	}
	return false
}

// SafetyResult returns the recorded safety gate product, if any.
func (in *Incident) SafetyResult() *SafetyCheck {
	if r, ok := in.ToolResults[ToolSafety]; ok {
		return r.Safety
	}
	return nil
}

// ComplianceResult returns the recorded compliance gate product, if any.
func (in *Incident) ComplianceResult() *ComplianceCheck {
	if r, ok := in.ToolResults[ToolCompliance]; ok {
		return r.Compliance
	}
	return nil
}

// StepCompleted reports whether the named step already completed.
func (in *Incident) StepCompleted(step string) bool {
	for _, s := range in.CompletedSteps {
		if s.Step == step {
			return true
		}
	}
	return false
}

// IncidentState is the single mutable value the workflow threads through
// its nodes: the incident plus the working products of the decision
// pipeline. It serializes whole into every checkpoint.
type IncidentState struct {
	Incident Incident `json:"incident"`

	Impact     *BusinessImpact     `json:"impact,omitempty"`
	RiskVector *RiskVector         `json:"risk_vector,omitempty"`
	Autonomy   *AutonomyAssessment `json:"autonomy,omitempty"`
	Plan       *DecisionPlan       `json:"plan,omitempty"`
	Execution  *ExecutionReport    `json:"execution,omitempty"`

	SimilarIncidents []SimilarIncident `json:"similar_incidents,omitempty"`

	// PlaybookSelection carries the selected playbook with scaled timeouts
	// between select-playbook and generate-response.
	PlaybookSelection *Selection `json:"playbook_selection,omitempty"`

	// CurrentNode is the node to run next on resume.
	CurrentNode string `json:"current_node,omitempty"`

	// CheckpointSeq is the last written checkpoint sequence number,
	// strictly increasing per incident.
	CheckpointSeq int64 `json:"checkpoint_seq,omitempty"`

	// AwaitingInterventionID names the intervention the approval gate is
	// parked on, empty when the gate is not waiting.
	AwaitingInterventionID string `json:"awaiting_intervention_id,omitempty"`

	// LastError carries the failure routed to handle-error.
	LastError *EngineError `json:"last_error,omitempty"`
}

// Clone deep-copies the state through its JSON form. Checkpoint writers use
// it so later node mutations never alias a stored snapshot.
func (s *IncidentState) Clone() (*IncidentState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out IncidentState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Execution Report
// =============================================================================

// ActionStatus is the terminal state of one executed action.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
	ActionCancelled ActionStatus = "cancelled"
)

// ActionResult is the executor's record for one action.
type ActionResult struct {
	ActionID      string                 `json:"action_id"`
	Status        ActionStatus           `json:"status"`
	Attempts      int                    `json:"attempts"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Error         string                 `json:"error,omitempty"`
	ErrorKind     ErrorKind              `json:"error_kind,omitempty"`
	RollbackToken string                 `json:"rollback_token,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
}

// PlanOutcome is the executor's overall verdict for a plan run.
type PlanOutcome string

const (
	OutcomeComplete             PlanOutcome = "complete"
	OutcomeCompleteWithWarnings PlanOutcome = "complete_with_warnings"
	OutcomeEscalate             PlanOutcome = "escalate"
)

// OutcomeForSuccessRate maps automation_success_rate to the plan outcome.
func OutcomeForSuccessRate(rate float64) PlanOutcome {
	switch {
	case rate >= 0.8:
		return OutcomeComplete
	case rate >= 0.5:
		return OutcomeCompleteWithWarnings
	default:
		return OutcomeEscalate
	}
}

// RollbackResult records one best-effort rollback invocation.
type RollbackResult struct {
	ActionID string    `json:"action_id"`
	Token    string    `json:"token"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// ExecutionReport is the completion report for one plan run.
// CompletionOrder lists succeeded action ids in the order they finished;
// rollback walks it in reverse.
type ExecutionReport struct {
	PlanID          string           `json:"plan_id"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Results         []ActionResult   `json:"results"`
	CompletionOrder []string         `json:"completion_order,omitempty"`
	SuccessRate     float64          `json:"success_rate"`
	Outcome         PlanOutcome      `json:"outcome"`
	Rollbacks       []RollbackResult `json:"rollbacks,omitempty"`
}

// ResultFor returns the result for an action id, if present.
func (r *ExecutionReport) ResultFor(actionID string) (ActionResult, bool) {
	for _, res := range r.Results {
		if res.ActionID == actionID {
			return res, true
		}
	}
	return ActionResult{}, false
}

// =============================================================================
// Memory Layer Records
// =============================================================================

// Checkpoint is a persisted snapshot of IncidentState taken after each node
// transition. Sequence is strictly monotonic per incident.
type Checkpoint struct {
	IncidentID string          `json:"incident_id"`
	Step       string          `json:"step"`
	Sequence   int64           `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	State      json.RawMessage `json:"state"`
}

// HistoryRecord is one append-only state-changing event.
type HistoryRecord struct {
	ID         int64           `json:"id,omitempty"`
	IncidentID string          `json:"incident_id"`
	Timestamp  time.Time       `json:"timestamp"`
	ChangeType string          `json:"change_type"`
	Diff       json.RawMessage `json:"diff,omitempty"`
}

// SimilarIncident is a retriever hit with its similarity score in [0,1].
type SimilarIncident struct {
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Category   Category  `json:"category"`
	Priority   Priority  `json:"priority"`
	Similarity float64   `json:"similarity"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
}

// PerformanceSample is one tool/node timing observation fed to the metrics
// collector and persisted for trend analysis.
type PerformanceSample struct {
	Source     string        `json:"source"`
	IncidentID string        `json:"incident_id,omitempty"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Confidence float64       `json:"confidence,omitempty"`
	Quality    float64       `json:"quality,omitempty"`
	At         time.Time     `json:"at"`
}
