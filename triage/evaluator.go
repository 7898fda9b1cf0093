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
	"time"
)

// =============================================================================
// Quality Evaluator
// =============================================================================

// Dimension weights. They sum to 1.0.
const (
	evalWeightAccuracy     = 0.20
	evalWeightCompleteness = 0.18
	evalWeightTimeliness   = 0.15
	evalWeightSafety       = 0.20
	evalWeightCompliance   = 0.15
	evalWeightEfficiency   = 0.07
	evalWeightQuality      = 0.05
)

// ROI cost model, in INR. Investment is what the run consumed; returns are
// what the run avoided or recovered.
const (
	roiTechCostPerRun     = 120.0
	roiStaffCostPerMinute = 45.0
	roiResponseCostBase   = 800.0
	roiPreventionCost     = 500.0
	roiAutomationBenefit  = 3500.0
	roiReputationBenefit  = 2000.0
	roiComplianceBenefit  = 4000.0
	roiSatisfactionPerGuest = 350.0
)

// roiAvoidanceBase is the per-category loss a contained incident avoids,
// before severity and scope scaling.
var roiAvoidanceBase = map[Category]float64{
	CategoryGuestAccess:         40000,
	CategoryPaymentFraud:        120000,
	CategoryPIIBreach:           200000,
	CategoryCyberSecurity:       150000,
	CategoryComplianceViolation: 80000,
	CategoryOperationalSecurity: 30000,
	CategoryVendorAccess:        45000,
	CategoryPhysicalSecurity:    60000,
}

// ROIAnalysis is the cost/benefit accounting for one run.
type ROIAnalysis struct {
	Investment      float64 `json:"investment"`
	TechCost        float64 `json:"tech_cost"`
	StaffCost       float64 `json:"staff_cost"`
	ResponseCost    float64 `json:"response_cost"`
	PreventionCost  float64 `json:"prevention_cost"`
	Returns         float64 `json:"returns"`
	Avoidance       float64 `json:"avoidance"`
	AutomationGain  float64 `json:"automation_gain"`
	ReputationGain  float64 `json:"reputation_gain"`
	ComplianceGain  float64 `json:"compliance_gain"`
	SatisfactionGain float64 `json:"satisfaction_gain"`
	ROIPercent      float64 `json:"roi_percent"`
}

// Evaluation is the evaluator's full product for one incident.
type Evaluation struct {
	Scores QualityScores `json:"scores"`
	ROI    ROIAnalysis   `json:"roi"`
}

// Evaluator scores a finished run across seven dimensions and computes ROI.
// Stateless; safe for concurrent use.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Evaluate scores the incident's run. It reads only the incident and the
// workflow state products; nothing here reaches external systems.
func (e *Evaluator) Evaluate(in *Incident, st *IncidentState) *Evaluation {
	scores := QualityScores{
		Accuracy:     e.scoreAccuracy(in),
		Completeness: e.scoreCompleteness(in, st),
		Timeliness:   e.scoreTimeliness(in),
		Safety:       e.scoreSafety(st),
		Compliance:   e.scoreCompliance(st),
		Efficiency:   e.scoreEfficiency(in, st),
		Quality:      e.scoreQuality(st),
	}
	scores.Overall = scores.Accuracy*evalWeightAccuracy +
		scores.Completeness*evalWeightCompleteness +
		scores.Timeliness*evalWeightTimeliness +
		scores.Safety*evalWeightSafety +
		scores.Compliance*evalWeightCompliance +
		scores.Efficiency*evalWeightEfficiency +
		scores.Quality*evalWeightQuality
	scores.Grade = gradeFor(scores.Overall)

	return &Evaluation{
		Scores: scores,
		ROI:    e.computeROI(in, st),
	}
}

func gradeFor(overall float64) string {
	switch {
	case overall >= 0.9:
		return "A"
	case overall >= 0.8:
		return "B"
	case overall >= 0.7:
		return "C"
	case overall >= 0.6:
		return "D"
	default:
		return "F"
	}
}

// scoreAccuracy blends classification confidence with risk-assessment
// confidence. Fallback-derived results already carry their reduced
// confidence, so degraded runs score lower without special-casing.
func (e *Evaluator) scoreAccuracy(in *Incident) float64 {
	conf := in.ClassificationConfidence
	if conf == 0 {
		conf = 0.5
	}
	riskConf := in.Risk.Confidence
	if riskConf == 0 {
		riskConf = 0.5
	}
	return clamp01(0.6*conf + 0.4*riskConf)
}

// scoreCompleteness is the fraction of pipeline artifacts produced and of
// planned actions that reached a terminal success.
func (e *Evaluator) scoreCompleteness(in *Incident, st *IncidentState) float64 {
	artifacts := 0.0
	if in.Category != "" {
		artifacts++
	}
	if in.Risk.Score > 0 {
		artifacts++
	}
	if in.SelectedPlaybook != "" {
		artifacts++
	}
	if st.Plan != nil {
		artifacts++
	}
	if st.Execution != nil {
		artifacts++
	}
	artifactScore := artifacts / 5.0

	actionScore := 1.0
	if st.Execution != nil && len(st.Execution.Results) > 0 {
		actionScore = st.Execution.SuccessRate
	}
	return clamp01(0.5*artifactScore + 0.5*actionScore)
}

// scoreTimeliness bands total processing time against the priority SLA.
func (e *Evaluator) scoreTimeliness(in *Incident) float64 {
	end := e.now()
	if in.ResolvedAt != nil {
		end = *in.ResolvedAt
	}
	elapsed := end.Sub(in.CreatedAt)
	sla := SLAForPriority(in.Priority)
	ratio := float64(elapsed) / float64(sla)
	switch {
	case ratio <= 0.5:
		return 1.0
	case ratio <= 1.0:
		return 0.9
	case ratio <= 1.5:
		return 0.7
	case ratio <= 2.0:
		return 0.5
	default:
		return 0.2
	}
}

func (e *Evaluator) scoreSafety(st *IncidentState) float64 {
	safety := st.Incident.SafetyResult()
	if safety == nil {
		return 0.5
	}
	if safety.Passed && len(safety.Violations) == 0 {
		return 1.0
	}
	score := 1.0
	for _, v := range safety.Violations {
		switch v.Severity {
		case SeverityCritical:
			score -= 0.4
		case SeverityHigh:
			score -= 0.15
		default:
			score -= 0.05
		}
	}
	return clamp01(score)
}

func (e *Evaluator) scoreCompliance(st *IncidentState) float64 {
	compliance := st.Incident.ComplianceResult()
	if compliance == nil {
		return 0.5
	}
	score := 1.0
	if !compliance.Passed {
		score -= 0.3
	}
	if compliance.LegalReviewRequired {
		score -= 0.2
	}
	return clamp01(score)
}

// scoreEfficiency blends the automation rate, which drops 0.2 per human
// intervention, with the workflow step success ratio.
func (e *Evaluator) scoreEfficiency(in *Incident, st *IncidentState) float64 {
	interventions := len(in.ApprovalHistory)
	automation := 1.0 - 0.2*float64(interventions)
	if automation < 0 {
		automation = 0
	}

	completed := len(in.CompletedSteps)
	failed := len(in.FailedSteps)
	stepRatio := 1.0
	if completed+failed > 0 {
		stepRatio = float64(completed) / float64(completed+failed)
	}
	return clamp01(0.6*automation + 0.4*stepRatio)
}

// scoreQuality reads the plan-selection score: a well-differentiated
// selected plan reflects a higher-quality response.
func (e *Evaluator) scoreQuality(st *IncidentState) float64 {
	if st.Plan == nil {
		return 0.4
	}
	return clamp01(st.Plan.Score.Total)
}

func (e *Evaluator) computeROI(in *Incident, st *IncidentState) ROIAnalysis {
	roi := ROIAnalysis{TechCost: roiTechCostPerRun, PreventionCost: roiPreventionCost}

	// Staff time: each intervention costs review minutes.
	roi.StaffCost = float64(len(in.ApprovalHistory)) * 15 * roiStaffCostPerMinute

	roi.ResponseCost = roiResponseCostBase
	if st.Plan != nil {
		roi.ResponseCost += st.Plan.CostBenefit.EstimatedCost
	}
	roi.Investment = roi.TechCost + roi.StaffCost + roi.ResponseCost + roi.PreventionCost

	base, ok := roiAvoidanceBase[in.Category]
	if !ok {
		base = roiAvoidanceBase[CategoryOperationalSecurity]
	}
	severity, ok := severityMultipliers[in.Priority]
	if !ok {
		severity = 1.0
	}
	scope := 1.0 + float64(in.Metadata.AffectedGuests)/50.0
	if scope > 5.0 {
		scope = 5.0
	}
	roi.Avoidance = base * severity * scope

	if !in.RequiresHumanIntervention {
		roi.AutomationGain = roiAutomationBenefit
	}
	if safety := in.SafetyResult(); safety != nil && safety.Passed {
		roi.ReputationGain = roiReputationBenefit
	}
	if compliance := in.ComplianceResult(); compliance != nil && compliance.Passed {
		roi.ComplianceGain = roiComplianceBenefit
	}
	roi.SatisfactionGain = float64(in.Metadata.AffectedGuests) * roiSatisfactionPerGuest

	roi.Returns = roi.Avoidance + roi.AutomationGain + roi.ReputationGain +
		roi.ComplianceGain + roi.SatisfactionGain
	if roi.Investment > 0 {
		roi.ROIPercent = (roi.Returns - roi.Investment) / roi.Investment * 100
	}
	return roi
}

// Summary renders a one-line human-readable verdict for logs and reports.
func (ev *Evaluation) Summary() string {
	return fmt.Sprintf("grade %s (overall %.2f, roi %.0f%%)",
		ev.Scores.Grade, ev.Scores.Overall, ev.ROI.ROIPercent)
}
