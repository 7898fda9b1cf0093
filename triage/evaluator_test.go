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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeFor(t *testing.T) {
	tests := []struct {
		overall float64
		want    string
	}{
		{0.95, "A"},
		{0.90, "A"},
		{0.89, "B"},
		{0.80, "B"},
		{0.79, "C"},
		{0.70, "C"},
		{0.69, "D"},
		{0.60, "D"},
		{0.59, "F"},
		{0.0, "F"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, gradeFor(tc.overall), "overall %.2f", tc.overall)
	}
}

// cleanRunState builds a fully successful autonomous run.
func cleanRunState() *IncidentState {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	resolved := created.Add(10 * time.Minute)
	st := &IncidentState{
		Incident: Incident{
			ID:                       "inc-eval",
			Category:                 CategoryGuestAccess,
			Priority:                 PriorityHigh,
			Status:                   StatusResolved,
			CreatedAt:                created,
			ResolvedAt:               &resolved,
			ClassificationConfidence: 0.92,
			Risk:                     RiskAssessment{Score: 6.5, Confidence: 0.85},
			SelectedPlaybook:         "pb-guest-access",
			ToolResults: map[string]ToolResult{
				ToolSafety: {Tool: ToolSafety, Kind: ToolResultSafety,
					Safety: &SafetyCheck{Passed: true}},
				ToolCompliance: {Tool: ToolCompliance, Kind: ToolResultCompliance,
					Compliance: &ComplianceCheck{Passed: true}},
			},
			CompletedSteps: []StepRecord{{Step: StepClassify}, {Step: StepAssessRisk}},
		},
		Plan: &DecisionPlan{ID: "p", Score: PlanScore{Total: 0.82}},
		Execution: &ExecutionReport{
			Results:     []ActionResult{{ActionID: "a", Status: ActionSucceeded}},
			SuccessRate: 1.0,
			Outcome:     OutcomeComplete,
		},
	}
	return st
}

func TestEvaluate_CleanAutonomousRunGradesHigh(t *testing.T) {
	ev := NewEvaluator()
	st := cleanRunState()

	got := ev.Evaluate(&st.Incident, st)
	assert.Equal(t, 1.0, got.Scores.Safety)
	assert.Equal(t, 1.0, got.Scores.Compliance)
	assert.Equal(t, 1.0, got.Scores.Timeliness, "10m inside a 1h SLA")
	assert.Equal(t, 1.0, got.Scores.Completeness, "all five artifacts, every action succeeded")
	assert.GreaterOrEqual(t, got.Scores.Overall, 0.9)
	assert.Equal(t, "A", got.Scores.Grade)
}

func TestEvaluate_InterventionsLowerEfficiency(t *testing.T) {
	ev := NewEvaluator()

	clean := cleanRunState()
	base := ev.Evaluate(&clean.Incident, clean)

	gated := cleanRunState()
	gated.Incident.ApprovalHistory = []ApprovalRecord{{Approver: "duty-manager", Decision: true}}
	got := ev.Evaluate(&gated.Incident, gated)

	assert.Less(t, got.Scores.Efficiency, base.Scores.Efficiency)
	assert.InDelta(t, base.Scores.Efficiency-0.12, got.Scores.Efficiency, 0.001,
		"one intervention drops automation by 0.2, weighted 0.6")
}

func TestEvaluate_SafetyViolationsLowerSafetyScore(t *testing.T) {
	ev := NewEvaluator()
	st := cleanRunState()
	st.Incident.ToolResults[ToolSafety] = ToolResult{
		Tool: ToolSafety, Kind: ToolResultSafety,
		Safety: &SafetyCheck{
			Passed: false,
			Violations: []SafetyViolation{
				{Type: ViolationViolence, Severity: SeverityCritical},
				{Type: PIIEmail, Severity: SeverityHigh},
			},
		},
	}

	got := ev.Evaluate(&st.Incident, st)
	assert.InDelta(t, 0.45, got.Scores.Safety, 0.001, "1.0 - 0.4 critical - 0.15 high")
}

func TestEvaluate_MissedSLADropsTimeliness(t *testing.T) {
	ev := NewEvaluator()
	st := cleanRunState()
	late := st.Incident.CreatedAt.Add(3 * time.Hour)
	st.Incident.ResolvedAt = &late

	got := ev.Evaluate(&st.Incident, st)
	assert.Equal(t, 0.2, got.Scores.Timeliness, "3h against a 1h SLA")
}

func TestEvaluate_ROIRewardsAutonomy(t *testing.T) {
	ev := NewEvaluator()

	st := cleanRunState()
	st.Incident.Metadata.AffectedGuests = 20
	got := ev.Evaluate(&st.Incident, st)

	roi := got.ROI
	require.Greater(t, roi.Investment, 0.0)
	assert.Equal(t, roiAutomationBenefit, roi.AutomationGain)
	assert.Equal(t, roiReputationBenefit, roi.ReputationGain)
	assert.Equal(t, roiComplianceBenefit, roi.ComplianceGain)
	assert.InDelta(t, 20*roiSatisfactionPerGuest, roi.SatisfactionGain, 0.001)
	// guest-access base 40000, high severity 2.0, scope 1.4
	assert.InDelta(t, 40000*2.0*1.4, roi.Avoidance, 0.001)
	assert.Greater(t, roi.ROIPercent, 0.0)

	// A human in the loop forfeits the automation benefit and adds staff cost.
	gated := cleanRunState()
	gated.Incident.RequiresHumanIntervention = true
	gated.Incident.ApprovalHistory = []ApprovalRecord{{Approver: "duty-manager", Decision: true}}
	gatedEval := ev.Evaluate(&gated.Incident, gated)
	assert.Zero(t, gatedEval.ROI.AutomationGain)
	assert.InDelta(t, 15*roiStaffCostPerMinute, gatedEval.ROI.StaffCost, 0.001)
}

func TestEvaluationSummary(t *testing.T) {
	ev := NewEvaluator()
	st := cleanRunState()
	got := ev.Evaluate(&st.Incident, st)
	assert.Contains(t, got.Summary(), "grade A")
}
