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

	"stayguard/platform/shared/types"
)

// testProperty pins the timezone to UTC so the night-hours multiplier
// depends only on the injected clock.
var testProperty = types.PropertyProfile{
	Code: "SG-TEST-001", Name: "Test Property", CountryCode: "IN", TimeZone: "UTC", RoomCount: 100,
}

// daytime is 14:00 UTC, outside the 22:00-06:00 night window.
var daytime = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func testDecisionEngine() *DecisionEngine {
	d := NewDecisionEngine(testProperty, nil)
	d.now = func() time.Time { return daytime }
	return d
}

func TestPriorityFromRiskScore_Banding(t *testing.T) {
	tests := []struct {
		score float64
		want  Priority
	}{
		{10.0, PriorityCritical},
		{8.0, PriorityCritical},
		{7.99, PriorityHigh},
		{6.0, PriorityHigh},
		{5.99, PriorityMedium},
		{4.0, PriorityMedium},
		{3.99, PriorityLow},
		{2.0, PriorityLow},
		{1.99, PriorityInformational},
		{0.0, PriorityInformational},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, PriorityFromRiskScore(tc.score), "score %.2f", tc.score)
	}
}

func TestComputeBusinessImpact_SeverityScaling(t *testing.T) {
	d := testDecisionEngine()

	low := d.ComputeBusinessImpact(&Incident{Category: CategoryGuestAccess, Priority: PriorityLow})
	critical := d.ComputeBusinessImpact(&Incident{Category: CategoryGuestAccess, Priority: PriorityCritical})

	assert.Greater(t, critical.Financial, low.Financial)
	assert.InDelta(t, 25000*0.5, low.Financial, 0.01)
	assert.InDelta(t, 25000*3.5, critical.Financial, 0.01)
}

func TestComputeBusinessImpact_ScopeCapped(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		Category: CategoryPIIBreach,
		Priority: PriorityMedium,
		Metadata: IncidentMetadata{
			AffectedGuests:  1000,
			AffectedSystems: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		},
	}
	impact := d.ComputeBusinessImpact(in)
	assert.Equal(t, 5.0, impact.Scope)
	assert.LessOrEqual(t, impact.Satisfaction, 10.0)
	assert.LessOrEqual(t, impact.Compliance, 10.0)
}

func TestComputeBusinessImpact_NightHours(t *testing.T) {
	d := testDecisionEngine()
	in := &Incident{Category: CategoryPhysicalSecurity, Priority: PriorityMedium}

	day := d.ComputeBusinessImpact(in)

	d.now = func() time.Time { return time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC) }
	night := d.ComputeBusinessImpact(in)

	assert.InDelta(t, day.Urgency*1.2, night.Urgency, 0.001)
	assert.Greater(t, night.Total, day.Total)
}

func TestComputeRiskVector_DriverCategoriesKeepScore(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{Category: CategoryGuestAccess, Priority: PriorityHigh, Risk: RiskAssessment{Score: 8.0}}
	impact := d.ComputeBusinessImpact(in)
	v := d.ComputeRiskVector(in, impact)

	assert.InDelta(t, 0.8, v.GuestSafety, 0.001,
		"driver categories pass the normalized score through unchanged")
	assert.InDelta(t, 0.4, v.DataSecurity, 0.001, "non-driver dimensions halve it")

	in.Category = CategoryPIIBreach
	v = d.ComputeRiskVector(in, d.ComputeBusinessImpact(in))
	assert.InDelta(t, 0.8, v.DataSecurity, 0.001)
	assert.True(t, v.RequiresLegalReview)
}

func TestComputeRiskVector_ManagementApproval(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{Category: CategoryCyberSecurity, Priority: PriorityCritical, Risk: RiskAssessment{Score: 9.2}}
	v := d.ComputeRiskVector(in, d.ComputeBusinessImpact(in))
	assert.True(t, v.RequiresManagementApproval)
	assert.Equal(t, 15*time.Minute, v.CriticalTimeframe)

	in = &Incident{Category: CategoryCyberSecurity, Priority: PriorityHigh, Risk: RiskAssessment{Score: 7.0}}
	v = d.ComputeRiskVector(in, d.ComputeBusinessImpact(in))
	assert.False(t, v.RequiresManagementApproval)
	assert.Equal(t, time.Hour, v.CriticalTimeframe)
}

func TestAssessAutonomy_ConfidenceOverride(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		Category:                 CategoryOperationalSecurity,
		Priority:                 PriorityLow,
		Risk:                     RiskAssessment{Score: 2.0},
		ClassificationConfidence: 0.59,
	}
	impact := d.ComputeBusinessImpact(in)
	vector := d.ComputeRiskVector(in, impact)

	a := d.AssessAutonomy(in, impact, vector)
	assert.False(t, a.Autonomous)
	assert.Contains(t, a.Overrides, "classification_confidence_below_threshold")

	in.ClassificationConfidence = 0.60
	a = d.AssessAutonomy(in, impact, vector)
	assert.NotContains(t, a.Overrides, "classification_confidence_below_threshold")
}

func TestAssessAutonomy_GuestSafetyOverride(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		Category:                 CategoryPhysicalSecurity,
		Priority:                 PriorityHigh,
		Risk:                     RiskAssessment{Score: 8.5},
		ClassificationConfidence: 0.9,
	}
	impact := d.ComputeBusinessImpact(in)
	vector := d.ComputeRiskVector(in, impact)
	require.Greater(t, vector.GuestSafety, 0.8)

	a := d.AssessAutonomy(in, impact, vector)
	assert.False(t, a.Autonomous)
	assert.Contains(t, a.Overrides, "guest_safety_risk_exceeds_threshold")
}

func TestAssessAutonomy_CleanLowRiskIsAutonomous(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		Category:                 CategoryOperationalSecurity,
		Priority:                 PriorityLow,
		Risk:                     RiskAssessment{Score: 2.0},
		ClassificationConfidence: 0.95,
	}
	impact := d.ComputeBusinessImpact(in)
	vector := d.ComputeRiskVector(in, impact)

	a := d.AssessAutonomy(in, impact, vector)
	assert.True(t, a.Autonomous, "reasoning: %s", a.Reasoning)
	assert.Empty(t, a.Overrides)
	assert.GreaterOrEqual(t, a.WeightedScore, a.Threshold)
}

func TestAssessAutonomy_ConfidentSingleRoomKeycardIncident(t *testing.T) {
	d := testDecisionEngine()

	// A cleanly classified high-priority keycard incident confined to one
	// room resolves without a human: no overrides fire and the weighted
	// score clears the guest-access threshold.
	in := &Incident{
		Category:                 CategoryGuestAccess,
		Priority:                 PriorityHigh,
		Risk:                     RiskAssessment{Score: 6.0},
		ClassificationConfidence: 0.9,
		Metadata:                 IncidentMetadata{RoomNumber: "1205"},
	}
	impact := d.ComputeBusinessImpact(in)
	vector := d.ComputeRiskVector(in, impact)

	a := d.AssessAutonomy(in, impact, vector)
	assert.Empty(t, a.Overrides)
	assert.GreaterOrEqual(t, a.WeightedScore, a.Threshold,
		"scores: %v", a.CriteriaScores)
	assert.True(t, a.Autonomous, "reasoning: %s", a.Reasoning)

	// The same incident classified with shaky confidence stays gated.
	in.ClassificationConfidence = 0.65
	a = d.AssessAutonomy(in, impact, vector)
	assert.False(t, a.Autonomous, "reasoning: %s", a.Reasoning)
	assert.Empty(t, a.Overrides, "0.65 sits above the confidence override floor")
}

func TestBuildPlan_SelectsAndRecordsAlternatives(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		ID:       "inc-1",
		Title:    "Keycard cloned",
		Category: CategoryGuestAccess,
		Priority: PriorityHigh,
		Risk:     RiskAssessment{Score: 6.5},
		Metadata: IncidentMetadata{RoomNumber: "412"},
	}
	sel := NewPlaybookCatalog().Select(SelectionInput{
		Category: in.Category, Priority: in.Priority, Risk: in.Risk,
	})
	vector := d.ComputeRiskVector(in, d.ComputeBusinessImpact(in))

	plan := d.BuildPlan(in, sel, vector)
	require.NotEmpty(t, plan.Actions)
	assert.Equal(t, "inc-1", plan.IncidentID)
	assert.Len(t, plan.Alternatives, 2, "two rejected scopes are recorded")
	assert.NotEmpty(t, plan.Rationale)
	assert.NotNil(t, plan.RollbackPlan, "plans with reversible actions carry a rollback plan")

	// Notifications wait for containment.
	var notify *Action
	byID := map[string]Action{}
	for i := range plan.Actions {
		byID[plan.Actions[i].ID] = plan.Actions[i]
		if plan.Actions[i].Type == ActionNotification && notify == nil {
			notify = &plan.Actions[i]
		}
	}
	require.NotNil(t, notify)
	require.NotEmpty(t, notify.DependsOn)
	dep := byID[notify.DependsOn[0]]
	assert.Contains(t, []ActionType{ActionAccessControl, ActionLockdown, ActionPMSUpdate}, dep.Type)

	// PMS actions carry the room from the incident metadata.
	for _, a := range plan.Actions {
		if a.Type == ActionPMSUpdate {
			assert.Equal(t, "412", a.Params["room"])
		}
	}
}

func TestBuildPlan_Deterministic(t *testing.T) {
	d := testDecisionEngine()

	in := &Incident{
		ID:       "inc-1",
		Category: CategoryPaymentFraud,
		Priority: PriorityHigh,
		Risk:     RiskAssessment{Score: 7.0},
	}
	sel := NewPlaybookCatalog().Select(SelectionInput{Category: in.Category, Priority: in.Priority, Risk: in.Risk})
	vector := d.ComputeRiskVector(in, d.ComputeBusinessImpact(in))

	a := d.BuildPlan(in, sel, vector)
	b := d.BuildPlan(in, sel, vector)
	require.Equal(t, len(a.Actions), len(b.Actions))
	for i := range a.Actions {
		assert.Equal(t, a.Actions[i].ID, b.Actions[i].ID)
		assert.Equal(t, a.Actions[i].Type, b.Actions[i].Type)
	}
	assert.Equal(t, a.Score, b.Score)
}
