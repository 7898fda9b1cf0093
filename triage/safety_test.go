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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetyTool_DetectsCreditCard(t *testing.T) {
	tool := NewSafetyTool()

	check := tool.Check(SafetyInput{Content: "Guest disputed charge on card 4111 1111 1111 1111 at the front desk"})
	require.Len(t, check.Violations, 1)
	assert.Equal(t, PIICreditCard, check.Violations[0].Type)
	assert.Equal(t, SeverityHigh, check.Violations[0].Severity)
	assert.True(t, check.Passed, "PII alone is never a critical violation")
}

func TestSafetyTool_RejectsLuhnInvalidNumbers(t *testing.T) {
	tool := NewSafetyTool()

	// Fails the Luhn checksum; must not be reported as a card. The digit
	// grouping still matches the government-id pattern, so the hit shifts
	// there rather than disappearing.
	check := tool.Check(SafetyInput{Content: "reference 4111 1111 1111 1112"})
	for _, v := range check.Violations {
		assert.NotEqual(t, PIICreditCard, v.Type)
	}
}

func TestSafetyTool_Sanitize(t *testing.T) {
	tool := NewSafetyTool()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "credit card keeps first and last four digits",
			in:   "card 4111 1111 1111 1111 declined",
			want: "card 4111 **** **** 1111 declined",
		},
		{
			name: "email keeps first character and domain",
			in:   "reported by john.doe@example.com today",
			want: "reported by j*******@example.com today",
		},
		{
			name: "room reference fully masked",
			in:   "seen near room 1412 last night",
			want: "seen near **** **** last night",
		},
		{
			name: "clean text untouched",
			in:   "lobby camera offline since noon",
			want: "lobby camera offline since noon",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tool.Sanitize(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got, len(tc.in), "sanitization preserves length")
			assert.Equal(t, got, tool.Sanitize(got), "sanitization is idempotent")
		})
	}
}

func TestSafetyTool_ViolenceKeywordIsCritical(t *testing.T) {
	tool := NewSafetyTool()

	check := tool.Check(SafetyInput{Content: "caller claims there is a bomb in the parking garage"})
	assert.False(t, check.Passed)
	assert.Equal(t, SeverityCritical, check.OverallRiskLevel)
	assert.True(t, check.RequiresHumanReview)

	var found bool
	for _, v := range check.Violations {
		if v.Type == ViolationViolence {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSafetyTool_ThreatIndicatorsEscalateTogether(t *testing.T) {
	tool := NewSafetyTool()

	// One weak indicator stays low.
	check := tool.Check(SafetyInput{Content: "guest made a vague threat at checkout"})
	assert.True(t, check.Passed)

	// Three together become critical.
	check = tool.Check(SafetyInput{Content: "threat to attack staff and sabotage the kitchen"})
	assert.False(t, check.Passed)
	for _, v := range check.Violations {
		if v.Type == ViolationThreat {
			assert.Equal(t, SeverityCritical, v.Severity)
		}
	}
}

func TestSafetyTool_HumanReviewTriggers(t *testing.T) {
	tool := NewSafetyTool()

	check := tool.Check(SafetyInput{Content: "routine patrol report", RiskScore: 8.0})
	assert.True(t, check.RequiresHumanReview, "risk score at 8.0 forces review")

	check = tool.Check(SafetyInput{Content: "routine patrol report", RiskScore: 7.9})
	assert.False(t, check.RequiresHumanReview)

	check = tool.Check(SafetyInput{Content: "routine patrol report", Category: CategoryPIIBreach})
	assert.True(t, check.RequiresHumanReview, "pii-breach category forces review")
}

func TestSafetyTool_HospitalityContentFlags(t *testing.T) {
	tool := NewSafetyTool()

	check := tool.Check(SafetyInput{Content: "contractor seen tailgating through the staff door with a vendor badge"})
	assert.Contains(t, check.ContentFlags, "tailgating")
	assert.Contains(t, check.ContentFlags, "vendor badge")
	assert.True(t, check.Passed)
}

func TestSafetyTool_ViolationsOrderedByPosition(t *testing.T) {
	tool := NewSafetyTool()

	check := tool.Check(SafetyInput{Content: "mail a@b.example then room 210 then 10.0.0.7"})
	require.True(t, len(check.Violations) >= 2)
	for i := 1; i < len(check.Violations); i++ {
		assert.LessOrEqual(t, check.Violations[i-1].Position, check.Violations[i].Position)
	}
}

func TestSafetyTool_Deterministic(t *testing.T) {
	tool := NewSafetyTool()
	in := SafetyInput{Content: "guest 9876543210 emailed admin@hotel.example about room 301", RiskScore: 5}

	first := tool.Check(in)
	second := tool.Check(in)
	assert.Equal(t, first, second)
}
