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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookCatalog_SelectByCategory(t *testing.T) {
	c := NewPlaybookCatalog()

	sel := c.Select(SelectionInput{Category: CategoryPaymentFraud, Priority: PriorityMedium})
	assert.Equal(t, "pb-payment-fraud", sel.Playbook.ID)
	assert.False(t, sel.Defaulted)
	assert.NotEmpty(t, sel.Reasoning)
}

func TestPlaybookCatalog_DefaultsToOperationalSecurity(t *testing.T) {
	c := NewPlaybookCatalog()

	sel := c.Select(SelectionInput{Category: Category("unmapped"), Priority: PriorityMedium})
	assert.Equal(t, "pb-operational-security", sel.Playbook.ID)
	assert.True(t, sel.Defaulted)
}

func TestPlaybookCatalog_TimeoutScaling(t *testing.T) {
	c := NewPlaybookCatalog()

	// Critical halves, with a 5 minute floor.
	sel := c.Select(SelectionInput{Category: CategoryGuestAccess, Priority: PriorityCritical})
	assert.Equal(t, 5*time.Minute, sel.Playbook.ActionRequirements["revoke_access"].Timeout,
		"10m halved hits the floor")
	assert.Equal(t, time.Hour, sel.Playbook.ActionRequirements["investigate_access_logs"].Timeout)

	// Low doubles, with an 8 hour cap.
	sel = c.Select(SelectionInput{Category: CategoryGuestAccess, Priority: PriorityLow})
	assert.Equal(t, 20*time.Minute, sel.Playbook.ActionRequirements["revoke_access"].Timeout)
	assert.Equal(t, 8*time.Hour, sel.Playbook.ActionRequirements["document_incident"].Timeout,
		"4h doubled stays at the cap")

	// Medium is untouched.
	sel = c.Select(SelectionInput{Category: CategoryGuestAccess, Priority: PriorityMedium})
	assert.Equal(t, 10*time.Minute, sel.Playbook.ActionRequirements["revoke_access"].Timeout)
}

func TestPlaybookCatalog_HighRiskAppendsExecutiveNotification(t *testing.T) {
	c := NewPlaybookCatalog()

	sel := c.Select(SelectionInput{
		Category: CategoryPIIBreach, Priority: PriorityCritical, Risk: RiskAssessment{Score: 8.0},
	})
	assert.Contains(t, sel.Playbook.RequiredActions, StepExecutiveNotification)
	_, ok := sel.Playbook.ActionRequirements[StepExecutiveNotification]
	assert.True(t, ok, "the appended step carries a requirement block")

	sel = c.Select(SelectionInput{
		Category: CategoryPIIBreach, Priority: PriorityCritical, Risk: RiskAssessment{Score: 7.9},
	})
	assert.NotContains(t, sel.Playbook.RequiredActions, StepExecutiveNotification)
}

func TestPlaybookCatalog_SelectionsDoNotMutateCatalog(t *testing.T) {
	c := NewPlaybookCatalog()

	before := len(c.Playbooks()[0].RequiredActions)
	for i := 0; i < 3; i++ {
		c.Select(SelectionInput{
			Category: c.Playbooks()[0].ApplicableCategories[0],
			Priority: PriorityCritical,
			Risk:     RiskAssessment{Score: 9.0},
		})
	}
	assert.Equal(t, before, len(c.Playbooks()[0].RequiredActions),
		"the catalog entry stays immutable across selections")
}

func TestLoadPlaybookCatalog_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	// Durations are integer nanoseconds on the wire; 1800000000000 is 30m.
	doc := `playbooks:
  - id: pb-custom
    name: Custom Baseline
    applicable_categories: [operational-security, guest-access]
    required_actions: [notify_security_team]
    action_requirements:
      notify_security_team:
        timeout: 1800000000000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadPlaybookCatalog(path)
	require.NoError(t, err)
	pb, ok := c.ByID("pb-custom")
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, pb.ActionRequirements["notify_security_team"].Timeout)
}

func TestLoadPlaybookCatalog_RejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "duplicate ids",
			doc: `playbooks:
  - id: pb-a
    applicable_categories: [operational-security]
  - id: pb-a
    applicable_categories: [guest-access]
`,
		},
		{
			name: "unknown category",
			doc: `playbooks:
  - id: pb-a
    applicable_categories: [made-up]
`,
		},
		{
			name: "missing operational-security default",
			doc: `playbooks:
  - id: pb-a
    applicable_categories: [guest-access]
`,
		},
		{
			name: "action without requirement block",
			doc: `playbooks:
  - id: pb-a
    applicable_categories: [operational-security]
    required_actions: [mystery_action]
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "playbooks.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.doc), 0o600))
			_, err := LoadPlaybookCatalog(path)
			assert.Error(t, err)
		})
	}
}
