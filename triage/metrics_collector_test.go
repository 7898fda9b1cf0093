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

func TestMetricsCollector_ToolPercentiles(t *testing.T) {
	c := NewMetricsCollector()

	for i := 1; i <= 10; i++ {
		c.RecordSample(PerformanceSample{
			Source:     "classifier",
			Duration:   time.Duration(i) * 10 * time.Millisecond,
			Success:    i != 10,
			Confidence: 0.8,
		})
	}

	m := c.GetMetrics()
	tm, ok := m.ToolMetrics["classifier"]
	require.True(t, ok)
	assert.Equal(t, int64(10), tm.TotalCalls)
	assert.Equal(t, int64(9), tm.SuccessCount)
	assert.Equal(t, int64(1), tm.ErrorCount)
	assert.Equal(t, 55*time.Millisecond, tm.AvgDuration)
	assert.Equal(t, 60*time.Millisecond, tm.P50Duration)
	assert.Equal(t, 100*time.Millisecond, tm.P95Duration)
	assert.Equal(t, 100*time.Millisecond, tm.P99Duration)
	assert.InDelta(t, 0.8, tm.AvgConfidence, 0.001)
}

func TestMetricsCollector_ConfidenceIgnoresZeroSamples(t *testing.T) {
	c := NewMetricsCollector()
	c.RecordSample(PerformanceSample{Source: "safety", Duration: time.Millisecond, Success: true})
	c.RecordSample(PerformanceSample{Source: "safety", Duration: time.Millisecond, Success: true, Confidence: 0.9})

	tm := c.GetMetrics().ToolMetrics["safety"]
	assert.InDelta(t, 0.9, tm.AvgConfidence, 0.001, "zero-confidence samples stay out of the average")
}

func TestMetricsCollector_CategoryOutcomes(t *testing.T) {
	c := NewMetricsCollector()
	c.RecordIncidentOutcome(CategoryGuestAccess, 6.0, true, true, false)
	c.RecordIncidentOutcome(CategoryGuestAccess, 8.0, true, false, true)
	c.RecordIncidentOutcome(CategoryPIIBreach, 4.0, false, false, false)

	m := c.GetMetrics()
	ga := m.CategoryMetrics[CategoryGuestAccess]
	require.NotNil(t, ga)
	assert.Equal(t, int64(2), ga.IncidentCount)
	assert.Equal(t, int64(2), ga.ResolvedCount)
	assert.Equal(t, int64(1), ga.AutonomousCount)
	assert.Equal(t, int64(1), ga.EscalatedCount)
	assert.InDelta(t, 7.0, ga.MeanRiskScore, 0.001)
}

func TestMetricsCollector_ActionAndEngineCounts(t *testing.T) {
	c := NewMetricsCollector()
	c.RecordActionResult(ActionSucceeded)
	c.RecordActionResult(ActionFailed)
	c.RecordActionResult(ActionSkipped)
	c.RecordRollback()
	c.RecordSubmission(true)
	c.RecordSubmission(false)
	c.RecordWorkflowEnd(false)
	c.RecordWorkflowEnd(true)
	c.RecordSuspension()
	c.RecordResume()
	c.RecordCheckpoint()
	c.SetQueueDepth(7)

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.ActionMetrics.Launched)
	assert.Equal(t, int64(1), m.ActionMetrics.Succeeded)
	assert.Equal(t, int64(1), m.ActionMetrics.Failed)
	assert.Equal(t, int64(1), m.ActionMetrics.Skipped)
	assert.Equal(t, int64(1), m.ActionMetrics.RolledBack)
	assert.Equal(t, int64(1), m.EngineMetrics.Submitted)
	assert.Equal(t, int64(1), m.EngineMetrics.Rejected)
	assert.Equal(t, int64(1), m.EngineMetrics.Completed)
	assert.Equal(t, int64(1), m.EngineMetrics.Errored)
	assert.Equal(t, int64(1), m.EngineMetrics.Suspended)
	assert.Equal(t, int64(1), m.EngineMetrics.Resumed)
	assert.Equal(t, int64(1), m.EngineMetrics.CheckpointCount)
	assert.Equal(t, int64(7), m.EngineMetrics.QueueDepth)
}

func TestMetricsCollector_ResetKeepsCollectionStart(t *testing.T) {
	c := NewMetricsCollector()
	started := c.GetMetrics().CollectionStarted

	c.RecordSubmission(true)
	c.ResetMetrics()

	m := c.GetMetrics()
	assert.Equal(t, started, m.CollectionStarted)
	assert.Zero(t, m.EngineMetrics.Submitted)
	assert.Empty(t, m.ToolMetrics)
	assert.False(t, m.LastResetTime.Before(started))
}
