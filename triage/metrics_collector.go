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
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates in-process operational metrics: per-tool
// latency and success, per-category incident outcomes, and executor action
// counts. It implements SampleSink so every analyzer invocation lands here.
type MetricsCollector struct {
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics is the collected snapshot.
type Metrics struct {
	ToolMetrics       map[string]*ToolUsageMetrics        `json:"tool_metrics"`
	CategoryMetrics   map[Category]*CategoryOutcomeCounts `json:"category_metrics"`
	ActionMetrics     *ActionCounts                       `json:"action_metrics"`
	EngineMetrics     *EngineCounts                       `json:"engine_metrics"`
	LastResetTime     time.Time                           `json:"last_reset_time"`
	CollectionStarted time.Time                           `json:"collection_started"`
}

// ToolUsageMetrics tracks one analyzer (or deterministic tool) by name.
type ToolUsageMetrics struct {
	TotalCalls    int64         `json:"total_calls"`
	SuccessCount  int64         `json:"success_count"`
	ErrorCount    int64         `json:"error_count"`
	AvgDuration   time.Duration `json:"avg_duration_ms"`
	P50Duration   time.Duration `json:"p50_duration_ms"`
	P95Duration   time.Duration `json:"p95_duration_ms"`
	P99Duration   time.Duration `json:"p99_duration_ms"`
	AvgConfidence float64       `json:"avg_confidence"`

	durations     []time.Duration
	confidenceSum float64
	confidenceN   int64
}

// CategoryOutcomeCounts tracks incident outcomes per category.
type CategoryOutcomeCounts struct {
	IncidentCount   int64   `json:"incident_count"`
	ResolvedCount   int64   `json:"resolved_count"`
	AutonomousCount int64   `json:"autonomous_count"`
	EscalatedCount  int64   `json:"escalated_count"`
	MeanRiskScore   float64 `json:"mean_risk_score"`

	riskSum float64
}

// ActionCounts tracks executor activity.
type ActionCounts struct {
	Launched   int64 `json:"launched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Cancelled  int64 `json:"cancelled"`
	RolledBack int64 `json:"rolled_back"`
}

// EngineCounts tracks workflow-level activity.
type EngineCounts struct {
	Submitted       int64 `json:"submitted"`
	Rejected        int64 `json:"rejected"`
	Completed       int64 `json:"completed"`
	Errored         int64 `json:"errored"`
	Suspended       int64 `json:"suspended"`
	Resumed         int64 `json:"resumed"`
	QueueDepth      int64 `json:"queue_depth"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
	CheckpointCount int64 `json:"checkpoint_count"`
}

func NewMetricsCollector() *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		metrics: &Metrics{
			ToolMetrics:       make(map[string]*ToolUsageMetrics),
			CategoryMetrics:   make(map[Category]*CategoryOutcomeCounts),
			ActionMetrics:     &ActionCounts{},
			EngineMetrics:     &EngineCounts{},
			CollectionStarted: now,
			LastResetTime:     now,
		},
	}
}

// RecordSample satisfies SampleSink.
func (c *MetricsCollector) RecordSample(s PerformanceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tm, ok := c.metrics.ToolMetrics[s.Source]
	if !ok {
		tm = &ToolUsageMetrics{durations: make([]time.Duration, 0, 1000)}
		c.metrics.ToolMetrics[s.Source] = tm
	}
	tm.TotalCalls++
	if s.Success {
		tm.SuccessCount++
	} else {
		tm.ErrorCount++
	}
	tm.durations = append(tm.durations, s.Duration)
	// Keep only the last 1000 samples for percentile calculation.
	if len(tm.durations) > 1000 {
		tm.durations = tm.durations[len(tm.durations)-1000:]
	}
	if s.Confidence > 0 {
		tm.confidenceSum += s.Confidence
		tm.confidenceN++
	}
}

// RecordIncidentOutcome records one terminal incident.
func (c *MetricsCollector) RecordIncidentOutcome(category Category, riskScore float64, resolved, autonomous, escalated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cm, ok := c.metrics.CategoryMetrics[category]
	if !ok {
		cm = &CategoryOutcomeCounts{}
		c.metrics.CategoryMetrics[category] = cm
	}
	cm.IncidentCount++
	cm.riskSum += riskScore
	if resolved {
		cm.ResolvedCount++
	}
	if autonomous {
		cm.AutonomousCount++
	}
	if escalated {
		cm.EscalatedCount++
	}
}

// RecordActionResult records one executed action's terminal status.
func (c *MetricsCollector) RecordActionResult(status ActionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.ActionMetrics.Launched++
	switch status {
	case ActionSucceeded:
		c.metrics.ActionMetrics.Succeeded++
	case ActionFailed:
		c.metrics.ActionMetrics.Failed++
	case ActionSkipped:
		c.metrics.ActionMetrics.Skipped++
	case ActionCancelled:
		c.metrics.ActionMetrics.Cancelled++
	}
}

func (c *MetricsCollector) RecordRollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.ActionMetrics.RolledBack++
}

func (c *MetricsCollector) RecordSubmission(accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accepted {
		c.metrics.EngineMetrics.Submitted++
	} else {
		c.metrics.EngineMetrics.Rejected++
	}
}

func (c *MetricsCollector) RecordWorkflowEnd(errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errored {
		c.metrics.EngineMetrics.Errored++
	} else {
		c.metrics.EngineMetrics.Completed++
	}
}

func (c *MetricsCollector) RecordSuspension() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EngineMetrics.Suspended++
}

func (c *MetricsCollector) RecordResume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EngineMetrics.Resumed++
}

func (c *MetricsCollector) RecordCheckpoint() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EngineMetrics.CheckpointCount++
}

func (c *MetricsCollector) SetQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EngineMetrics.QueueDepth = int64(depth)
}

// GetMetrics returns a deep copy with derived fields (averages,
// percentiles, uptime) computed at read time.
func (c *MetricsCollector) GetMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Metrics{
		ToolMetrics:       make(map[string]*ToolUsageMetrics, len(c.metrics.ToolMetrics)),
		CategoryMetrics:   make(map[Category]*CategoryOutcomeCounts, len(c.metrics.CategoryMetrics)),
		ActionMetrics:     &ActionCounts{},
		EngineMetrics:     &EngineCounts{},
		LastResetTime:     c.metrics.LastResetTime,
		CollectionStarted: c.metrics.CollectionStarted,
	}
	*out.ActionMetrics = *c.metrics.ActionMetrics
	*out.EngineMetrics = *c.metrics.EngineMetrics
	out.EngineMetrics.UptimeSeconds = int64(time.Since(c.metrics.CollectionStarted).Seconds())

	for name, tm := range c.metrics.ToolMetrics {
		cp := &ToolUsageMetrics{
			TotalCalls:   tm.TotalCalls,
			SuccessCount: tm.SuccessCount,
			ErrorCount:   tm.ErrorCount,
		}
		if len(tm.durations) > 0 {
			sorted := make([]time.Duration, len(tm.durations))
			copy(sorted, tm.durations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, d := range sorted {
				total += d
			}
			cp.AvgDuration = total / time.Duration(len(sorted))
			cp.P50Duration = percentileOf(sorted, 50)
			cp.P95Duration = percentileOf(sorted, 95)
			cp.P99Duration = percentileOf(sorted, 99)
		}
		if tm.confidenceN > 0 {
			cp.AvgConfidence = tm.confidenceSum / float64(tm.confidenceN)
		}
		out.ToolMetrics[name] = cp
	}

	for cat, cm := range c.metrics.CategoryMetrics {
		cp := &CategoryOutcomeCounts{
			IncidentCount:   cm.IncidentCount,
			ResolvedCount:   cm.ResolvedCount,
			AutonomousCount: cm.AutonomousCount,
			EscalatedCount:  cm.EscalatedCount,
		}
		if cm.IncidentCount > 0 {
			cp.MeanRiskScore = cm.riskSum / float64(cm.IncidentCount)
		}
		out.CategoryMetrics[cat] = cp
	}
	return out
}

// ResetMetrics clears everything except the collection start time.
func (c *MetricsCollector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = &Metrics{
		ToolMetrics:       make(map[string]*ToolUsageMetrics),
		CategoryMetrics:   make(map[Category]*CategoryOutcomeCounts),
		ActionMetrics:     &ActionCounts{},
		EngineMetrics:     &EngineCounts{},
		CollectionStarted: c.metrics.CollectionStarted,
		LastResetTime:     time.Now(),
	}
}

// percentileOf expects sorted input.
func percentileOf(sorted []time.Duration, percentile int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * percentile) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
