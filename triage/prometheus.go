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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promIncidentsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_incidents_submitted_total",
			Help: "Total number of incidents accepted into the workflow queue",
		},
		[]string{"channel"},
	)
	promIncidentsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_incidents_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		},
	)
	promIncidentsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_incidents_completed_total",
			Help: "Total number of workflows reaching a terminal status",
		},
		[]string{"category", "status"},
	)
	promNodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_node_duration_milliseconds",
			Help:    "Workflow node execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		},
		[]string{"node"},
	)
	promToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_tool_calls_total",
			Help: "Total number of analysis tool invocations",
		},
		[]string{"tool", "outcome"},
	)
	promActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_actions_executed_total",
			Help: "Total number of response actions by terminal status",
		},
		[]string{"system", "status"},
	)
	promRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_rollbacks_total",
			Help: "Total number of rollback invocations",
		},
	)
	promApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_approvals_pending",
			Help: "Number of interventions currently waiting on a human",
		},
	)
	promQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_queue_depth",
			Help: "Number of incidents waiting for a workflow worker",
		},
	)
	promCheckpoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_checkpoints_written_total",
			Help: "Total number of checkpoints written",
		},
	)
	promGateVetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_gate_vetoes_total",
			Help: "Total number of workflow runs stopped by a gate",
		},
		[]string{"gate"},
	)
)

func init() {
	prometheus.MustRegister(promIncidentsSubmitted)
	prometheus.MustRegister(promIncidentsRejected)
	prometheus.MustRegister(promIncidentsCompleted)
	prometheus.MustRegister(promNodeDuration)
	prometheus.MustRegister(promToolCalls)
	prometheus.MustRegister(promActionsExecuted)
	prometheus.MustRegister(promRollbacks)
	prometheus.MustRegister(promApprovalsPending)
	prometheus.MustRegister(promQueueDepth)
	prometheus.MustRegister(promCheckpoints)
	prometheus.MustRegister(promGateVetoes)
}
