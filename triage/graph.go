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
	"context"
	"fmt"
)

// =============================================================================
// Workflow Graph
// =============================================================================

// Workflow step names. These are stable identifiers: they key checkpoints,
// completed/failed step records, and metrics labels.
const (
	StepValidateInput    = "validate-input"
	StepClassify         = "classify"
	StepAssessRisk       = "assess-risk"
	StepSafetyCheck      = "safety-check"
	StepPrioritize       = "prioritize"
	StepSelectPlaybook   = "select-playbook"
	StepComplianceCheck  = "compliance-check"
	StepApprovalGate     = "human-approval-gate"
	StepGenerateResponse = "generate-response"
	StepExecuteActions   = "execute-immediate-actions"
	StepDocument         = "document"
	StepNotify           = "notify"
	StepScheduleFollowup = "schedule-followup"
	StepUpdateMetrics    = "update-metrics"
	StepHandleError      = "handle-error"
)

// Router labels.
const (
	RouteContinue         = "continue"
	RouteReject           = "reject"
	RouteHumanReview      = "human-review"
	RouteApproved         = "approved"
	RouteRequiresApproval = "requires-approval"
	RouteRejected         = "rejected"
	RoutePending          = "pending"
)

// resultKind tags a NodeResult.
type resultKind int

const (
	resultComplete resultKind = iota
	resultTransition
	resultSuspended
	resultFailed
)

// NodeResult is the tagged outcome of one node execution. Exactly one of
// the constructors below builds it; the engine's main loop switches on the
// tag.
type NodeResult struct {
	kind   resultKind
	next   string
	reason string
	err    *EngineError
}

// Complete signals the node finished; the routing table decides what runs
// next.
func Complete() NodeResult { return NodeResult{kind: resultComplete} }

// Transition signals the node finished and explicitly names the next node,
// bypassing the routing table.
func Transition(next string) NodeResult {
	return NodeResult{kind: resultTransition, next: next}
}

// Suspended signals the node is waiting on human input. The engine
// checkpoints, releases the worker, and parks the incident until Resolve.
func Suspended(reason string) NodeResult {
	return NodeResult{kind: resultSuspended, reason: reason}
}

// Failed signals an unrecoverable node failure; the engine records the
// step failure and routes to handle-error.
func Failed(err *EngineError) NodeResult {
	return NodeResult{kind: resultFailed, err: err}
}

// NodeFunc is one workflow node. Nodes mutate the state they are handed;
// the engine serializes node effects per incident, so a node observes every
// prior node's mutations.
type NodeFunc func(ctx context.Context, st *IncidentState) NodeResult

// RouterFunc is a pure routing predicate: it reads recorded state (tool
// results, approvals) and returns a route label. Routers never perform I/O
// and never re-query tools, so replay from a checkpoint routes identically.
type RouterFunc func(st *IncidentState) string

// route is one routing-table entry: either a static edge or a router with a
// label → target map.
type route struct {
	next    string
	router  RouterFunc
	targets map[string]string
}

// Graph is the explicit workflow graph value: named nodes plus a routing
// table. Nodes with no route entry are terminal.
type Graph struct {
	entry  string
	nodes  map[string]NodeFunc
	routes map[string]route
}

// NewGraph builds an empty graph with the given entry node name.
func NewGraph(entry string) *Graph {
	return &Graph{
		entry:  entry,
		nodes:  make(map[string]NodeFunc),
		routes: make(map[string]route),
	}
}

// AddNode registers a node function under a name.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge registers a static edge from → to.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.routes[from] = route{next: to}
	return g
}

// AddRouter registers a conditional edge: after `from` completes, router(st)
// picks a label resolved through targets.
func (g *Graph) AddRouter(from string, router RouterFunc, targets map[string]string) *Graph {
	g.routes[from] = route{router: router, targets: targets}
	return g
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a node function by name.
func (g *Graph) Node(name string) (NodeFunc, bool) {
	fn, ok := g.nodes[name]
	return fn, ok
}

// NextAfter resolves the node that follows `from` given the current state.
// It returns ("", nil) when `from` is terminal. An unknown router label is
// an unsafe-state error: the graph value and its routers have diverged.
func (g *Graph) NextAfter(from string, st *IncidentState) (string, error) {
	r, ok := g.routes[from]
	if !ok {
		return "", nil
	}
	if r.router == nil {
		return r.next, nil
	}
	label := r.router(st)
	target, ok := r.targets[label]
	if !ok {
		return "", Errf(ErrKindUnsafeState, from, "router returned unknown label %q", label)
	}
	return target, nil
}

// Validate checks that every edge and router target references a registered
// node and that the entry exists.
func (g *Graph) Validate() error {
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph entry %q is not a registered node", g.entry)
	}
	for from, r := range g.routes {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("route from unregistered node %q", from)
		}
		if r.router == nil {
			if _, ok := g.nodes[r.next]; !ok {
				return fmt.Errorf("edge %q -> %q targets unregistered node", from, r.next)
			}
			continue
		}
		for label, target := range r.targets {
			if _, ok := g.nodes[target]; !ok {
				return fmt.Errorf("router %q label %q targets unregistered node %q", from, label, target)
			}
		}
	}
	return nil
}

// buildGraph wires the triage workflow: a linear spine with three gates.
// The safety router's human-review label continues the spine with the
// incident flagged for intervention; the flag forces the approval gate
// after compliance, so a reviewed incident still gets prioritized and
// playbook-matched before a human sees it.
func buildGraph(e *Engine) *Graph {
	g := NewGraph(StepValidateInput)

	g.AddNode(StepValidateInput, e.nodeValidateInput)
	g.AddNode(StepClassify, e.nodeClassify)
	g.AddNode(StepAssessRisk, e.nodeAssessRisk)
	g.AddNode(StepSafetyCheck, e.nodeSafetyCheck)
	g.AddNode(StepPrioritize, e.nodePrioritize)
	g.AddNode(StepSelectPlaybook, e.nodeSelectPlaybook)
	g.AddNode(StepComplianceCheck, e.nodeComplianceCheck)
	g.AddNode(StepApprovalGate, e.nodeApprovalGate)
	g.AddNode(StepGenerateResponse, e.nodeGenerateResponse)
	g.AddNode(StepExecuteActions, e.nodeExecuteActions)
	g.AddNode(StepDocument, e.nodeDocument)
	g.AddNode(StepNotify, e.nodeNotify)
	g.AddNode(StepScheduleFollowup, e.nodeScheduleFollowup)
	g.AddNode(StepUpdateMetrics, e.nodeUpdateMetrics)
	g.AddNode(StepHandleError, e.nodeHandleError)

	g.AddEdge(StepValidateInput, StepClassify)
	g.AddEdge(StepClassify, StepAssessRisk)
	g.AddEdge(StepAssessRisk, StepSafetyCheck)

	g.AddRouter(StepSafetyCheck, SafetyRoute, map[string]string{
		RouteContinue:    StepPrioritize,
		RouteHumanReview: StepPrioritize,
		RouteReject:      StepHandleError,
	})

	g.AddEdge(StepPrioritize, StepSelectPlaybook)
	g.AddEdge(StepSelectPlaybook, StepComplianceCheck)

	g.AddRouter(StepComplianceCheck, ComplianceRoute, map[string]string{
		RouteApproved:         StepGenerateResponse,
		RouteRequiresApproval: StepApprovalGate,
		RouteRejected:         StepHandleError,
	})

	g.AddRouter(StepApprovalGate, ApprovalRoute, map[string]string{
		RouteApproved: StepGenerateResponse,
		RoutePending:  StepApprovalGate,
		RouteRejected: StepHandleError,
	})

	g.AddEdge(StepGenerateResponse, StepExecuteActions)
	g.AddEdge(StepExecuteActions, StepDocument)
	g.AddEdge(StepDocument, StepNotify)
	g.AddEdge(StepNotify, StepScheduleFollowup)
	g.AddEdge(StepScheduleFollowup, StepUpdateMetrics)

	return g
}
