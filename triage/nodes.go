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
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Workflow Nodes
// =============================================================================
//
// Each node mutates the state it is handed and returns a tagged result. The
// engine serializes node effects per incident and checkpoints after every
// node, so a node may assume every prior node's products are present.

// analysisRequest assembles the uniform tool input from current state.
func analysisRequest(st *IncidentState) AnalysisRequest {
	req := AnalysisRequest{
		Title:       st.Incident.Title,
		Description: st.Incident.Description,
		Category:    st.Incident.Category,
		Priority:    st.Incident.Priority,
		Risk:        st.Incident.Risk,
		Metadata:    st.Incident.Metadata,
	}
	if st.PlaybookSelection != nil {
		req.Playbook = &st.PlaybookSelection.Playbook
	}
	return req
}

// recordAnalysis lands one adapter invocation on the incident.
func recordAnalysis(in *Incident, name string, kind ToolResultKind, res *AnalysisResult, err error, elapsed time.Duration) {
	tr := ToolResult{
		Tool:      name,
		Kind:      kind,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
		Duration:  elapsed,
	}
	if res != nil {
		tr.Classification = res.Classification
		tr.Prioritization = res.Prioritization
		tr.Response = res.Response
		tr.Raw = res.Raw
		if res.FallbackUsed {
			tr.Kind = ToolResultUnparseable
		}
		tr.Confidence = confidenceOf(res)
	}
	if err != nil {
		tr.ErrorKind = KindOf(err)
		tr.Error = err.Error()
	}
	if in.ToolResults == nil {
		in.ToolResults = make(map[string]ToolResult)
	}
	in.ToolResults[name] = tr

	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if res != nil && res.FallbackUsed {
		outcome = "fallback"
	}
	promToolCalls.WithLabelValues(name, outcome).Inc()
}

// asEngineError normalizes any failure into the engine's error value.
func asEngineError(step string, err error) *EngineError {
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return NewEngineError(KindOf(err), step, err.Error(), err)
}

// nodeValidateInput re-checks intake invariants. Submit already validated
// them; a checkpoint replayed from a hostile store must not skip this.
func (e *Engine) nodeValidateInput(ctx context.Context, st *IncidentState) NodeResult {
	if strings.TrimSpace(st.Incident.Title) == "" {
		return Failed(Errf(ErrKindValidation, StepValidateInput, "title is required"))
	}
	if strings.TrimSpace(st.Incident.Description) == "" {
		return Failed(Errf(ErrKindValidation, StepValidateInput, "description is required"))
	}
	st.Incident.Status = StatusActive
	return Complete()
}

// nodeClassify categorizes the incident. Retryable provider failures bubble
// up for the engine's retry policy; parse failures are already absorbed by
// the tool's keyword fallback.
func (e *Engine) nodeClassify(ctx context.Context, st *IncidentState) NodeResult {
	start := time.Now()
	res, err := e.classify.Analyze(ctx, analysisRequest(st))
	if err != nil && KindOf(err).Retryable() {
		return Failed(asEngineError(StepClassify, err))
	}
	recordAnalysis(&st.Incident, ToolClassification, ToolResultClassification, res, err, time.Since(start))

	if res == nil || res.Classification == nil {
		return Failed(Errf(ErrKindUnsafeState, StepClassify, "classifier produced no result"))
	}
	st.Incident.Category = res.Classification.Category
	st.Incident.ClassificationConfidence = res.Classification.Confidence
	return Complete()
}

// nodeAssessRisk produces the composite risk assessment via the
// prioritization adapter. Priority itself is assigned later, after the
// safety gate has had its say.
func (e *Engine) nodeAssessRisk(ctx context.Context, st *IncidentState) NodeResult {
	start := time.Now()
	res, err := e.prioritize.Analyze(ctx, analysisRequest(st))
	if err != nil && KindOf(err).Retryable() {
		return Failed(asEngineError(StepAssessRisk, err))
	}
	recordAnalysis(&st.Incident, ToolPrioritization, ToolResultPrioritization, res, err, time.Since(start))

	if res == nil || res.Prioritization == nil {
		return Failed(Errf(ErrKindUnsafeState, StepAssessRisk, "prioritization produced no result"))
	}
	st.Incident.Risk = res.Prioritization.Risk
	return Complete()
}

// nodeSafetyCheck runs the deterministic content gate over title and
// description. Routing happens in SafetyRoute; this node only records.
func (e *Engine) nodeSafetyCheck(ctx context.Context, st *IncidentState) NodeResult {
	start := time.Now()
	check := e.safety.Check(SafetyInput{
		Content:   st.Incident.Title + "\n" + st.Incident.Description,
		RiskScore: st.Incident.Risk.Score,
		Category:  st.Incident.Category,
	})

	tr := ToolResult{
		Tool:      ToolSafety,
		Kind:      ToolResultSafety,
		Success:   true,
		Timestamp: time.Now().UTC(),
		Duration:  time.Since(start),
		Safety:    check,
	}
	st.Incident.ToolResults[ToolSafety] = tr
	promToolCalls.WithLabelValues(ToolSafety, "success").Inc()

	st.Incident.SafetyGuardrailsPassed = check.Passed
	if check.RequiresHumanReview {
		st.Incident.RequiresHumanIntervention = true
	}
	if !check.Passed {
		// SafetyRoute sends this to handle-error; record the veto here so
		// the error handler has the reason.
		st.LastError = Errf(ErrKindGateVeto, StepSafetyCheck, "safety gate rejected content: %s", check.OverallRiskLevel)
	}
	return Complete()
}

// priorityRank orders priorities for override comparisons.
var priorityRank = map[Priority]int{
	PriorityInformational: 0,
	PriorityLow:           1,
	PriorityMedium:        2,
	PriorityHigh:          3,
	PriorityCritical:      4,
}

// nodePrioritize bands the priority from the risk score, applies gate
// overrides, and computes the decision-engine products that depend on the
// final priority.
func (e *Engine) nodePrioritize(ctx context.Context, st *IncidentState) NodeResult {
	banded := PriorityFromRiskScore(st.Incident.Risk.Score)
	st.Incident.Priority = banded

	// A safety gate pulling a human in floors the priority at high.
	if st.Incident.RequiresHumanIntervention && priorityRank[banded] < priorityRank[PriorityHigh] {
		st.Incident.PriorityOverride = &PriorityOverride{
			From:   banded,
			To:     PriorityHigh,
			Reason: "safety gate requires human review",
			Source: "safety-gate",
		}
		st.Incident.Priority = PriorityHigh
	}

	st.Impact = e.decisions.ComputeBusinessImpact(&st.Incident)
	st.RiskVector = e.decisions.ComputeRiskVector(&st.Incident, st.Impact)
	st.Autonomy = e.decisions.AssessAutonomy(&st.Incident, st.Impact, st.RiskVector)

	similar, err := e.retriever.FindSimilar(ctx, &st.Incident, 0)
	if err != nil {
		// Similarity context is advisory; its loss never stops triage.
		e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
			"Similar-incident lookup failed", map[string]interface{}{"error": err.Error()})
	} else {
		st.SimilarIncidents = similar
	}
	return Complete()
}

// nodeSelectPlaybook picks the response playbook for the category.
func (e *Engine) nodeSelectPlaybook(ctx context.Context, st *IncidentState) NodeResult {
	sel := e.catalog.Select(SelectionInput{
		Category: st.Incident.Category,
		Priority: st.Incident.Priority,
		Risk:     st.Incident.Risk,
	})
	st.PlaybookSelection = &sel
	st.Incident.SelectedPlaybook = sel.Playbook.ID
	st.Incident.PlaybookReasoning = sel.Reasoning
	return Complete()
}

// nodeComplianceCheck evaluates regulatory frameworks and persists each
// framework verdict as a compliance event.
func (e *Engine) nodeComplianceCheck(ctx context.Context, st *IncidentState) NodeResult {
	start := time.Now()
	check := e.compliance.Check(ComplianceInput{
		Category: st.Incident.Category,
		Metadata: st.Incident.Metadata,
		Risk:     st.Incident.Risk,
		Safety:   st.Incident.SafetyResult(),
	})

	tr := ToolResult{
		Tool:       ToolCompliance,
		Kind:       ToolResultCompliance,
		Success:    true,
		Timestamp:  time.Now().UTC(),
		Duration:   time.Since(start),
		Compliance: check,
	}
	st.Incident.ToolResults[ToolCompliance] = tr
	promToolCalls.WithLabelValues(ToolCompliance, "success").Inc()

	now := time.Now().UTC()
	for _, r := range check.Results {
		eventType := "framework_assessed"
		var deadlineAt *time.Time
		if !r.Passed {
			eventType = "framework_breached"
			if len(r.RequiredActions) > 0 {
				d := now.Add(r.RequiredActions[0].Deadline)
				deadlineAt = &d
			}
		}
		ev := ComplianceEvent{
			ID:         uuid.NewString(),
			IncidentID: st.Incident.ID,
			Framework:  r.Framework,
			EventType:  eventType,
			DeadlineAt: deadlineAt,
			CreatedAt:  now,
		}
		if err := e.store.RecordComplianceEvent(ctx, ev); err != nil {
			return Failed(NewEngineError(ErrKindTransientIO, StepComplianceCheck,
				"failed to persist compliance event", err))
		}
	}
	return Complete()
}

// nodeApprovalGate parks the workflow on a human decision. First entry
// creates the intervention and suspends; re-entry after Resolve finds the
// decision and completes so ApprovalRoute can read it. Expiry converts to a
// gate veto.
func (e *Engine) nodeApprovalGate(ctx context.Context, st *IncidentState) NodeResult {
	now := time.Now().UTC()

	if st.AwaitingInterventionID != "" {
		for _, rec := range st.Incident.ApprovalHistory {
			if rec.InterventionID == st.AwaitingInterventionID {
				st.AwaitingInterventionID = ""
				return Complete()
			}
		}
		for i := range st.Incident.PendingApprovals {
			p := &st.Incident.PendingApprovals[i]
			if p.ID != st.AwaitingInterventionID || p.Status != InterventionPending {
				continue
			}
			if now.After(p.Deadline) {
				p.Status = InterventionExpired
				st.AwaitingInterventionID = ""
				if err := e.sessions.RemovePendingApproval(ctx, st.Incident.ID, p.ID); err != nil && err != ErrNotFound {
					e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
						"Failed to clear expired approval", map[string]interface{}{"error": err.Error()})
				}
				promApprovalsPending.Dec()
				return Failed(Errf(ErrKindGateVeto, StepApprovalGate, "approval_timeout"))
			}
			return Suspended("awaiting human decision")
		}
		// Neither resolved nor pending: the intervention vanished.
		st.AwaitingInterventionID = ""
		return Failed(Errf(ErrKindUnsafeState, StepApprovalGate, "awaited intervention is gone"))
	}

	itype, reason := interventionFor(st)
	hi := HumanIntervention{
		ID:          uuid.NewString(),
		IncidentID:  st.Incident.ID,
		Type:        itype,
		Reason:      reason,
		RequestedAt: now,
		RequestedBy: "triage-engine",
		Deadline:    now.Add(e.cfg.ApprovalTimeout),
		Status:      InterventionPending,
	}
	if err := e.sessions.PushPendingApproval(ctx, st.Incident.ID, hi); err != nil {
		return Failed(asEngineError(StepApprovalGate, err))
	}
	st.Incident.PendingApprovals = append(st.Incident.PendingApprovals, hi)
	st.AwaitingInterventionID = hi.ID
	e.history.Record(st.Incident.ID, "approval_requested", hi)
	e.scheduleExpiry(st.Incident.ID, hi.Deadline)
	return Suspended(reason)
}

// interventionFor decides which kind of human decision the gate needs.
func interventionFor(st *IncidentState) (InterventionType, string) {
	if safety := st.Incident.SafetyResult(); safety != nil && safety.RequiresHumanReview {
		return InterventionSafetyReview, "safety gate flagged content for review"
	}
	if compliance := st.Incident.ComplianceResult(); compliance != nil && compliance.LegalReviewRequired {
		return InterventionComplianceReview, "legal review required by compliance assessment"
	}
	if st.Autonomy != nil && !st.Autonomy.Autonomous {
		reason := "autonomy score below category threshold"
		if len(st.Autonomy.Overrides) > 0 {
			reason = "autonomy override: " + strings.Join(st.Autonomy.Overrides, ", ")
		}
		return InterventionApproval, reason
	}
	return InterventionApproval, "response plan requires approval"
}

// scheduleExpiry re-enqueues the incident shortly after the approval
// deadline so the gate can convert an unanswered request into a veto.
func (e *Engine) scheduleExpiry(id string, deadline time.Time) {
	delay := time.Until(deadline) + time.Second
	time.AfterFunc(delay, func() {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		if !e.reserveSlot() {
			e.log.Warn("", id, "Could not re-enqueue expired approval; queue full", nil)
			return
		}
		e.queue <- id
	})
}

// nodeGenerateResponse produces the response plan and the executable
// decision plan behind it.
func (e *Engine) nodeGenerateResponse(ctx context.Context, st *IncidentState) NodeResult {
	if st.PlaybookSelection == nil {
		return Failed(Errf(ErrKindUnsafeState, StepGenerateResponse, "no playbook selected"))
	}

	start := time.Now()
	res, err := e.respond.Analyze(ctx, analysisRequest(st))
	if err != nil && KindOf(err).Retryable() {
		return Failed(asEngineError(StepGenerateResponse, err))
	}
	recordAnalysis(&st.Incident, ToolResponse, ToolResultResponsePlan, res, err, time.Since(start))

	if res == nil || res.Response == nil {
		return Failed(Errf(ErrKindUnsafeState, StepGenerateResponse, "response generation produced no plan"))
	}
	st.Incident.Response = res.Response
	st.Plan = e.decisions.BuildPlan(&st.Incident, *st.PlaybookSelection, st.RiskVector)
	e.history.Record(st.Incident.ID, "plan_built", map[string]interface{}{
		"plan_id": st.Plan.ID, "actions": len(st.Plan.Actions), "rationale": st.Plan.Rationale,
	})
	return Complete()
}

// nodeExecuteActions runs the decision plan. An escalate outcome re-enters
// the approval gate with the partial report recorded.
func (e *Engine) nodeExecuteActions(ctx context.Context, st *IncidentState) NodeResult {
	if st.Plan == nil {
		return Failed(Errf(ErrKindUnsafeState, StepExecuteActions, "no plan to execute"))
	}

	report, err := e.executor.Execute(ctx, st.Plan)
	if err != nil {
		return Failed(asEngineError(StepExecuteActions, err))
	}
	st.Execution = report

	systems := make(map[string]string, len(st.Plan.Actions))
	for _, a := range st.Plan.Actions {
		systems[a.ID] = a.System()
	}
	for _, r := range report.Results {
		e.collector.RecordActionResult(r.Status)
		promActionsExecuted.WithLabelValues(systems[r.ActionID], string(r.Status)).Inc()
	}
	for range report.Rollbacks {
		e.collector.RecordRollback()
		promRollbacks.Inc()
	}
	e.history.Record(st.Incident.ID, "plan_executed", map[string]interface{}{
		"outcome": report.Outcome, "success_rate": report.SuccessRate,
	})

	if report.Outcome == OutcomeEscalate {
		st.Incident.RequiresHumanIntervention = true
		return Transition(StepApprovalGate)
	}
	return Complete()
}

// nodeDocument archives the sanitized terminal record. Archival is
// supplementary to the persistent store, so failures log and continue.
func (e *Engine) nodeDocument(ctx context.Context, st *IncidentState) NodeResult {
	record := st.Incident
	record.Description = e.safety.Sanitize(record.Description)
	record.Title = e.safety.Sanitize(record.Title)

	if e.archiver != nil {
		location, err := e.archiver.Archive(ctx, &record)
		if err != nil {
			e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
				"Archival failed", map[string]interface{}{"error": err.Error()})
		} else {
			e.history.Record(st.Incident.ID, "archived", map[string]string{"location": location})
		}
	}
	e.history.Record(st.Incident.ID, "documented", map[string]interface{}{
		"completed_steps": len(st.Incident.CompletedSteps),
	})
	return Complete()
}

// nodeNotify delivers the resolution notice. Best-effort: stakeholder
// notifications during the response were plan actions; this is the final
// summary.
func (e *Engine) nodeNotify(ctx context.Context, st *IncidentState) NodeResult {
	if e.notifier != nil {
		if err := e.notifier.NotifyResolution(ctx, &st.Incident); err != nil {
			e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
				"Resolution notification failed", map[string]interface{}{"error": err.Error()})
		}
	}
	e.history.Record(st.Incident.ID, "notified", nil)
	return Complete()
}

// nodeScheduleFollowup records compliance deadlines and follow-up actions
// as scheduled work.
func (e *Engine) nodeScheduleFollowup(ctx context.Context, st *IncidentState) NodeResult {
	now := time.Now().UTC()
	if compliance := st.Incident.ComplianceResult(); compliance != nil {
		for name, d := range compliance.NotificationDeadlines {
			e.history.Record(st.Incident.ID, "followup_scheduled", map[string]interface{}{
				"followup": name, "due_at": now.Add(d),
			})
		}
	}
	if st.Incident.Response != nil {
		for _, f := range st.Incident.Response.FollowUpActions {
			e.history.Record(st.Incident.ID, "followup_scheduled", map[string]interface{}{
				"followup": f,
			})
		}
	}
	return Complete()
}

// nodeUpdateMetrics scores the run and resolves the incident. Terminal.
func (e *Engine) nodeUpdateMetrics(ctx context.Context, st *IncidentState) NodeResult {
	eval := e.evaluator.Evaluate(&st.Incident, st)
	st.Incident.QualityScores = &eval.Scores

	now := time.Now().UTC()
	st.Incident.Status = StatusResolved
	st.Incident.ResolvedAt = &now
	e.history.Record(st.Incident.ID, "evaluated", eval)
	e.log.Info(st.Incident.Metadata.PropertyCode, st.Incident.ID,
		"Incident resolved: "+eval.Summary(), map[string]interface{}{
			"grade": eval.Scores.Grade, "overall": eval.Scores.Overall,
		})
	return Complete()
}

// nodeHandleError is the error sink: it cancels anything pending, records
// the failure, and closes the incident. Terminal.
func (e *Engine) nodeHandleError(ctx context.Context, st *IncidentState) NodeResult {
	now := time.Now().UTC()
	for i := range st.Incident.PendingApprovals {
		p := &st.Incident.PendingApprovals[i]
		if p.Status == InterventionPending {
			p.Status = InterventionCancelled
			if err := e.sessions.RemovePendingApproval(ctx, st.Incident.ID, p.ID); err != nil && err != ErrNotFound {
				e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
					"Failed to clear cancelled approval", map[string]interface{}{"error": err.Error()})
			}
			promApprovalsPending.Dec()
		}
	}
	st.AwaitingInterventionID = ""

	// An escalated plan reaching the error sink was refused (or its approval
	// expired) after partial execution; its completed containment actions
	// must not stay in force on a closed incident.
	if st.Plan != nil && st.Execution != nil && st.Execution.Outcome == OutcomeEscalate {
		rbs := e.executor.RollbackExecution(st.Plan, st.Execution)
		st.Execution.Rollbacks = append(st.Execution.Rollbacks, rbs...)
		for range rbs {
			e.collector.RecordRollback()
			promRollbacks.Inc()
		}
		if len(rbs) > 0 {
			e.history.Record(st.Incident.ID, "execution_rolled_back", map[string]interface{}{
				"count": len(rbs),
			})
		}
	}

	st.Incident.Status = StatusClosed
	st.Incident.ResolvedAt = &now
	if st.LastError != nil {
		e.history.Record(st.Incident.ID, "workflow_error", st.LastError)
		e.log.ErrorWithStep(st.Incident.Metadata.PropertyCode, st.Incident.ID,
			"Incident closed by error handler", st.LastError.Step, st.LastError, nil)
	}
	return Complete()
}
