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
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stayguard/platform/shared/logger"
	"stayguard/platform/triage/llm"
)

// =============================================================================
// Triage Engine
// =============================================================================

// Notifier delivers the resolution notice for a finished incident.
// Implementations are external connectors; the engine treats delivery as
// best-effort.
type Notifier interface {
	NotifyResolution(ctx context.Context, in *Incident) error
}

// Dependencies carries the engine's injected collaborators. Provider,
// Sessions, Store, and Runner are required; the rest default sensibly when
// nil.
type Dependencies struct {
	Provider  llm.Provider
	Sessions  SessionStore
	Store     IncidentStore
	Runner    ActionRunner
	Archiver  Archiver
	Notifier  Notifier
	Collector *MetricsCollector
}

// Engine owns the triage workflow: intake queue, worker pool, the workflow
// graph, and every tool behind it. One Engine serves one property.
type Engine struct {
	cfg *Config
	log *logger.Logger

	graph *Graph

	classify   Analyzer
	prioritize Analyzer
	respond    Analyzer
	safety     *SafetyTool
	compliance *ComplianceTool
	catalog    *PlaybookCatalog
	decisions  *DecisionEngine
	executor   *ActionExecutor
	retriever  *Retriever
	evaluator  *Evaluator

	sessions  SessionStore
	store     IncidentStore
	history   *HistoryWriter
	archiver  Archiver
	notifier  Notifier
	collector *MetricsCollector

	queue chan string
	// slots mirrors queue capacity: every id on the queue holds one slot
	// until a worker dequeues it. Reserving a slot before persisting keeps
	// rejected submissions from leaving records behind.
	slots chan struct{}

	mu       sync.Mutex
	inflight map[string]bool
	waiters  map[string][]chan struct{}
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine wires the full workflow. The playbook catalog comes from
// PLAYBOOK_FILE when set, otherwise the built-in defaults.
func NewEngine(cfg *Config, deps Dependencies) (*Engine, error) {
	catalog := NewPlaybookCatalog()
	if path := getEnv("PLAYBOOK_FILE", ""); path != "" {
		loaded, err := LoadPlaybookCatalog(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	collector := deps.Collector
	if collector == nil {
		collector = NewMetricsCollector()
	}

	e := &Engine{
		cfg:        cfg,
		log:        logger.New("triage-engine"),
		safety:     NewSafetyTool(),
		compliance: NewComplianceTool(cfg.Property),
		catalog:    catalog,
		evaluator:  NewEvaluator(),
		sessions:   deps.Sessions,
		store:      deps.Store,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		collector:  collector,
		queue:      make(chan string, cfg.QueueCapacity),
		slots:      make(chan struct{}, cfg.QueueCapacity),
		inflight:   make(map[string]bool),
		waiters:    make(map[string][]chan struct{}),
		stop:       make(chan struct{}),
	}

	e.classify = NewClassificationTool(deps.Provider, collector, ToolConfig{RatePerMinute: cfg.ClassifyRateLimit})
	e.prioritize = NewPrioritizationTool(deps.Provider, collector, ToolConfig{RatePerMinute: cfg.PrioritizeRateLimit})
	e.respond = NewResponseTool(deps.Provider, collector, ToolConfig{RatePerMinute: cfg.RespondRateLimit})

	e.retriever = NewRetriever(deps.Store)
	e.decisions = NewDecisionEngine(cfg.Property, e.retriever)
	e.executor = NewActionExecutor(deps.Runner, DefaultExecutorConfig())
	e.history = NewHistoryWriter(deps.Store)

	e.graph = buildGraph(e)
	if err := e.graph.Validate(); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.WorkerPoolSize; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e, nil
}

// Submit validates and accepts a new incident. It returns the incident id
// immediately; the workflow runs asynchronously. A full queue fails fast
// with ErrQueueFull.
func (e *Engine) Submit(ctx context.Context, title, description string, metadata IncidentMetadata) (string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return "", Errf(ErrKindValidation, StepValidateInput, "title is required")
	}
	if description == "" {
		return "", Errf(ErrKindValidation, StepValidateInput, "description is required")
	}
	if len(description) > 20000 {
		return "", Errf(ErrKindValidation, StepValidateInput, "description exceeds 20000 characters")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.mu.Unlock()

	// Claim queue capacity before writing anything: a rejected submission
	// must not leave a phantom active incident in the stores.
	if !e.reserveSlot() {
		e.collector.RecordSubmission(false)
		promIncidentsRejected.Inc()
		return "", ErrQueueFull
	}

	now := time.Now().UTC()
	in := Incident{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
		ToolResults: make(map[string]ToolResult),
	}
	if in.Metadata.PropertyCode == "" {
		in.Metadata.PropertyCode = e.cfg.Property.Code
	}

	st := &IncidentState{Incident: in, CurrentNode: e.graph.Entry()}
	if err := e.sessions.Put(ctx, in.ID, st); err != nil {
		e.releaseSlot()
		return "", err
	}
	if err := e.store.SaveIncident(ctx, &in); err != nil {
		e.releaseSlot()
		return "", err
	}

	// Cannot block: the reserved slot guarantees a free queue position.
	e.queue <- in.ID

	e.collector.RecordSubmission(true)
	e.collector.SetQueueDepth(len(e.queue))
	promIncidentsSubmitted.WithLabelValues(orDefault(metadata.ReportingChannel, "api")).Inc()
	promQueueDepth.Set(float64(len(e.queue)))
	e.history.Record(in.ID, "submitted", map[string]string{"title": title})
	e.log.Info(in.Metadata.PropertyCode, in.ID, "Incident submitted", map[string]interface{}{
		"title": title,
	})
	return in.ID, nil
}

// Await blocks until the incident reaches a terminal status, then returns
// the final record. A suspended (human-gated) incident keeps Await blocked
// until resolution arrives.
func (e *Engine) Await(ctx context.Context, incidentID string) (*Incident, error) {
	for {
		// Register before reading status: a finalize landing between the
		// status read and the registration would otherwise never wake this
		// waiter.
		ch := make(chan struct{})
		e.mu.Lock()
		e.waiters[incidentID] = append(e.waiters[incidentID], ch)
		e.mu.Unlock()

		in, err := e.Status(ctx, incidentID)
		if err != nil {
			e.unregisterWaiter(incidentID, ch)
			return nil, err
		}
		if in.Status.IsTerminal() {
			e.unregisterWaiter(incidentID, ch)
			return in, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			e.unregisterWaiter(incidentID, ch)
			return nil, ctx.Err()
		}
	}
}

// Status returns the current snapshot: session store first, persistent
// store for anything the session has already expired.
func (e *Engine) Status(ctx context.Context, incidentID string) (*Incident, error) {
	st, err := e.sessions.Get(ctx, incidentID)
	if err == nil {
		in := st.Incident
		return &in, nil
	}
	return e.store.GetIncident(ctx, incidentID)
}

// Checkpoints returns the incident's retained checkpoint ring.
func (e *Engine) Checkpoints(ctx context.Context, incidentID string) ([]Checkpoint, error) {
	return e.sessions.FindByIncident(ctx, incidentID)
}

// PendingApprovals lists the interventions currently waiting on a human.
func (e *Engine) PendingApprovals(ctx context.Context, incidentID string) ([]HumanIntervention, error) {
	return e.sessions.PendingApprovals(ctx, incidentID)
}

// Search queries the persistent store.
func (e *Engine) Search(ctx context.Context, q SearchQuery) ([]*Incident, error) {
	return e.store.Search(ctx, q)
}

// Analytics aggregates the store's daily rollups for a window.
func (e *Engine) Analytics(ctx context.Context, from, to time.Time) ([]AnalyticsBucket, error) {
	return e.store.Analytics(ctx, from, to)
}

// Patterns exposes the retriever's detected recurring signals.
func (e *Engine) Patterns(ctx context.Context) ([]Pattern, error) {
	return e.retriever.DetectedPatterns(ctx)
}

// Metrics returns the in-process collector snapshot.
func (e *Engine) Metrics() *Metrics {
	return e.collector.GetMetrics()
}

// Resolve records a human decision for a pending intervention and
// re-enqueues the incident, which resumes from its checkpoint into the
// approval gate. Unknown incident → ErrNotFound; no matching pending
// intervention → ErrNotPending.
func (e *Engine) Resolve(ctx context.Context, incidentID string, itype InterventionType, approver string, decision bool, notes string) error {
	st, err := e.sessions.Get(ctx, incidentID)
	if err != nil {
		return err
	}

	idx := -1
	for i, p := range st.Incident.PendingApprovals {
		if p.Type == itype && p.Status == InterventionPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotPending
	}

	now := time.Now().UTC()
	intervention := &st.Incident.PendingApprovals[idx]
	if decision {
		intervention.Status = InterventionApproved
	} else {
		intervention.Status = InterventionRejected
	}

	record := ApprovalRecord{
		ID:               uuid.NewString(),
		InterventionID:   intervention.ID,
		InterventionType: itype,
		Approver:         approver,
		Decision:         decision,
		Notes:            notes,
		Timestamp:        now,
	}
	st.Incident.ApprovalHistory = append(st.Incident.ApprovalHistory, record)
	st.Incident.UpdatedAt = now
	st.Incident.WorkflowPaused = false

	if err := e.sessions.Put(ctx, incidentID, st); err != nil {
		return err
	}
	if err := e.sessions.RemovePendingApproval(ctx, incidentID, intervention.ID); err != nil && err != ErrNotFound {
		e.log.Warn(st.Incident.Metadata.PropertyCode, incidentID,
			"Failed to clear pending approval from session store",
			map[string]interface{}{"error": err.Error()})
	}
	e.history.Record(incidentID, "approval_resolved", record)
	e.collector.RecordResume()
	promApprovalsPending.Dec()

	if !e.reserveSlot() {
		// The resolution is durably recorded; only the resume is lost.
		// Callers retry by resubmitting the same decision, which finds
		// nothing pending and the next sweep re-enqueues.
		return ErrQueueFull
	}
	e.queue <- incidentID
	return nil
}

// Close drains: stops intake, waits for workers to park, flushes the
// history writer. Incidents suspended on approval remain resumable by a
// future engine instance through the session store.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()
	e.history.Close()
}

// =============================================================================
// Worker loop
// =============================================================================

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case id := <-e.queue:
			e.releaseSlot()
			e.collector.SetQueueDepth(len(e.queue))
			promQueueDepth.Set(float64(len(e.queue)))
			if !e.claim(id) {
				// Already on another worker; the owning run will see the
				// updated state.
				continue
			}
			e.run(id)
			e.release(id)
		}
	}
}

// reserveSlot claims one unit of queue capacity without blocking.
func (e *Engine) reserveSlot() bool {
	select {
	case e.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) releaseSlot() {
	select {
	case <-e.slots:
	default:
	}
}

func (e *Engine) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[id] {
		return false
	}
	e.inflight[id] = true
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// notifyWaiters wakes Await callers after a state change worth re-checking.
func (e *Engine) notifyWaiters(id string) {
	e.mu.Lock()
	for _, ch := range e.waiters[id] {
		close(ch)
	}
	delete(e.waiters, id)
	e.mu.Unlock()
}

// unregisterWaiter removes one Await registration. A channel notifyWaiters
// already closed is simply gone from the map.
func (e *Engine) unregisterWaiter(id string, ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.waiters, id)
	} else {
		e.waiters[id] = list
	}
}

// run drives one incident through the graph until it terminates or
// suspends. The worker owns the state exclusively for the duration.
func (e *Engine) run(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WorkflowTimeout)
	defer cancel()

	st, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.log.Error("", id, "Cannot load state for dispatched incident",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if st.Incident.Status.IsTerminal() {
		return
	}

	node := st.CurrentNode
	if node == "" {
		node = e.graph.Entry()
	}

	for {
		fn, ok := e.graph.Node(node)
		if !ok {
			st.LastError = Errf(ErrKindUnsafeState, node, "state names unregistered node %q", node)
			node = StepHandleError
			continue
		}

		result := e.runNode(ctx, node, fn, st)

		switch result.kind {
		case resultSuspended:
			st.Incident.WorkflowPaused = true
			st.CurrentNode = node
			if err := e.persist(ctx, st, node); err != nil {
				e.failRun(ctx, st, node, err)
				return
			}
			e.collector.RecordSuspension()
			promApprovalsPending.Inc()
			e.log.Info(st.Incident.Metadata.PropertyCode, id, "Workflow suspended",
				map[string]interface{}{"node": node, "reason": result.reason})
			e.notifyWaiters(id)
			return

		case resultFailed:
			st.Incident.FailedSteps = append(st.Incident.FailedSteps, FailedStep{
				Step: node, Error: result.err.Error(), Timestamp: time.Now().UTC(),
			})
			st.LastError = result.err
			if result.err.Kind == ErrKindGateVeto {
				promGateVetoes.WithLabelValues(node).Inc()
			}
			e.log.ErrorWithStep(st.Incident.Metadata.PropertyCode, id,
				"Workflow node failed", node, result.err, nil)
			if node == StepHandleError {
				// The error handler itself failed; terminate as closed
				// without routing further.
				e.finalize(ctx, st, true)
				return
			}
			node = StepHandleError
			st.CurrentNode = node
			if err := e.checkpoint(ctx, st, node); err != nil {
				e.failRun(ctx, st, node, err)
				return
			}
			continue

		case resultComplete, resultTransition:
			st.Incident.CompletedSteps = append(st.Incident.CompletedSteps, StepRecord{
				Step: node, Timestamp: time.Now().UTC(),
			})
			st.Incident.UpdatedAt = time.Now().UTC()

			var next string
			if result.kind == resultTransition {
				next = result.next
			} else {
				var rerr error
				next, rerr = e.graph.NextAfter(node, st)
				if rerr != nil {
					st.LastError = NewEngineError(ErrKindUnsafeState, node, "routing failed", rerr)
					next = StepHandleError
				}
			}

			st.CurrentNode = next
			if err := e.checkpoint(ctx, st, node); err != nil {
				e.failRun(ctx, st, node, err)
				return
			}

			if next == "" {
				e.finalize(ctx, st, node == StepHandleError)
				return
			}
			node = next
		}
	}
}

// runNode executes one node with the retry policy: recoverable failures
// (transient_io, timeout) retry up to NodeMaxRetries with exponential
// backoff before routing to handle-error.
func (e *Engine) runNode(ctx context.Context, node string, fn NodeFunc, st *IncidentState) NodeResult {
	backoff := 500 * time.Millisecond
	var result NodeResult
	for attempt := 0; ; attempt++ {
		start := time.Now()
		result = fn(ctx, st)
		promNodeDuration.WithLabelValues(node).Observe(float64(time.Since(start).Milliseconds()))

		if result.kind != resultFailed || !result.err.Retryable() || attempt >= e.cfg.NodeMaxRetries {
			return result
		}
		e.log.Warn(st.Incident.Metadata.PropertyCode, st.Incident.ID,
			"Retrying workflow node", map[string]interface{}{
				"node": node, "attempt": attempt + 1, "error": result.err.Error(),
			})
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Failed(NewEngineError(ErrKindTimeout, node, "workflow deadline expired during retry wait", ctx.Err()))
		}
		backoff *= 2
	}
}

// checkpoint appends a snapshot after a node. Failure to checkpoint is
// fatal for the run: progress the store cannot replay must not continue.
func (e *Engine) checkpoint(ctx context.Context, st *IncidentState, step string) error {
	st.CheckpointSeq++
	snapshot, err := st.Clone()
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, step, "state not serializable for checkpoint", err)
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, step, "checkpoint marshal failed", err)
	}
	cp := Checkpoint{
		IncidentID: st.Incident.ID,
		Step:       step,
		Sequence:   st.CheckpointSeq,
		Timestamp:  time.Now().UTC(),
		State:      raw,
	}
	if err := e.sessions.AppendCheckpoint(ctx, cp); err != nil {
		return NewEngineError(ErrKindUnsafeState, step, "checkpoint write failed", err)
	}
	if err := e.sessions.Put(ctx, st.Incident.ID, st); err != nil {
		return NewEngineError(ErrKindUnsafeState, step, "session write failed", err)
	}
	e.collector.RecordCheckpoint()
	promCheckpoints.Inc()
	return nil
}

// persist checkpoints and saves the incident record without terminating.
func (e *Engine) persist(ctx context.Context, st *IncidentState, step string) error {
	if err := e.checkpoint(ctx, st, step); err != nil {
		return err
	}
	return e.store.SaveIncident(ctx, &st.Incident)
}

// failRun handles an unrecoverable persistence failure: record what we can
// and terminate the workflow as closed with unsafe_state.
func (e *Engine) failRun(ctx context.Context, st *IncidentState, step string, err error) {
	e.log.ErrorWithStep(st.Incident.Metadata.PropertyCode, st.Incident.ID,
		"Workflow terminated: persistence failure", step, err, nil)
	st.LastError = NewEngineError(ErrKindUnsafeState, step, "cannot record progress", err)
	st.Incident.FailedSteps = append(st.Incident.FailedSteps, FailedStep{
		Step: step, Error: st.LastError.Error(), Timestamp: time.Now().UTC(),
	})
	e.finalize(ctx, st, true)
}

// finalize lands the terminal record everywhere and wakes waiters.
func (e *Engine) finalize(ctx context.Context, st *IncidentState, errored bool) {
	now := time.Now().UTC()
	if !st.Incident.Status.IsTerminal() {
		if errored {
			st.Incident.Status = StatusClosed
		} else {
			st.Incident.Status = StatusResolved
		}
	}
	if st.Incident.ResolvedAt == nil {
		st.Incident.ResolvedAt = &now
	}
	st.Incident.UpdatedAt = now
	st.Incident.WorkflowPaused = false
	st.CurrentNode = ""

	if err := e.sessions.Put(ctx, st.Incident.ID, st); err != nil {
		e.log.Error(st.Incident.Metadata.PropertyCode, st.Incident.ID,
			"Failed to write terminal session state", map[string]interface{}{"error": err.Error()})
	}
	if err := e.store.SaveIncident(ctx, &st.Incident); err != nil {
		e.log.Error(st.Incident.Metadata.PropertyCode, st.Incident.ID,
			"Failed to write terminal incident record", map[string]interface{}{"error": err.Error()})
	}

	e.collector.RecordWorkflowEnd(errored)
	e.collector.RecordIncidentOutcome(st.Incident.Category, st.Incident.Risk.Score,
		st.Incident.Status == StatusResolved,
		!st.Incident.RequiresHumanIntervention,
		errored)
	promIncidentsCompleted.WithLabelValues(string(st.Incident.Category), string(st.Incident.Status)).Inc()
	e.history.Record(st.Incident.ID, "terminal", map[string]interface{}{
		"status": st.Incident.Status, "errored": errored,
	})
	e.notifyWaiters(st.Incident.ID)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
