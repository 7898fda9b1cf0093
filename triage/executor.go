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
	"log"
	"time"

	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Action Executor
// =============================================================================

// ActionOutput is what a runner returns for a successful action.
type ActionOutput struct {
	Output        map[string]interface{}
	RollbackToken string
}

// ActionRunner executes one action against its destination system and
// reverses it given a rollback token. Implementations classify failures by
// returning EngineError kinds: transient_io retries, permanent_io does not.
type ActionRunner interface {
	Run(ctx context.Context, action Action) (*ActionOutput, error)
	Rollback(ctx context.Context, action Action, token string) error
}

// ExecutorConfig tunes scheduling and retry behavior.
type ExecutorConfig struct {
	// SystemConcurrency caps in-flight actions per destination system.
	SystemConcurrency map[string]int64
	// GlobalConcurrency caps in-flight actions across all systems.
	GlobalConcurrency int64
	// TimeoutMultiplier scales an action's estimated duration into its
	// deadline.
	TimeoutMultiplier float64
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SystemConcurrency: map[string]int64{
			"access-control": 2,
			"pms":            2,
			"notifications":  8,
			"internal":       4,
		},
		GlobalConcurrency: 8,
		TimeoutMultiplier: 3.0,
		MaxRetries:        3,
		BackoffBase:       250 * time.Millisecond,
		BackoffCap:        30 * time.Second,
	}
}

// ActionExecutor runs a plan's actions honoring dependencies, per-system
// concurrency, deadlines, and failure policies. One executor serves all
// workflows; per-plan state lives on the stack of Execute.
type ActionExecutor struct {
	runner ActionRunner
	cfg    ExecutorConfig
	global *semaphore.Weighted
	system map[string]*semaphore.Weighted
}

// NewActionExecutor builds the executor. Unknown destination systems share
// the internal semaphore.
func NewActionExecutor(runner ActionRunner, cfg ExecutorConfig) *ActionExecutor {
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 8
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = 3.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	ex := &ActionExecutor{
		runner: runner,
		cfg:    cfg,
		global: semaphore.NewWeighted(cfg.GlobalConcurrency),
		system: make(map[string]*semaphore.Weighted),
	}
	for name, n := range cfg.SystemConcurrency {
		if n > 0 {
			ex.system[name] = semaphore.NewWeighted(n)
		}
	}
	if _, ok := ex.system["internal"]; !ok {
		ex.system["internal"] = semaphore.NewWeighted(4)
	}
	return ex
}

// completion is the scheduler's internal done message.
type completion struct {
	result ActionResult
	action Action
}

// Execute runs the plan to completion (or cancellation) and returns the
// report. A dependency cycle or a reference to an unknown action id is a
// validation error. On cancellation, completed actions that registered
// rollback tokens are rolled back best-effort in reverse completion order.
func (ex *ActionExecutor) Execute(ctx context.Context, plan *DecisionPlan) (*ExecutionReport, error) {
	report := &ExecutionReport{PlanID: plan.ID, StartedAt: time.Now().UTC()}
	if len(plan.Actions) == 0 {
		report.FinishedAt = report.StartedAt
		report.SuccessRate = 1.0
		report.Outcome = OutcomeComplete
		return report, nil
	}

	byID := make(map[string]Action, len(plan.Actions))
	for _, a := range plan.Actions {
		if _, dup := byID[a.ID]; dup {
			return nil, Errf(ErrKindValidation, "executor", "duplicate action id %q", a.ID)
		}
		byID[a.ID] = a
	}

	depRemaining := make(map[string]int, len(plan.Actions))
	dependents := make(map[string][]string)
	for _, a := range plan.Actions {
		depRemaining[a.ID] = len(a.DependsOn)
		for _, dep := range a.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, Errf(ErrKindValidation, "executor", "action %q depends on unknown action %q", a.ID, dep)
			}
			dependents[dep] = append(dependents[dep], a.ID)
		}
	}
	if err := checkAcyclic(plan.Actions, dependents); err != nil {
		return nil, err
	}

	results := make(map[string]*ActionResult, len(plan.Actions))
	var completionOrder []string
	done := make(chan completion, len(plan.Actions))
	inflight := 0
	escalated := false
	cancelled := false

	launch := func(a Action) {
		inflight++
		go func() {
			res := ex.runAction(ctx, a)
			done <- completion{result: res, action: a}
		}()
	}

	// skipCascade marks an action and everything downstream of it skipped.
	var skipCascade func(id string)
	skipCascade = func(id string) {
		if _, has := results[id]; has {
			return
		}
		now := time.Now().UTC()
		results[id] = &ActionResult{ActionID: id, Status: ActionSkipped, StartedAt: now, FinishedAt: now,
			Error: "dependency failed with block policy"}
		for _, dep := range dependents[id] {
			skipCascade(dep)
		}
	}

	// maybeLaunch starts an action whose dependency count reached zero,
	// consulting the failure policy of any failed dependency.
	maybeLaunch := func(id string) {
		if _, has := results[id]; has || cancelled || escalated {
			return
		}
		a := byID[id]
		for _, dep := range a.DependsOn {
			depRes := results[dep]
			if depRes == nil {
				return
			}
			switch depRes.Status {
			case ActionSucceeded:
			case ActionFailed:
				if byID[dep].FailurePolicy == FailureBlock {
					skipCascade(id)
					return
				}
				// proceed policy: dependent runs anyway.
			default: // skipped or cancelled
				skipCascade(id)
				return
			}
		}
		launch(a)
	}

	for _, a := range plan.Actions {
		if depRemaining[a.ID] == 0 {
			launch(a)
		}
	}

	for inflight > 0 {
		select {
		case c := <-done:
			inflight--
			res := c.result
			results[c.action.ID] = &res
			if res.Status == ActionSucceeded {
				completionOrder = append(completionOrder, c.action.ID)
			}
			if res.Status == ActionFailed && c.action.FailurePolicy == FailureEscalate {
				escalated = true
			}
			for _, dep := range dependents[c.action.ID] {
				depRemaining[dep]--
				if depRemaining[dep] == 0 {
					maybeLaunch(dep)
				}
			}
		case <-ctx.Done():
			cancelled = true
			// Drain in-flight actions; they observe the cancellation
			// through their own contexts.
			for inflight > 0 {
				c := <-done
				inflight--
				res := c.result
				results[c.action.ID] = &res
				if res.Status == ActionSucceeded {
					completionOrder = append(completionOrder, c.action.ID)
				}
			}
		}
	}

	// Anything never launched is cancelled (plan aborted) or skipped
	// (dependency policy); skipCascade already recorded the latter.
	for _, a := range plan.Actions {
		if _, has := results[a.ID]; !has {
			now := time.Now().UTC()
			status := ActionCancelled
			reason := "plan aborted before action became eligible"
			results[a.ID] = &ActionResult{ActionID: a.ID, Status: status, StartedAt: now, FinishedAt: now, Error: reason}
		}
	}

	succeeded := 0
	for _, a := range plan.Actions {
		report.Results = append(report.Results, *results[a.ID])
		if results[a.ID].Status == ActionSucceeded {
			succeeded++
		}
	}
	report.SuccessRate = float64(succeeded) / float64(len(plan.Actions))
	report.CompletionOrder = completionOrder
	report.Outcome = OutcomeForSuccessRate(report.SuccessRate)
	if escalated {
		report.Outcome = OutcomeEscalate
	}

	if cancelled {
		report.Rollbacks = ex.rollback(byID, results, completionOrder)
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// runAction executes one action with its deadline and retry policy.
func (ex *ActionExecutor) runAction(ctx context.Context, a Action) ActionResult {
	res := ActionResult{ActionID: a.ID, StartedAt: time.Now().UTC()}

	deadline := time.Duration(float64(a.EstimatedDuration) * ex.cfg.TimeoutMultiplier)
	if deadline <= 0 {
		deadline = time.Minute
	}
	actionCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sys := ex.systemSemaphore(a.System())
	if err := ex.global.Acquire(actionCtx, 1); err != nil {
		return ex.fail(res, ErrKindTimeout, "cancelled waiting for global slot", err)
	}
	defer ex.global.Release(1)
	if err := sys.Acquire(actionCtx, 1); err != nil {
		return ex.fail(res, ErrKindTimeout, "cancelled waiting for system slot", err)
	}
	defer sys.Release(1)

	backoff := ex.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= ex.cfg.MaxRetries; attempt++ {
		res.Attempts = attempt
		out, err := ex.runner.Run(actionCtx, a)
		if err == nil {
			res.Status = ActionSucceeded
			res.FinishedAt = time.Now().UTC()
			if out != nil {
				res.Output = out.Output
				// Notification actions never register rollback tokens.
				if a.RollbackPossible && a.Type != ActionNotification {
					res.RollbackToken = out.RollbackToken
				}
			}
			return res
		}
		lastErr = err

		if actionCtx.Err() != nil {
			return ex.fail(res, ErrKindTimeout, "action deadline exceeded", actionCtx.Err())
		}
		if !KindOf(err).Retryable() {
			return ex.fail(res, KindOf(err), "permanent failure", err)
		}
		if attempt < ex.cfg.MaxRetries {
			select {
			case <-time.After(backoff):
			case <-actionCtx.Done():
				return ex.fail(res, ErrKindTimeout, "action deadline exceeded during backoff", actionCtx.Err())
			}
			backoff *= 2
			if backoff > ex.cfg.BackoffCap {
				backoff = ex.cfg.BackoffCap
			}
		}
	}
	return ex.fail(res, KindOf(lastErr), fmt.Sprintf("failed after %d attempts", ex.cfg.MaxRetries), lastErr)
}

func (ex *ActionExecutor) fail(res ActionResult, kind ErrorKind, msg string, err error) ActionResult {
	res.Status = ActionFailed
	res.ErrorKind = kind
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Error = fmt.Sprintf("%s: %v", msg, err)
	} else {
		res.Error = msg
	}
	return res
}

// RollbackExecution reverses a report's registered tokens in reverse
// completion order. It is the abort path for plans halted after partial
// execution, such as an escalated run a human then refused. Actions whose
// tokens the report already shows redeemed (a cancelled run rolls back
// inline) are skipped, so invoking it twice is harmless.
func (ex *ActionExecutor) RollbackExecution(plan *DecisionPlan, report *ExecutionReport) []RollbackResult {
	if plan == nil || report == nil {
		return nil
	}
	byID := make(map[string]Action, len(plan.Actions))
	for _, a := range plan.Actions {
		byID[a.ID] = a
	}
	redeemed := make(map[string]bool, len(report.Rollbacks))
	for _, rb := range report.Rollbacks {
		redeemed[rb.ActionID] = true
	}

	results := make(map[string]*ActionResult, len(report.Results))
	var order []string
	for _, id := range report.CompletionOrder {
		if redeemed[id] {
			continue
		}
		for i := range report.Results {
			r := &report.Results[i]
			if r.ActionID == id && r.Status == ActionSucceeded && r.RollbackToken != "" {
				results[id] = r
				order = append(order, id)
				break
			}
		}
	}
	return ex.rollback(byID, results, order)
}

// rollback invokes registered tokens in reverse completion order,
// best-effort: failures are captured, never retried.
func (ex *ActionExecutor) rollback(byID map[string]Action, results map[string]*ActionResult, completionOrder []string) []RollbackResult {
	var out []RollbackResult
	rbCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for i := len(completionOrder) - 1; i >= 0; i-- {
		id := completionOrder[i]
		res := results[id]
		if res.RollbackToken == "" {
			continue
		}
		rb := RollbackResult{ActionID: id, Token: res.RollbackToken, At: time.Now().UTC()}
		if err := ex.runner.Rollback(rbCtx, byID[id], res.RollbackToken); err != nil {
			rb.Error = err.Error()
			log.Printf("[Executor] rollback of action %s failed: %v", id, err)
		} else {
			rb.Success = true
		}
		out = append(out, rb)
	}
	return out
}

func (ex *ActionExecutor) systemSemaphore(system string) *semaphore.Weighted {
	if s, ok := ex.system[system]; ok {
		return s
	}
	return ex.system["internal"]
}

// checkAcyclic runs Kahn's algorithm over the dependency graph.
func checkAcyclic(actions []Action, dependents map[string][]string) error {
	indegree := make(map[string]int, len(actions))
	for _, a := range actions {
		indegree[a.ID] = len(a.DependsOn)
	}
	var queue []string
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited != len(actions) {
		return Errf(ErrKindValidation, "executor", "action dependency graph contains a cycle")
	}
	return nil
}
