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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts per-action behavior and records invocation order.
type fakeRunner struct {
	mu        sync.Mutex
	run       func(ctx context.Context, a Action) (*ActionOutput, error)
	order     []string
	rollbacks []string
}

func (f *fakeRunner) Run(ctx context.Context, a Action) (*ActionOutput, error) {
	f.mu.Lock()
	f.order = append(f.order, a.ID)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, a)
	}
	return &ActionOutput{Output: map[string]interface{}{"ok": true}}, nil
}

func (f *fakeRunner) Rollback(ctx context.Context, a Action, token string) error {
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, token)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) ranBefore(a, b string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ai, bi := -1, -1
	for i, id := range f.order {
		if id == a {
			ai = i
		}
		if id == b {
			bi = i
		}
	}
	return ai >= 0 && bi >= 0 && ai < bi
}

func fastExecutorConfig() ExecutorConfig {
	cfg := DefaultExecutorConfig()
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	return cfg
}

func quickAction(id string, deps ...string) Action {
	return Action{
		ID:                id,
		Type:              ActionDocumentation,
		EstimatedDuration: time.Second,
		DependsOn:         deps,
		FailurePolicy:     FailureProceed,
	}
}

func TestExecutor_EmptyPlan(t *testing.T) {
	ex := NewActionExecutor(&fakeRunner{}, fastExecutorConfig())
	report, err := ex.Execute(context.Background(), &DecisionPlan{ID: "p"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, report.Outcome)
	assert.Equal(t, 1.0, report.SuccessRate)
}

func TestExecutor_HonorsDependencies(t *testing.T) {
	runner := &fakeRunner{}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	plan := &DecisionPlan{ID: "p", Actions: []Action{
		quickAction("a"),
		quickAction("b", "a"),
		quickAction("c", "b"),
	}}
	report, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, report.Outcome)
	assert.True(t, runner.ranBefore("a", "b"))
	assert.True(t, runner.ranBefore("b", "c"))
}

func TestExecutor_BlockPolicySkipsDependents(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		if a.ID == "gate" {
			return nil, Errf(ErrKindPermanentIO, "runner", "downstream rejected the call")
		}
		return &ActionOutput{}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	gate := quickAction("gate")
	gate.FailurePolicy = FailureBlock
	plan := &DecisionPlan{ID: "p", Actions: []Action{
		gate,
		quickAction("dependent", "gate"),
		quickAction("transitive", "dependent"),
		quickAction("independent"),
	}}
	report, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	res, _ := report.ResultFor("gate")
	assert.Equal(t, ActionFailed, res.Status)
	res, _ = report.ResultFor("dependent")
	assert.Equal(t, ActionSkipped, res.Status)
	res, _ = report.ResultFor("transitive")
	assert.Equal(t, ActionSkipped, res.Status, "skips cascade")
	res, _ = report.ResultFor("independent")
	assert.Equal(t, ActionSucceeded, res.Status)
}

func TestExecutor_ProceedPolicyRunsDependents(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		if a.ID == "flaky" {
			return nil, Errf(ErrKindPermanentIO, "runner", "rejected")
		}
		return &ActionOutput{}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	plan := &DecisionPlan{ID: "p", Actions: []Action{
		quickAction("flaky"),
		quickAction("dependent", "flaky"),
	}}
	report, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	res, _ := report.ResultFor("dependent")
	assert.Equal(t, ActionSucceeded, res.Status)
	assert.Equal(t, OutcomeCompleteWithWarnings, report.Outcome, "1 of 2 succeeded")
}

func TestExecutor_EscalatePolicy(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		if a.ID == "report" {
			return nil, Errf(ErrKindPermanentIO, "runner", "filing rejected")
		}
		return &ActionOutput{}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	report := quickAction("report")
	report.FailurePolicy = FailureEscalate
	plan := &DecisionPlan{ID: "p", Actions: []Action{quickAction("ok"), report}}

	out, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalate, out.Outcome,
		"an escalate-policy failure overrides the success-rate outcome")
}

func TestExecutor_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, Errf(ErrKindTransientIO, "runner", "connection reset")
		}
		return &ActionOutput{}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	report, err := ex.Execute(context.Background(), &DecisionPlan{ID: "p", Actions: []Action{quickAction("a")}})
	require.NoError(t, err)

	res, _ := report.ResultFor("a")
	assert.Equal(t, ActionSucceeded, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecutor_PermanentFailuresDoNotRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, Errf(ErrKindPermanentIO, "runner", "401 from downstream")
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	report, err := ex.Execute(context.Background(), &DecisionPlan{ID: "p", Actions: []Action{quickAction("a")}})
	require.NoError(t, err)

	res, _ := report.ResultFor("a")
	assert.Equal(t, ActionFailed, res.Status)
	assert.Equal(t, ErrKindPermanentIO, res.ErrorKind)
	assert.Equal(t, 1, calls)
}

func TestExecutor_RejectsCyclesAndUnknownDeps(t *testing.T) {
	ex := NewActionExecutor(&fakeRunner{}, fastExecutorConfig())

	_, err := ex.Execute(context.Background(), &DecisionPlan{ID: "p", Actions: []Action{
		quickAction("a", "b"),
		quickAction("b", "a"),
	}})
	require.Error(t, err)
	assert.Equal(t, ErrKindValidation, KindOf(err))

	_, err = ex.Execute(context.Background(), &DecisionPlan{ID: "p", Actions: []Action{
		quickAction("a", "ghost"),
	}})
	require.Error(t, err)
	assert.Equal(t, ErrKindValidation, KindOf(err))
}

func TestExecutor_NotificationsNeverKeepRollbackTokens(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		return &ActionOutput{RollbackToken: "tok"}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	notify := quickAction("n")
	notify.Type = ActionNotification
	notify.RollbackPossible = true
	reversible := quickAction("r")
	reversible.Type = ActionAccessControl
	reversible.RollbackPossible = true

	report, err := ex.Execute(context.Background(), &DecisionPlan{ID: "p", Actions: []Action{notify, reversible}})
	require.NoError(t, err)

	res, _ := report.ResultFor("n")
	assert.Empty(t, res.RollbackToken)
	res, _ = report.ResultFor("r")
	assert.Equal(t, "tok", res.RollbackToken)
}

func TestExecutor_RollsBackOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{}
	runner.run = func(c context.Context, a Action) (*ActionOutput, error) {
		if a.ID == "first" {
			return &ActionOutput{RollbackToken: "undo-first"}, nil
		}
		// The second action aborts the plan mid-flight, then lingers so the
		// scheduler observes the cancellation before this completion lands.
		cancel()
		<-c.Done()
		time.Sleep(100 * time.Millisecond)
		return nil, NewEngineError(ErrKindTimeout, "runner", "cancelled", c.Err())
	}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	second := quickAction("second", "first")
	second.Type = ActionAccessControl
	first := quickAction("first")
	first.Type = ActionAccessControl
	first.RollbackPossible = true

	report, err := ex.Execute(ctx, &DecisionPlan{ID: "p", Actions: []Action{first, second}})
	require.NoError(t, err)

	require.Len(t, report.Rollbacks, 1)
	assert.Equal(t, "undo-first", report.Rollbacks[0].Token)
	assert.True(t, report.Rollbacks[0].Success)
	assert.Equal(t, []string{"undo-first"}, runner.rollbacks)
}

func TestExecutor_RollbackExecutionReversesPartialRun(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, a Action) (*ActionOutput, error) {
		if a.ID == "filing" {
			return nil, Errf(ErrKindPermanentIO, "runner", "filing rejected")
		}
		return &ActionOutput{RollbackToken: "undo-" + a.ID}, nil
	}}
	ex := NewActionExecutor(runner, fastExecutorConfig())

	revoke := quickAction("revoke")
	revoke.Type = ActionAccessControl
	revoke.RollbackPossible = true
	hold := quickAction("hold", "revoke")
	hold.Type = ActionPMSUpdate
	hold.RollbackPossible = true
	filing := quickAction("filing", "hold")
	filing.Type = ActionComplianceReport
	filing.FailurePolicy = FailureEscalate

	plan := &DecisionPlan{ID: "p", Actions: []Action{revoke, hold, filing}}
	report, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalate, report.Outcome)
	assert.Equal(t, []string{"revoke", "hold"}, report.CompletionOrder)
	assert.Empty(t, report.Rollbacks, "an escalated run keeps its effects for the gate to judge")

	report.Rollbacks = append(report.Rollbacks, ex.RollbackExecution(plan, report)...)
	assert.Equal(t, []string{"undo-hold", "undo-revoke"}, runner.rollbacks,
		"tokens are redeemed in reverse completion order")
	require.Len(t, report.Rollbacks, 2)
	assert.Equal(t, "hold", report.Rollbacks[0].ActionID)
	assert.True(t, report.Rollbacks[0].Success)

	// Tokens the report already shows redeemed are never redeemed twice.
	assert.Empty(t, ex.RollbackExecution(plan, report))
	assert.Len(t, runner.rollbacks, 2)
}
