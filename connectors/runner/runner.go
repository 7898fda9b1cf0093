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

// Package runner adapts the destination-system connectors to the triage
// engine's ActionRunner contract: it routes each plan action to the
// connector for its destination system, translates connector failures into
// the engine's error kinds, and carries rollback tokens back and forth.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stayguard/platform/connectors/access"
	"stayguard/platform/connectors/base"
	"stayguard/platform/connectors/notify"
	"stayguard/platform/connectors/pms"
	"stayguard/platform/shared/logger"
	"stayguard/platform/triage"
)

// Runner executes plan actions against the property's systems. Actions
// whose destination is the engine itself (documentation, investigation,
// compliance reports) complete locally.
type Runner struct {
	access base.Connector
	pms    base.Connector
	notify base.Connector
	log    *logger.Logger
}

// New builds and connects the three destination-system connectors from
// configuration. Property systems commonly sit on private address space,
// so endpoint validation allows it here.
func New(ctx context.Context, cfg *triage.Config, log *logger.Logger) (*Runner, error) {
	opts := map[string]interface{}{"allow_private_ips": true}

	accessConn := access.NewAccessConnector()
	if err := accessConn.Connect(ctx, &base.ConnectorConfig{
		Name: "access-control", Type: "access-control",
		BaseURL: cfg.AccessBaseURL, Token: cfg.AccessToken, Options: opts,
	}); err != nil {
		return nil, fmt.Errorf("access-control connector: %w", err)
	}

	pmsConn := pms.NewPMSConnector()
	if err := pmsConn.Connect(ctx, &base.ConnectorConfig{
		Name: "pms", Type: "pms",
		BaseURL: cfg.PMSBaseURL, Token: cfg.PMSToken, Options: opts,
	}); err != nil {
		return nil, fmt.Errorf("pms connector: %w", err)
	}

	notifyConn := notify.NewNotifyConnector()
	if err := notifyConn.Connect(ctx, &base.ConnectorConfig{
		Name: "notify", Type: "notify",
		BaseURL: cfg.NotifyBaseURL, Token: cfg.NotifyToken, Options: opts,
	}); err != nil {
		return nil, fmt.Errorf("notify connector: %w", err)
	}

	return &Runner{access: accessConn, pms: pmsConn, notify: notifyConn, log: log}, nil
}

// NewWithConnectors wires pre-built connectors; tests use it with httptest
// backends.
func NewWithConnectors(accessConn, pmsConn, notifyConn base.Connector, log *logger.Logger) *Runner {
	return &Runner{access: accessConn, pms: pmsConn, notify: notifyConn, log: log}
}

// Run executes one action against its destination system.
func (r *Runner) Run(ctx context.Context, action triage.Action) (*triage.ActionOutput, error) {
	switch action.System() {
	case "access-control":
		return r.runAccess(ctx, action)
	case "pms":
		return r.runPMS(ctx, action)
	case "notifications":
		return r.runNotify(ctx, action)
	default:
		return r.runInternal(action)
	}
}

// Rollback reverses a previously executed action using its token.
func (r *Runner) Rollback(ctx context.Context, action triage.Action, token string) error {
	cmd := &base.Command{
		Action:     "rollback",
		Parameters: map[string]interface{}{"token": token},
	}
	var err error
	switch action.System() {
	case "access-control":
		_, err = r.access.Execute(ctx, cmd)
	case "pms":
		_, err = r.pms.Execute(ctx, cmd)
	default:
		// Notifications and internal actions never register tokens.
		return nil
	}
	if err != nil {
		return mapErr("rollback", err)
	}
	return nil
}

// Health reports each connector's health, keyed by destination system.
func (r *Runner) Health(ctx context.Context) map[string]*base.HealthStatus {
	out := make(map[string]*base.HealthStatus, 3)
	for name, conn := range map[string]base.Connector{
		"access-control": r.access,
		"pms":            r.pms,
		"notifications":  r.notify,
	} {
		status, err := conn.HealthCheck(ctx)
		if err != nil {
			status = &base.HealthStatus{Healthy: false, Error: err.Error(), Timestamp: time.Now().UTC()}
		}
		out[name] = status
	}
	return out
}

func (r *Runner) runAccess(ctx context.Context, action triage.Action) (*triage.ActionOutput, error) {
	var cmd *base.Command
	switch action.Type {
	case triage.ActionLockdown:
		cmd = &base.Command{Action: access.CmdLockdownArea, Parameters: action.Params}
	default:
		if _, ok := action.Params["card_id"].(string); !ok {
			// No card on file: nothing to revoke automatically. The action
			// completes with a note so dependents are not blocked on a
			// lookup a human has to do anyway.
			return &triage.ActionOutput{Output: map[string]interface{}{
				"note": "no key card identified; access review queued for security staff",
			}}, nil
		}
		cmd = &base.Command{Action: access.CmdRevokeCard, Parameters: action.Params}
	}

	res, err := r.access.Execute(ctx, cmd)
	if err != nil {
		return nil, mapErr(action.ID, err)
	}
	return &triage.ActionOutput{Output: res.Output, RollbackToken: res.RollbackToken}, nil
}

func (r *Runner) runPMS(ctx context.Context, action triage.Action) (*triage.ActionOutput, error) {
	if _, ok := action.Params["room"].(string); !ok {
		return &triage.ActionOutput{Output: map[string]interface{}{
			"note": "no room associated with incident; PMS update skipped",
		}}, nil
	}
	res, err := r.pms.Execute(ctx, &base.Command{
		Action:     pms.CmdUpdateRoomStatus,
		Parameters: action.Params,
	})
	if err != nil {
		return nil, mapErr(action.ID, err)
	}
	return &triage.ActionOutput{Output: res.Output, RollbackToken: res.RollbackToken}, nil
}

func (r *Runner) runNotify(ctx context.Context, action triage.Action) (*triage.ActionOutput, error) {
	res, err := r.notify.Execute(ctx, &base.Command{
		Action:     notify.CmdSend,
		Parameters: action.Params,
	})
	if err != nil {
		return nil, mapErr(action.ID, err)
	}
	return &triage.ActionOutput{Output: res.Output}, nil
}

// runInternal completes actions that never leave the engine. Their real
// product is the audit trail the engine writes around them.
func (r *Runner) runInternal(action triage.Action) (*triage.ActionOutput, error) {
	return &triage.ActionOutput{Output: map[string]interface{}{
		"action":       action.Params["action"],
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

// mapErr translates connector failures into engine error kinds so the
// executor's retry policy applies correctly.
func mapErr(step string, err error) error {
	var ce *base.ConnectorError
	if errors.As(err, &ce) {
		kind := triage.ErrKindPermanentIO
		if ce.Transient {
			kind = triage.ErrKindTransientIO
		}
		if errors.Is(err, context.DeadlineExceeded) {
			kind = triage.ErrKindTimeout
		}
		return triage.NewEngineError(kind, step, ce.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return triage.NewEngineError(triage.ErrKindTimeout, step, "action deadline exceeded", err)
	}
	return triage.NewEngineError(triage.ErrKindPermanentIO, step, err.Error(), err)
}

// ResolutionNotifier sends the engine's final resolution summary through
// the notification gateway.
type ResolutionNotifier struct {
	conn base.Connector
}

// Notifier wraps the runner's notification connector for the engine's
// resolution hook.
func (r *Runner) Notifier() *ResolutionNotifier {
	return &ResolutionNotifier{conn: r.notify}
}

// NotifyResolution delivers the terminal summary to the security team
// channel.
func (n *ResolutionNotifier) NotifyResolution(ctx context.Context, in *triage.Incident) error {
	body := fmt.Sprintf("Incident %s (%s, %s) reached status %s.",
		in.ID, in.Category, in.Priority, in.Status)
	if in.Response != nil && len(in.Response.ImmediateActions) > 0 {
		body += fmt.Sprintf(" %d immediate actions were taken.", len(in.Response.ImmediateActions))
	}
	_, err := n.conn.Execute(ctx, &base.Command{
		Action: notify.CmdSend,
		Parameters: map[string]interface{}{
			"subject":  fmt.Sprintf("[%s] %s", in.Status, in.Title),
			"body":     body,
			"channel":  "messaging",
			"audience": "security-team",
		},
	})
	if err != nil {
		return mapErr("notify-resolution", err)
	}
	return nil
}
