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

// Package access provides the connector for the property's access-control
// panel: key card revocation and area lockdown. Both operations are
// reversible and return rollback tokens.
package access

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"stayguard/platform/connectors/base"
)

// Command names the connector understands.
const (
	CmdRevokeCard   = "revoke_card"
	CmdLockdownArea = "lockdown_area"
	CmdRollback     = "rollback"
)

// AccessConnector talks to the access-control panel's REST API.
type AccessConnector struct {
	config *base.ConnectorConfig
	client *base.Client
}

// NewAccessConnector creates a new access-control connector instance.
func NewAccessConnector() *AccessConnector {
	return &AccessConnector{}
}

// Connect validates the endpoint and builds the HTTP transport.
func (c *AccessConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	client, err := base.NewClient(c.Type(), config)
	if err != nil {
		return err
	}
	c.config = config
	c.client = client
	return nil
}

// Disconnect releases the connector. The HTTP transport holds no
// persistent connection state.
func (c *AccessConnector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

// HealthCheck probes the panel's health endpoint.
func (c *AccessConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now().UTC()}, nil
	}
	return c.client.Ping(ctx)
}

// revokeResponse is the panel's reply to a revocation or lockdown; the
// token reverses the operation.
type revokeResponse struct {
	Status        string `json:"status"`
	RollbackToken string `json:"rollback_token"`
}

// Execute runs one access-control command.
func (c *AccessConnector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.Type(), "Execute", "not connected", nil)
	}
	start := time.Now()

	var (
		resp revokeResponse
		msg  string
		err  error
	)
	switch cmd.Action {
	case CmdRevokeCard:
		cardID, perr := stringParam(cmd.Parameters, "card_id")
		if perr != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", perr.Error(), nil)
		}
		body := map[string]interface{}{"reason": cmd.Parameters["reason"]}
		err = c.client.Do(ctx, http.MethodPost,
			"/api/v1/cards/"+url.PathEscape(cardID)+"/revoke", body, &resp)
		msg = fmt.Sprintf("card %s revoked", cardID)

	case CmdLockdownArea:
		area, perr := stringParam(cmd.Parameters, "area")
		if perr != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", perr.Error(), nil)
		}
		body := map[string]interface{}{
			"duration_minutes": cmd.Parameters["duration_minutes"],
			"reason":           cmd.Parameters["reason"],
		}
		err = c.client.Do(ctx, http.MethodPost,
			"/api/v1/areas/"+url.PathEscape(area)+"/lockdown", body, &resp)
		msg = fmt.Sprintf("area %s locked down", area)

	case CmdRollback:
		token, perr := stringParam(cmd.Parameters, "token")
		if perr != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", perr.Error(), nil)
		}
		err = c.client.Do(ctx, http.MethodPost, "/api/v1/rollback",
			map[string]interface{}{"token": token}, &resp)
		msg = "operation rolled back"

	default:
		return nil, base.NewConnectorError(c.Type(), "Execute",
			fmt.Sprintf("unknown action %q", cmd.Action), nil)
	}

	if err != nil {
		return nil, err
	}
	return &base.CommandResult{
		Success:       true,
		Duration:      time.Since(start),
		Message:       msg,
		Connector:     c.Name(),
		Output:        map[string]interface{}{"status": resp.Status},
		RollbackToken: resp.RollbackToken,
	}, nil
}

// Name returns the connector instance name.
func (c *AccessConnector) Name() string {
	if c.config != nil && c.config.Name != "" {
		return c.config.Name
	}
	return c.Type()
}

// Type returns the connector type.
func (c *AccessConnector) Type() string {
	return "access-control"
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}
