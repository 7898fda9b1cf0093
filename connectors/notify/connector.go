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

// Package notify provides the connector for the staff notification
// gateway. Messages cannot be unsent, so this connector never issues
// rollback tokens.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"stayguard/platform/connectors/base"
)

// CmdSend is the single command the gateway understands.
const CmdSend = "send"

// NotifyConnector talks to the notification gateway's REST API.
type NotifyConnector struct {
	config *base.ConnectorConfig
	client *base.Client
}

// NewNotifyConnector creates a new notification connector instance.
func NewNotifyConnector() *NotifyConnector {
	return &NotifyConnector{}
}

// Connect validates the endpoint and builds the HTTP transport.
func (c *NotifyConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	client, err := base.NewClient(c.Type(), config)
	if err != nil {
		return err
	}
	c.config = config
	c.client = client
	return nil
}

// Disconnect releases the connector.
func (c *NotifyConnector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

// HealthCheck probes the gateway health endpoint.
func (c *NotifyConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now().UTC()}, nil
	}
	return c.client.Ping(ctx)
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Execute sends one message. The gateway chooses recipients from the
// channel and audience fields.
func (c *NotifyConnector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.Type(), "Execute", "not connected", nil)
	}
	if cmd.Action != CmdSend {
		return nil, base.NewConnectorError(c.Type(), "Execute",
			fmt.Sprintf("unknown action %q", cmd.Action), nil)
	}
	subject, ok := cmd.Parameters["subject"].(string)
	if !ok || subject == "" {
		return nil, base.NewConnectorError(c.Type(), "Execute", `parameter "subject" is required`, nil)
	}

	start := time.Now()
	body := map[string]interface{}{
		"subject":  subject,
		"body":     cmd.Parameters["body"],
		"channel":  cmd.Parameters["channel"],
		"audience": cmd.Parameters["audience"],
	}
	var resp sendResponse
	if err := c.client.Do(ctx, http.MethodPost, "/api/v1/messages", body, &resp); err != nil {
		return nil, err
	}

	return &base.CommandResult{
		Success:   true,
		Duration:  time.Since(start),
		Message:   fmt.Sprintf("message %s queued", resp.MessageID),
		Connector: c.Name(),
		Output:    map[string]interface{}{"message_id": resp.MessageID, "status": resp.Status},
	}, nil
}

// Name returns the connector instance name.
func (c *NotifyConnector) Name() string {
	if c.config != nil && c.config.Name != "" {
		return c.config.Name
	}
	return c.Type()
}

// Type returns the connector type.
func (c *NotifyConnector) Type() string {
	return "notify"
}
