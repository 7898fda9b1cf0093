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

// Package pms provides the connector for the property management system:
// room status changes and reservation flags. Room status changes are
// reversible; the rollback token encodes the prior status.
package pms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stayguard/platform/connectors/base"
)

// Command names the connector understands.
const (
	CmdUpdateRoomStatus = "update_room_status"
	CmdFlagReservation  = "flag_reservation"
	CmdRollback         = "rollback"
)

// PMSConnector talks to the property management system's REST API.
type PMSConnector struct {
	config *base.ConnectorConfig
	client *base.Client
}

// NewPMSConnector creates a new PMS connector instance.
func NewPMSConnector() *PMSConnector {
	return &PMSConnector{}
}

// Connect validates the endpoint and builds the HTTP transport.
func (c *PMSConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	client, err := base.NewClient(c.Type(), config)
	if err != nil {
		return err
	}
	c.config = config
	c.client = client
	return nil
}

// Disconnect releases the connector.
func (c *PMSConnector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

// HealthCheck probes the PMS health endpoint.
func (c *PMSConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now().UTC()}, nil
	}
	return c.client.Ping(ctx)
}

type roomStatusResponse struct {
	Room           string `json:"room"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
}

// Execute runs one PMS command.
func (c *PMSConnector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.Type(), "Execute", "not connected", nil)
	}
	start := time.Now()

	switch cmd.Action {
	case CmdUpdateRoomStatus:
		room, err := stringParam(cmd.Parameters, "room")
		if err != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", err.Error(), nil)
		}
		status, err := stringParam(cmd.Parameters, "status")
		if err != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", err.Error(), nil)
		}
		return c.setRoomStatus(ctx, start, room, status, cmd.Parameters["reason"])

	case CmdFlagReservation:
		resID, err := stringParam(cmd.Parameters, "reservation_id")
		if err != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", err.Error(), nil)
		}
		body := map[string]interface{}{"reason": cmd.Parameters["reason"]}
		if err := c.client.Do(ctx, http.MethodPost,
			"/api/v1/reservations/"+url.PathEscape(resID)+"/flag", body, nil); err != nil {
			return nil, err
		}
		return &base.CommandResult{
			Success:   true,
			Duration:  time.Since(start),
			Message:   fmt.Sprintf("reservation %s flagged", resID),
			Connector: c.Name(),
		}, nil

	case CmdRollback:
		token, err := stringParam(cmd.Parameters, "token")
		if err != nil {
			return nil, base.NewConnectorError(c.Type(), "Execute", err.Error(), nil)
		}
		room, previous, ok := parseRollbackToken(token)
		if !ok {
			return nil, base.NewConnectorError(c.Type(), "Execute",
				fmt.Sprintf("malformed rollback token %q", token), nil)
		}
		return c.setRoomStatus(ctx, start, room, previous, "rollback")

	default:
		return nil, base.NewConnectorError(c.Type(), "Execute",
			fmt.Sprintf("unknown action %q", cmd.Action), nil)
	}
}

func (c *PMSConnector) setRoomStatus(ctx context.Context, start time.Time, room, status string, reason interface{}) (*base.CommandResult, error) {
	var resp roomStatusResponse
	body := map[string]interface{}{"status": status, "reason": reason}
	if err := c.client.Do(ctx, http.MethodPut,
		"/api/v1/rooms/"+url.PathEscape(room)+"/status", body, &resp); err != nil {
		return nil, err
	}

	result := &base.CommandResult{
		Success:   true,
		Duration:  time.Since(start),
		Message:   fmt.Sprintf("room %s status set to %s", room, status),
		Connector: c.Name(),
		Output:    map[string]interface{}{"room": room, "status": status},
	}
	if resp.PreviousStatus != "" && resp.PreviousStatus != status {
		result.RollbackToken = rollbackToken(room, resp.PreviousStatus)
	}
	return result, nil
}

// rollbackToken encodes what a reversal needs: the room and the status it
// held before the change.
func rollbackToken(room, previousStatus string) string {
	return room + "|" + previousStatus
}

func parseRollbackToken(token string) (room, previousStatus string, ok bool) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Name returns the connector instance name.
func (c *PMSConnector) Name() string {
	if c.config != nil && c.config.Name != "" {
		return c.config.Name
	}
	return c.Type()
}

// Type returns the connector type.
func (c *PMSConnector) Type() string {
	return "pms"
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}
