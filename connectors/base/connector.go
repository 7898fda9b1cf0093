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

package base

import (
	"context"
	"time"
)

// Connector is the contract every destination-system client implements:
// the property management system, the access-control panel, and the
// notification gateway all present the same lifecycle and command surface.
type Connector interface {
	// Lifecycle
	Connect(ctx context.Context, config *ConnectorConfig) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Execute runs one named command against the destination system.
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	// Metadata
	Name() string
	Type() string
}

// ConnectorConfig holds the configuration for one connector instance.
type ConnectorConfig struct {
	Name       string                 `json:"name"`        // Unique name for this connector
	Type       string                 `json:"type"`        // pms, access-control, notify
	BaseURL    string                 `json:"base_url"`    // Destination system endpoint
	Token      string                 `json:"-"`           // Bearer token; never serialized
	Timeout    time.Duration          `json:"timeout"`     // Per-request timeout (default 30s)
	MaxRetries int                    `json:"max_retries"` // Retry count for transient failures
	Options    map[string]interface{} `json:"options"`     // Connector-specific options
}

// Command is one named operation with its parameters. Connectors map the
// action name to a destination-system call.
type Command struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Timeout    time.Duration          `json:"timeout"` // Override default timeout
}

// CommandResult is the outcome of one command.
type CommandResult struct {
	Success   bool                   `json:"success"`
	Duration  time.Duration          `json:"duration"`
	Message   string                 `json:"message"`
	Connector string                 `json:"connector"`
	Output    map[string]interface{} `json:"output,omitempty"`

	// RollbackToken, when set, lets the caller reverse the command later.
	RollbackToken string `json:"rollback_token,omitempty"`
}

// HealthStatus represents the health of a connector.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// ConnectorError represents errors specific to connector operations.
// Transient marks failures worth retrying (network, 5xx, throttling).
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Transient     bool
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a permanent ConnectorError.
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}

// NewTransientError creates a ConnectorError the caller may retry.
func NewTransientError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Transient:     true,
		Cause:         cause,
	}
}
