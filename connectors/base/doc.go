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

/*
Package base provides the core interfaces and types for the destination
system connectors the triage engine executes actions through.

# Overview

The base package defines the Connector interface that every destination
system client implements, plus the shared HTTP transport (Client) they are
built on.

# Connector Interface

All connectors implement the Connector interface:

	type Connector interface {
	    // Lifecycle
	    Connect(ctx context.Context, config *ConnectorConfig) error
	    Disconnect(ctx context.Context) error
	    HealthCheck(ctx context.Context) (*HealthStatus, error)

	    // Execute runs one named command
	    Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	    // Metadata
	    Name() string
	    Type() string
	}

# Connector Types

StayGuard ships connectors for the three systems a response plan touches:

  - PMS - property management system room status and guest lookups
  - Access Control - key card revocation and area lockdown
  - Notify - staff and guest messaging

# Command Operations

Commands are named operations with parameters; each connector maps the
action name onto its destination system's API:

	cmd := &Command{
	    Action:     "revoke_card",
	    Parameters: map[string]interface{}{"card_id": "KC-1042", "reason": "cloned card"},
	    Timeout:    5 * time.Second,
	}

	result, err := connector.Execute(ctx, cmd)
	if err != nil {
	    return err
	}

	// Reversible commands return a rollback token.
	fmt.Println(result.RollbackToken)

# Configuration

Connectors are configured via ConnectorConfig:

	config := &ConnectorConfig{
	    Name:       "main-access-control",
	    Type:       "access-control",
	    BaseURL:    "https://panel.property.example",
	    Token:      os.Getenv("ACCESS_CONTROL_API_TOKEN"),
	    Timeout:    5 * time.Second,
	    MaxRetries: 3,
	}

# Error Handling

All connector errors are wrapped in ConnectorError. The Transient flag
tells callers whether a retry can help:

	err := connector.Execute(ctx, cmd)
	if connErr, ok := err.(*ConnectorError); ok && connErr.Transient {
	    // retry budget applies
	}

# Thread Safety

All Connector implementations must be safe for concurrent use. The
interface methods can be called from multiple goroutines simultaneously.
*/
package base
