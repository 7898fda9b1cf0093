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
Package logger provides structured JSON logging for StayGuard engine
components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (engine, executor, store, etc.)
  - Instance ID and container name (for distributed tracing)
  - Property code (which property this engine instance serves)
  - Incident ID (for correlating everything one workflow run emits)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("engine")

Log messages with property and incident context:

	log.Info("P01", "INC-42", "Node completed", map[string]interface{}{
	    "step": "classify",
	})

Log errors attributed to a workflow step:

	log.ErrorWithStep("P01", "INC-42", "Node failed", "assess-risk", err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("P01", "INC-42", "Workflow completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"engine","instance_id":"i-abc123","container":"triage-xyz",
	 "property_code":"P01","incident_id":"INC-42",
	 "message":"Node completed","fields":{"step":"classify"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
