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
	"errors"
	"fmt"
)

// ErrorKind partitions engine failures by how callers should react.
type ErrorKind string

const (
	// ErrKindValidation rejects malformed input; never retried.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindTransientIO covers failures worth retrying (network, busy
	// downstream).
	ErrKindTransientIO ErrorKind = "transient_io"
	// ErrKindPermanentIO covers failures where retrying cannot help
	// (auth, 4xx from a connector).
	ErrKindPermanentIO ErrorKind = "permanent_io"
	// ErrKindTimeout covers deadline expiry at the node or action level.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindParse covers model output that failed schema validation.
	ErrKindParse ErrorKind = "parse_error"
	// ErrKindGateVeto records a gate stopping the workflow (safety
	// rejection, compliance rejection, approval denial or expiry).
	ErrKindGateVeto ErrorKind = "gate_veto"
	// ErrKindUnsafeState means persistence could not record progress and
	// the workflow must not continue.
	ErrKindUnsafeState ErrorKind = "unsafe_state"
	// ErrKindQueueFull is returned to submitters when the intake queue is
	// at capacity.
	ErrKindQueueFull ErrorKind = "queue_full"
)

// Retryable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindTransientIO || k == ErrKindTimeout
}

// EngineError is the engine's uniform failure value. Step names the
// workflow node or component that produced it.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Step    string    `json:"step,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %s", e.Step, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may be retried in place.
func (e *EngineError) Retryable() bool { return e.Kind.Retryable() }

// NewEngineError builds an EngineError wrapping err (err may be nil).
func NewEngineError(kind ErrorKind, step, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Step: step, Message: message, Err: err}
}

// Errf builds an EngineError with a formatted message and no wrapped cause.
func Errf(kind ErrorKind, step, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, walking wrapped errors. Unknown
// errors report as permanent IO so nothing retries blindly.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrKindPermanentIO
}

// Sentinel errors surfaced through the public API.
var (
	// ErrNotFound means the incident id is unknown to the engine.
	ErrNotFound = errors.New("incident not found")
	// ErrNotPending means a resolution was posted for an incident with no
	// matching pending intervention.
	ErrNotPending = errors.New("no pending intervention of requested type")
	// ErrQueueFull means the intake queue is at capacity; submit again
	// later.
	ErrQueueFull = &EngineError{Kind: ErrKindQueueFull, Step: "submit", Message: "intake queue at capacity"}
	// ErrEngineClosed means the engine is draining and accepts no new
	// work.
	ErrEngineClosed = errors.New("engine is shut down")
)
