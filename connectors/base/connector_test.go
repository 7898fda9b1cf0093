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
	"errors"
	"testing"
)

func TestConnectorError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ConnectorError
		wantMsg string
	}{
		{
			name: "with cause",
			err: &ConnectorError{
				ConnectorName: "pms",
				Operation:     "Execute",
				Message:       "connection failed",
				Cause:         errors.New("network timeout"),
			},
			wantMsg: "pms.Execute: connection failed (cause: network timeout)",
		},
		{
			name: "without cause",
			err: &ConnectorError{
				ConnectorName: "access-control",
				Operation:     "Execute",
				Message:       "revoke failed",
				Cause:         nil,
			},
			wantMsg: "access-control.Execute: revoke failed",
		},
		{
			name: "empty fields",
			err: &ConnectorError{
				ConnectorName: "",
				Operation:     "",
				Message:       "error",
				Cause:         nil,
			},
			wantMsg: ".: error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConnectorError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ConnectorError{
		ConnectorName: "pms",
		Operation:     "Connect",
		Message:       "failed",
		Cause:         cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through ConnectorError")
	}

	errNoCause := NewConnectorError("pms", "Connect", "failed", nil)
	if errNoCause.Unwrap() != nil {
		t.Error("Unwrap() should return nil when Cause is nil")
	}
}

func TestConnectorError_Transient(t *testing.T) {
	if NewConnectorError("notify", "Execute", "bad request", nil).Transient {
		t.Error("NewConnectorError should build a permanent error")
	}
	if !NewTransientError("notify", "Execute", "gateway busy", nil).Transient {
		t.Error("NewTransientError should build a transient error")
	}
}
