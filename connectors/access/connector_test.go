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

package access

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stayguard/platform/connectors/base"
)

func connected(t *testing.T, server *httptest.Server) *AccessConnector {
	t.Helper()
	c := NewAccessConnector()
	err := c.Connect(context.Background(), &base.ConnectorConfig{
		Name:    "test-access",
		BaseURL: server.URL,
		Token:   "tok",
		Options: map[string]interface{}{"allow_private_ips": true},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestAccessConnector_RevokeCard(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{
			"status":         "revoked",
			"rollback_token": "reinstate-42",
		})
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action: CmdRevokeCard,
		Parameters: map[string]interface{}{
			"card_id": "KC-1042",
			"reason":  "cloned card detected",
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/api/v1/cards/KC-1042/revoke" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["reason"] != "cloned card detected" {
		t.Errorf("body = %v", gotBody)
	}
	if !res.Success || res.RollbackToken != "reinstate-42" {
		t.Errorf("result = %+v", res)
	}
}

func TestAccessConnector_LockdownArea(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/areas/pool%20deck/lockdown" && r.URL.Path != "/api/v1/areas/pool deck/lockdown" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "locked", "rollback_token": "release-7"})
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action: CmdLockdownArea,
		Parameters: map[string]interface{}{
			"area":             "pool deck",
			"duration_minutes": 60,
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RollbackToken != "release-7" {
		t.Errorf("RollbackToken = %q", res.RollbackToken)
	}
}

func TestAccessConnector_Rollback(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotToken = body["token"]
		json.NewEncoder(w).Encode(map[string]string{"status": "reinstated"})
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action:     CmdRollback,
		Parameters: map[string]interface{}{"token": "reinstate-42"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotToken != "reinstate-42" {
		t.Errorf("token = %q", gotToken)
	}
	if res.RollbackToken != "" {
		t.Error("rollback of a rollback should not issue a token")
	}
}

func TestAccessConnector_Validation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer server.Close()

	c := connected(t, server)
	if _, err := c.Execute(context.Background(), &base.Command{Action: CmdRevokeCard}); err == nil {
		t.Error("missing card_id should fail")
	}
	if _, err := c.Execute(context.Background(), &base.Command{Action: "open_sesame"}); err == nil {
		t.Error("unknown action should fail")
	}
}

func TestAccessConnector_NotConnected(t *testing.T) {
	c := NewAccessConnector()
	if _, err := c.Execute(context.Background(), &base.Command{Action: CmdRevokeCard}); err == nil {
		t.Error("Execute before Connect should fail")
	}
	status, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if status.Healthy {
		t.Error("unconnected connector should report unhealthy")
	}
}
