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

package pms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stayguard/platform/connectors/base"
)

func connected(t *testing.T, server *httptest.Server) *PMSConnector {
	t.Helper()
	c := NewPMSConnector()
	err := c.Connect(context.Background(), &base.ConnectorConfig{
		Name:    "test-pms",
		BaseURL: server.URL,
		Options: map[string]interface{}{"allow_private_ips": true},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestPMSConnector_UpdateRoomStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/rooms/412/status" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{
			"room":            "412",
			"status":          body["status"].(string),
			"previous_status": "occupied",
		})
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action: CmdUpdateRoomStatus,
		Parameters: map[string]interface{}{
			"room":   "412",
			"status": "security_hold",
			"reason": "unauthorized entry",
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RollbackToken != "412|occupied" {
		t.Errorf("RollbackToken = %q", res.RollbackToken)
	}
}

func TestPMSConnector_RollbackRestoresPreviousStatus(t *testing.T) {
	var gotStatus string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		gotStatus, _ = body["status"].(string)
		json.NewEncoder(w).Encode(map[string]string{
			"room":            "412",
			"status":          gotStatus,
			"previous_status": "security_hold",
		})
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action:     CmdRollback,
		Parameters: map[string]interface{}{"token": "412|occupied"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotStatus != "occupied" {
		t.Errorf("rollback set status %q, want occupied", gotStatus)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestPMSConnector_MalformedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer server.Close()

	c := connected(t, server)
	if _, err := c.Execute(context.Background(), &base.Command{
		Action:     CmdRollback,
		Parameters: map[string]interface{}{"token": "no-separator"},
	}); err == nil {
		t.Error("malformed token should fail")
	}
}

func TestPMSConnector_FlagReservation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/reservations/RES-99/flag" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := connected(t, server)
	res, err := c.Execute(context.Background(), &base.Command{
		Action:     CmdFlagReservation,
		Parameters: map[string]interface{}{"reservation_id": "RES-99", "reason": "payment fraud"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RollbackToken != "" {
		t.Error("reservation flags are not reversible")
	}
}

func TestParseRollbackToken(t *testing.T) {
	room, prev, ok := parseRollbackToken("412|occupied")
	if !ok || room != "412" || prev != "occupied" {
		t.Errorf("got %q %q %v", room, prev, ok)
	}
	for _, bad := range []string{"", "412|", "|occupied", "plain"} {
		if _, _, ok := parseRollbackToken(bad); ok {
			t.Errorf("token %q should be rejected", bad)
		}
	}
}
