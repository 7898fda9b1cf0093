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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	c, err := NewClient("test", &ConnectorConfig{
		BaseURL:    server.URL,
		Token:      token,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		Options:    map[string]interface{}{"allow_private_ips": true},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.retryDelay = time.Millisecond
	return c
}

func TestClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := testClient(t, server, "secret-token")
	var out map[string]bool
	if err := c.Do(context.Background(), http.MethodGet, "/ping", nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !out["ok"] {
		t.Error("response not decoded")
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := testClient(t, server, "")
	if err := c.Do(context.Background(), http.MethodPost, "/op", map[string]string{"a": "b"}, nil); err != nil {
		t.Fatalf("Do should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad card id"}`))
	}))
	defer server.Close()

	c := testClient(t, server, "")
	err := c.Do(context.Background(), http.MethodPost, "/op", nil, nil)
	if err == nil {
		t.Fatal("Do should fail on 400")
	}
	ce, ok := err.(*ConnectorError)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if ce.Transient {
		t.Error("400 should be permanent")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", got)
	}
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := testClient(t, server, "")
	err := c.Do(context.Background(), http.MethodGet, "/op", nil, nil)
	if err == nil {
		t.Fatal("Do should fail after exhausting retries")
	}
	if ce, ok := err.(*ConnectorError); !ok || !ce.Transient {
		t.Errorf("exhausted retries should surface the transient error, got %v", err)
	}
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"up"}`))
	}))
	defer server.Close()

	c := testClient(t, server, "")
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !status.Healthy {
		t.Errorf("Ping should report healthy: %+v", status)
	}
}
