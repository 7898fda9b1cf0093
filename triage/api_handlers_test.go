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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, reply string) (*Engine, *httptest.Server) {
	t.Helper()
	e := newTestEngine(t, testEngineConfig(), reply)
	r := mux.NewRouter()
	NewHandler(e, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return e, srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_SubmitIncident(t *testing.T) {
	_, srv := newTestServer(t, lowRiskReply)

	resp := postJSON(t, srv.URL+"/api/v1/incidents", SubmitIncidentRequest{
		Title:       "Missed patrol checkpoint",
		Description: "Night shift skipped the 2am service corridor round",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, string(StatusActive), body["status"])
}

func TestAPI_SubmitIncidentRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t, lowRiskReply)

	resp, err := http.Post(srv.URL+"/api/v1/incidents", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/incidents", SubmitIncidentRequest{Description: "no title"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SubmitIncidentQueueFull(t *testing.T) {
	cfg := testEngineConfig()
	cfg.WorkerPoolSize = 0
	cfg.QueueCapacity = 1
	e := newTestEngine(t, cfg, lowRiskReply)
	r := mux.NewRouter()
	NewHandler(e, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL+"/api/v1/incidents", SubmitIncidentRequest{Title: "first", Description: "d"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/incidents", SubmitIncidentRequest{Title: "second", Description: "d"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
}

func TestAPI_GetIncident(t *testing.T) {
	e, srv := newTestServer(t, lowRiskReply)

	id, err := e.Submit(context.Background(), "Missed patrol checkpoint", "details here", IncidentMetadata{})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/incidents/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, id, body["id"])

	resp, err = http.Get(srv.URL + "/api/v1/incidents/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ResolveIntervention(t *testing.T) {
	e, srv := newTestServer(t, gatedReply)

	id, err := e.Submit(context.Background(), "Cloned keycard used",
		"Duplicate keycard opened a guest room overnight", IncidentMetadata{})
	require.NoError(t, err)
	waitForPending(t, e, id)

	// Missing approver.
	resp := postJSON(t, srv.URL+"/api/v1/incidents/"+id+"/resolve", ResolveInterventionRequest{Decision: true})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown incident.
	resp = postJSON(t, srv.URL+"/api/v1/incidents/ghost/resolve",
		ResolveInterventionRequest{Approver: "duty-manager", Decision: true})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Type defaults to approval; decision lands.
	resp = postJSON(t, srv.URL+"/api/v1/incidents/"+id+"/resolve",
		ResolveInterventionRequest{Approver: "duty-manager", Decision: true, Notes: "ok"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, string(InterventionApproval), body["type"])

	// Nothing pending anymore.
	resp = postJSON(t, srv.URL+"/api/v1/incidents/"+id+"/resolve",
		ResolveInterventionRequest{Approver: "duty-manager", Decision: true})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SearchIncidents(t *testing.T) {
	e, srv := newTestServer(t, lowRiskReply)

	id, err := e.Submit(context.Background(), "Missed patrol checkpoint", "details", IncidentMetadata{})
	require.NoError(t, err)
	_, err = e.Await(context.Background(), id)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/incidents?category=operational-security&limit=10")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])

	resp, err = http.Get(srv.URL + "/api/v1/incidents?from=not-a-time")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/incidents?to=" + time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CheckpointsAndApprovals(t *testing.T) {
	e, srv := newTestServer(t, gatedReply)

	id, err := e.Submit(context.Background(), "Cloned keycard used",
		"Duplicate keycard opened a guest room overnight", IncidentMetadata{})
	require.NoError(t, err)
	waitForPending(t, e, id)

	resp, err := http.Get(srv.URL + "/api/v1/incidents/" + id + "/checkpoints")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["checkpoints"])

	resp, err = http.Get(srv.URL + "/api/v1/incidents/" + id + "/approvals")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	pending, ok := body["pending"].([]interface{})
	require.True(t, ok)
	assert.Len(t, pending, 1)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	_, srv := newTestServer(t, lowRiskReply)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "triage-engine", body["service"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestAPI_HealthReportsConnectors(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), lowRiskReply)
	h := NewHandler(e, nil)
	h.SetHealthSource(func(r *http.Request) map[string]interface{} {
		return map[string]interface{}{"pms": "healthy"}
	})
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	connectors, ok := body["connectors"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "healthy", connectors["pms"])
}

func TestAPI_AnalyticsWindowValidation(t *testing.T) {
	_, srv := newTestServer(t, lowRiskReply)

	resp, err := http.Get(srv.URL + "/api/v1/analytics?from=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/analytics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Contains(t, body, "buckets")
}
