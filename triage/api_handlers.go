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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// =============================================================================
// HTTP API
// =============================================================================

// Handler provides HTTP handlers for the triage API.
type Handler struct {
	engine *Engine
	auth   *AuthMiddleware

	// health reports downstream connector health for the health endpoint;
	// optional.
	health func(r *http.Request) map[string]interface{}
}

// NewHandler creates a new API handler. auth may be nil to disable
// authentication (development only).
func NewHandler(engine *Engine, auth *AuthMiddleware) *Handler {
	return &Handler{engine: engine, auth: auth}
}

// SetHealthSource installs the downstream health probe used by /health.
func (h *Handler) SetHealthSource(fn func(r *http.Request) map[string]interface{}) {
	h.health = fn
}

// RegisterRoutes registers all triage routes with a gorilla/mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")

	r.HandleFunc("/api/v1/incidents", h.protected(h.SubmitIncident)).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/incidents", h.protected(h.SearchIncidents)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/incidents/{id}", h.protected(h.GetIncident)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/incidents/{id}/resolve", h.protected(h.ResolveIntervention)).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/incidents/{id}/checkpoints", h.protected(h.GetCheckpoints)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/incidents/{id}/approvals", h.protected(h.GetPendingApprovals)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/patterns", h.protected(h.GetPatterns)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/analytics", h.protected(h.GetAnalytics)).Methods("GET", "OPTIONS")
}

// protected wraps a handler with JWT verification when auth is configured.
func (h *Handler) protected(next http.HandlerFunc) http.HandlerFunc {
	if h.auth == nil {
		return next
	}
	return h.auth.Require(next)
}

// SubmitIncidentRequest is the request body for reporting an incident.
type SubmitIncidentRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Metadata    IncidentMetadata `json:"metadata"`
}

// SubmitIncident handles POST /api/v1/incidents. Accepted reports are
// queued; processing is asynchronous.
func (h *Handler) SubmitIncident(w http.ResponseWriter, r *http.Request) {
	var req SubmitIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.engine.Submit(r.Context(), req.Title, req.Description, req.Metadata)
	if err != nil {
		switch KindOf(err) {
		case ErrKindQueueFull:
			w.Header().Set("Retry-After", "5")
			h.writeError(w, "Intake queue at capacity; retry shortly", http.StatusTooManyRequests)
		case ErrKindValidation:
			h.writeError(w, err.Error(), http.StatusBadRequest)
		default:
			if errors.Is(err, ErrEngineClosed) {
				h.writeError(w, "Service is shutting down", http.StatusServiceUnavailable)
				return
			}
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(StatusActive),
	})
}

// GetIncident handles GET /api/v1/incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	in, err := h.engine.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, "Incident not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, in)
}

// ResolveInterventionRequest is the request body for a human decision.
type ResolveInterventionRequest struct {
	Type     InterventionType `json:"type"`
	Approver string           `json:"approver"`
	Decision bool             `json:"decision"`
	Notes    string           `json:"notes,omitempty"`
}

// ResolveIntervention handles POST /api/v1/incidents/{id}/resolve.
func (h *Handler) ResolveIntervention(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ResolveInterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = InterventionApproval
	}
	if req.Approver == "" {
		h.writeError(w, "approver is required", http.StatusBadRequest)
		return
	}

	err := h.engine.Resolve(r.Context(), id, req.Type, req.Approver, req.Decision, req.Notes)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       id,
			"type":     req.Type,
			"decision": req.Decision,
		})
	case errors.Is(err, ErrNotFound):
		h.writeError(w, "Incident not found", http.StatusNotFound)
	case errors.Is(err, ErrNotPending):
		h.writeError(w, "No pending intervention of that type", http.StatusConflict)
	case errors.Is(err, ErrQueueFull):
		// The decision is durable; processing resumes when capacity frees.
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       id,
			"type":     req.Type,
			"decision": req.Decision,
			"note":     "decision recorded; workflow resume deferred (queue at capacity)",
		})
	default:
		h.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// SearchIncidents handles GET /api/v1/incidents.
func (h *Handler) SearchIncidents(w http.ResponseWriter, r *http.Request) {
	q := SearchQuery{
		Category: Category(r.URL.Query().Get("category")),
		Priority: Priority(r.URL.Query().Get("priority")),
		Status:   Status(r.URL.Query().Get("status")),
		Location: r.URL.Query().Get("location"),
		OrderBy:  r.URL.Query().Get("order_by"),
		OrderDir: r.URL.Query().Get("order_dir"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		q.To = t
	}

	results, err := h.engine.Search(r.Context(), q)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": results,
		"count":     len(results),
	})
}

// GetCheckpoints handles GET /api/v1/incidents/{id}/checkpoints.
func (h *Handler) GetCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cps, err := h.engine.Checkpoints(r.Context(), id)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"incident_id": id,
		"checkpoints": cps,
	})
}

// GetPendingApprovals handles GET /api/v1/incidents/{id}/approvals.
func (h *Handler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pending, err := h.engine.PendingApprovals(r.Context(), id)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"incident_id": id,
		"pending":     pending,
	})
}

// GetPatterns handles GET /api/v1/patterns.
func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.engine.Patterns(r.Context())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns})
}

// GetAnalytics handles GET /api/v1/analytics. The window defaults to the
// trailing 30 days.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		to = t
	}

	buckets, err := h.engine.Analytics(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    from,
		"to":      to,
		"buckets": buckets,
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"service":   "triage-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil {
		body["connectors"] = h.health(r)
	}
	h.writeJSON(w, http.StatusOK, body)
}

// Metrics handles GET /metrics: the JSON snapshot of the in-process
// collector. Prometheus scraping uses /prometheus.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Metrics())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
