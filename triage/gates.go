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

// =============================================================================
// Gate Routers
// =============================================================================
//
// Routers are pure functions over recorded state. They never call tools and
// never mutate, so replaying a checkpoint routes identically to the original
// run.

// SafetyRoute reads the recorded safety verdict. A missing verdict means the
// gate node did not land its product, which is never safe to route past.
func SafetyRoute(st *IncidentState) string {
	safety := st.Incident.SafetyResult()
	if safety == nil {
		return RouteReject
	}
	if !safety.Passed {
		return RouteReject
	}
	if safety.RequiresHumanReview {
		return RouteHumanReview
	}
	return RouteContinue
}

// ComplianceRoute decides whether the response may proceed autonomously.
// Compliance findings never veto the response outright; they pull a human
// in. Rejection is reserved for a missing verdict.
func ComplianceRoute(st *IncidentState) string {
	compliance := st.Incident.ComplianceResult()
	if compliance == nil {
		return RouteRejected
	}
	switch {
	case !compliance.Passed,
		compliance.LegalReviewRequired,
		st.Incident.RequiresHumanIntervention,
		st.Autonomy != nil && !st.Autonomy.Autonomous:
		return RouteRequiresApproval
	}
	return RouteApproved
}

// ApprovalRoute reads the approval ledger. The gate node completes only
// after a human decision lands, so the latest record is the decision for
// the intervention the gate was parked on.
func ApprovalRoute(st *IncidentState) string {
	if hasAnyPending(&st.Incident) {
		return RoutePending
	}
	if n := len(st.Incident.ApprovalHistory); n > 0 {
		if st.Incident.ApprovalHistory[n-1].Decision {
			return RouteApproved
		}
		return RouteRejected
	}
	return RouteRejected
}

func hasAnyPending(in *Incident) bool {
	for _, p := range in.PendingApprovals {
		if p.Status == InterventionPending {
			return true
		}
	}
	return false
}
