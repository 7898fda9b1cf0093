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
	"context"
	"sync"
	"time"
)

// =============================================================================
// Session Store
// =============================================================================

// Checkpoint ring and pending-approval queue bounds.
const (
	checkpointRingSize  = 32
	pendingApprovalsCap = 8
)

// SessionStore holds short-lived per-incident state: the most recent full
// IncidentState, a bounded checkpoint ring, and the pending-approval queue.
// Implementations (in-memory and Redis) are selected at construction and
// behave identically; callers never learn which is active.
type SessionStore interface {
	// Get returns the latest state for an incident, or ErrNotFound.
	Get(ctx context.Context, incidentID string) (*IncidentState, error)

	// Put stores the latest state, refreshing the TTL.
	Put(ctx context.Context, incidentID string, st *IncidentState) error

	// AppendCheckpoint appends to the incident's checkpoint ring. The ring
	// keeps the most recent checkpointRingSize entries.
	AppendCheckpoint(ctx context.Context, cp Checkpoint) error

	// FindByIncident returns the incident's retained checkpoints, oldest
	// first.
	FindByIncident(ctx context.Context, incidentID string) ([]Checkpoint, error)

	// PushPendingApproval enqueues a pending intervention. The queue is
	// bounded; a full queue is an unsafe_state error.
	PushPendingApproval(ctx context.Context, incidentID string, hi HumanIntervention) error

	// PendingApprovals returns the incident's queued interventions.
	PendingApprovals(ctx context.Context, incidentID string) ([]HumanIntervention, error)

	// RemovePendingApproval drops one queued intervention by id.
	RemovePendingApproval(ctx context.Context, incidentID, interventionID string) error

	// Cleanup removes expired records and returns how many incidents were
	// evicted.
	Cleanup(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}

// memorySession is one incident's cached session.
type memorySession struct {
	state       *IncidentState
	checkpoints []Checkpoint
	pending     []HumanIntervention
	expiresAt   time.Time
}

// MemorySessionStore is the in-process fallback implementation used when no
// Redis is configured and in tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore builds the in-memory store. ttl <= 0 means the
// default 24h.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemorySessionStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemorySessionStore) session(incidentID string) *memorySession {
	sess, ok := s.sessions[incidentID]
	if !ok {
		sess = &memorySession{}
		s.sessions[incidentID] = sess
	}
	sess.expiresAt = s.now().Add(s.ttl)
	return sess
}

// Get returns a deep copy so callers never alias the cached state.
func (s *MemorySessionStore) Get(ctx context.Context, incidentID string) (*IncidentState, error) {
	s.mu.RLock()
	sess, ok := s.sessions[incidentID]
	if !ok || sess.state == nil || s.now().After(sess.expiresAt) {
		s.mu.RUnlock()
		return nil, ErrNotFound
	}
	st := sess.state
	s.mu.RUnlock()
	return st.Clone()
}

func (s *MemorySessionStore) Put(ctx context.Context, incidentID string, st *IncidentState) error {
	cloned, err := st.Clone()
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, "session", "state not serializable", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(incidentID).state = cloned
	return nil
}

func (s *MemorySessionStore) AppendCheckpoint(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(cp.IncidentID)
	sess.checkpoints = append(sess.checkpoints, cp)
	if len(sess.checkpoints) > checkpointRingSize {
		sess.checkpoints = sess.checkpoints[len(sess.checkpoints)-checkpointRingSize:]
	}
	return nil
}

func (s *MemorySessionStore) FindByIncident(ctx context.Context, incidentID string) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[incidentID]
	if !ok {
		return nil, nil
	}
	out := make([]Checkpoint, len(sess.checkpoints))
	copy(out, sess.checkpoints)
	return out, nil
}

func (s *MemorySessionStore) PushPendingApproval(ctx context.Context, incidentID string, hi HumanIntervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(incidentID)
	if len(sess.pending) >= pendingApprovalsCap {
		return Errf(ErrKindUnsafeState, "session", "pending approval queue full for incident %s", incidentID)
	}
	sess.pending = append(sess.pending, hi)
	return nil
}

func (s *MemorySessionStore) PendingApprovals(ctx context.Context, incidentID string) ([]HumanIntervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[incidentID]
	if !ok {
		return nil, nil
	}
	out := make([]HumanIntervention, len(sess.pending))
	copy(out, sess.pending)
	return out, nil
}

func (s *MemorySessionStore) RemovePendingApproval(ctx context.Context, incidentID, interventionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[incidentID]
	if !ok {
		return ErrNotFound
	}
	for i, hi := range sess.pending {
		if hi.ID == interventionID {
			sess.pending = append(sess.pending[:i], sess.pending[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemorySessionStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemorySessionStore) Close() error { return nil }
