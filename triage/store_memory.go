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
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// In-Memory Incident Store
// =============================================================================

// MemoryIncidentStore keeps everything in process memory. It is the fallback
// when no DATABASE_URL is configured, and the store tests run against.
// Nothing survives a restart.
type MemoryIncidentStore struct {
	mu         sync.RWMutex
	incidents  map[string]*Incident
	history    map[string][]HistoryRecord
	compliance []ComplianceEvent
	metrics    []PerformanceSample
	historySeq int64
	now        func() time.Time
}

func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]*Incident),
		history:   make(map[string][]HistoryRecord),
		now:       time.Now,
	}
}

func copyIncident(in *Incident) (*Incident, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, NewEngineError(ErrKindUnsafeState, "store", "incident not serializable", err)
	}
	var out Incident
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, NewEngineError(ErrKindUnsafeState, "store", "incident copy failed", err)
	}
	return &out, nil
}

func (s *MemoryIncidentStore) SaveIncident(ctx context.Context, in *Incident) error {
	cp, err := copyIncident(in)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[in.ID] = cp
	return nil
}

func (s *MemoryIncidentStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	in, ok := s.incidents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return copyIncident(in)
}

func (s *MemoryIncidentStore) Search(ctx context.Context, q SearchQuery) ([]*Incident, error) {
	s.mu.RLock()
	var matched []*Incident
	for _, in := range s.incidents {
		if q.Category != "" && in.Category != q.Category {
			continue
		}
		if q.Priority != "" && in.Priority != q.Priority {
			continue
		}
		if q.Status != "" && in.Status != q.Status {
			continue
		}
		if q.Location != "" && in.Metadata.Location != q.Location {
			continue
		}
		if !q.From.IsZero() && in.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && in.CreatedAt.After(q.To) {
			continue
		}
		matched = append(matched, in)
	}
	s.mu.RUnlock()

	asc := strings.EqualFold(q.OrderDir, "asc")
	less := func(a, b *Incident) bool {
		switch q.OrderBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "risk_score":
			return a.Risk.Score < b.Risk.Score
		case "priority":
			return string(a.Priority) < string(b.Priority)
		case "category":
			return string(a.Category) < string(b.Category)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if asc {
			return less(matched[i], matched[j])
		}
		return less(matched[j], matched[i])
	})

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Incident, 0, len(matched))
	for _, in := range matched {
		cp, err := copyIncident(in)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryIncidentStore) AppendHistory(ctx context.Context, records []HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.historySeq++
		r.ID = s.historySeq
		s.history[r.IncidentID] = append(s.history[r.IncidentID], r)
	}
	return nil
}

func (s *MemoryIncidentStore) History(ctx context.Context, incidentID string) ([]HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryRecord, len(s.history[incidentID]))
	copy(out, s.history[incidentID])
	return out, nil
}

func (s *MemoryIncidentStore) RecordComplianceEvent(ctx context.Context, ev ComplianceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance = append(s.compliance, ev)
	return nil
}

func (s *MemoryIncidentStore) RecordMetricSample(ctx context.Context, sample PerformanceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, sample)
	return nil
}

func (s *MemoryIncidentStore) Analytics(ctx context.Context, from, to time.Time) ([]AnalyticsBucket, error) {
	type key struct {
		date     string
		category Category
		priority Priority
	}
	type agg struct {
		bucket AnalyticsBucket
		risk   float64
	}
	s.mu.RLock()
	buckets := make(map[key]*agg)
	for _, in := range s.incidents {
		if in.CreatedAt.Before(from) || in.CreatedAt.After(to) {
			continue
		}
		day := in.CreatedAt.UTC().Truncate(24 * time.Hour)
		k := key{day.Format("2006-01-02"), in.Category, in.Priority}
		a, ok := buckets[k]
		if !ok {
			a = &agg{bucket: AnalyticsBucket{Date: day, Category: in.Category, Priority: in.Priority}}
			buckets[k] = a
		}
		a.bucket.IncidentCount++
		a.risk += in.Risk.Score
		if in.Status.IsTerminal() {
			a.bucket.ResolvedCount++
		}
	}
	s.mu.RUnlock()

	out := make([]AnalyticsBucket, 0, len(buckets))
	for _, a := range buckets {
		b := a.bucket
		b.MeanRiskScore = a.risk / float64(b.IncidentCount)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (s *MemoryIncidentStore) ApplyRetention(ctx context.Context, retentionDays, auditRetentionDays int) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	incidentCutoff := now.AddDate(0, 0, -retentionDays)
	auditCutoff := now.AddDate(0, 0, -auditRetentionDays)

	var incidents, history int64
	for id, in := range s.incidents {
		if in.Status == StatusClosed && in.ResolvedAt != nil && in.ResolvedAt.Before(incidentCutoff) {
			delete(s.incidents, id)
			incidents++
		}
	}
	for id, records := range s.history {
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.Before(auditCutoff) {
				history++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.history, id)
		} else {
			s.history[id] = kept
		}
	}
	return incidents, history, nil
}

func (s *MemoryIncidentStore) Close() error { return nil }
