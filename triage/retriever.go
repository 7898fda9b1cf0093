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
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"stayguard/platform/shared/logger"
)

// =============================================================================
// Memory Retriever
// =============================================================================

// Retrieval tuning. Similarity below the threshold is noise for this corpus
// size; the index is rebuilt at most once per refresh interval.
const (
	similarityThreshold    = 0.7
	defaultSimilarK        = 5
	retrieverWindowMonths  = 12
	patternWindowDays      = 90
	retrieverRefreshPeriod = time.Hour
	retrieverIndexLimit    = 500
)

// PatternSummary aggregates the recent window for one category.
type PatternSummary struct {
	Category                 Category `json:"category"`
	IncidentCount            int      `json:"incident_count"`
	MeanRiskScore            float64  `json:"mean_risk_score"`
	AutonomousResolutionRate float64  `json:"autonomous_resolution_rate"`
}

// PatternType labels a detected recurring pattern.
type PatternType string

const (
	PatternTemporal     PatternType = "temporal"
	PatternEscalation   PatternType = "escalation"
	PatternCategoryRisk PatternType = "category_risk"
	PatternLocation     PatternType = "location"
)

// Pattern is one detected recurring signal in the 90-day window.
type Pattern struct {
	Type        PatternType `json:"type"`
	Category    Category    `json:"category,omitempty"`
	Location    string      `json:"location,omitempty"`
	Description string      `json:"description"`
	Strength    float64     `json:"strength"`
	SampleSize  int         `json:"sample_size"`
}

// Pattern detection thresholds: a day-of-week with >30% share, a
// human-intervention rate >40%, mean category risk >=7.0, or a location
// repeating more than twice.
const (
	patternPeakDayShare       = 0.30
	patternEscalationRate     = 0.40
	patternHighRiskMean       = 7.0
	patternLocationRepeatsMin = 3
)

// retrieverDoc is one indexed incident: its term-frequency vector plus the
// fields surfaced in a hit.
type retrieverDoc struct {
	id         string
	title      string
	category   Category
	priority   Priority
	resolvedAt time.Time
	tf         map[string]float64
	norm       float64
}

// Retriever finds past incidents similar to a new one and summarizes recent
// outcome patterns. It indexes resolved incidents from the last twelve
// months with TF-IDF over title and description, compared by cosine
// similarity. The index refreshes lazily, at most once per hour.
type Retriever struct {
	store IncidentStore
	log   *logger.Logger
	now   func() time.Time

	mu          sync.RWMutex
	docs        []retrieverDoc
	idf         map[string]float64
	successRate map[Category]float64
	patterns    []PatternSummary
	detected    []Pattern
	lastRefresh time.Time
}

func NewRetriever(store IncidentStore) *Retriever {
	return &Retriever{
		store: store,
		log:   logger.New("retriever"),
		now:   time.Now,
	}
}

// stopwords trims the highest-frequency English filler so short incident
// titles don't match on connectives.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "was": {}, "are": {}, "has": {}, "have": {}, "been": {},
	"were": {}, "not": {}, "but": {}, "its": {}, "into": {}, "all": {},
	"per": {}, "our": {}, "their": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	total := float64(len(tokens))
	if total == 0 {
		return tf
	}
	for t := range tf {
		tf[t] /= total
	}
	return tf
}

// FindSimilar returns up to k indexed incidents whose cosine similarity to
// the given incident meets the threshold, best first. k <= 0 uses the
// default.
func (r *Retriever) FindSimilar(ctx context.Context, in *Incident, k int) ([]SimilarIncident, error) {
	if err := r.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = defaultSimilarK
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	query := termFrequencies(tokenize(in.Title + " " + in.Description))
	var qNorm float64
	weighted := make(map[string]float64, len(query))
	for term, tf := range query {
		idf, ok := r.idf[term]
		if !ok {
			continue
		}
		w := tf * idf
		weighted[term] = w
		qNorm += w * w
	}
	if qNorm == 0 {
		return nil, nil
	}
	qNorm = math.Sqrt(qNorm)

	var hits []SimilarIncident
	for _, doc := range r.docs {
		if doc.id == in.ID || doc.norm == 0 {
			continue
		}
		var dot float64
		for term, qw := range weighted {
			if dw, ok := doc.tf[term]; ok {
				dot += qw * dw * r.idf[term]
			}
		}
		sim := dot / (qNorm * doc.norm)
		if sim < similarityThreshold {
			continue
		}
		hits = append(hits, SimilarIncident{
			IncidentID: doc.id,
			Title:      doc.title,
			Category:   doc.category,
			Priority:   doc.priority,
			Similarity: sim,
			ResolvedAt: doc.resolvedAt,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// HistoricalSuccessRate reports the fraction of the category's resolved
// incidents in the window that completed without human intervention.
// Returns 0 when the category has no history, so callers fall back to their
// neutral prior.
func (r *Retriever) HistoricalSuccessRate(c Category) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.successRate[c]
}

// Patterns returns the 90-day per-category summaries from the last refresh.
func (r *Retriever) Patterns(ctx context.Context) ([]PatternSummary, error) {
	if err := r.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PatternSummary, len(r.patterns))
	copy(out, r.patterns)
	return out, nil
}

// DetectedPatterns returns the recurring signals found in the 90-day window.
func (r *Retriever) DetectedPatterns(ctx context.Context) ([]Pattern, error) {
	if err := r.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pattern, len(r.detected))
	copy(out, r.detected)
	return out, nil
}

func (r *Retriever) refreshIfStale(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.now().Sub(r.lastRefresh) < retrieverRefreshPeriod
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastRefresh) < retrieverRefreshPeriod {
		return nil
	}

	now := r.now().UTC()
	incidents, err := r.store.Search(ctx, SearchQuery{
		From:    now.AddDate(0, -retrieverWindowMonths, 0),
		Limit:   retrieverIndexLimit,
		OrderBy: "created_at",
	})
	if err != nil {
		// A stale index beats no index: keep serving the previous one
		// unless this is the first load.
		if len(r.docs) > 0 {
			r.log.Warn("", "", "Retriever refresh failed, serving stale index",
				map[string]interface{}{"error": err.Error()})
			r.lastRefresh = now
			return nil
		}
		return err
	}

	r.rebuild(incidents, now)
	r.lastRefresh = now
	r.log.Debug("", "", "Retriever index rebuilt",
		map[string]interface{}{"indexed": len(r.docs)})
	return nil
}

// rebuild recomputes the TF-IDF index, per-category success rates, and
// pattern summaries. Caller holds the write lock.
func (r *Retriever) rebuild(incidents []*Incident, now time.Time) {
	docFreq := make(map[string]int)
	docs := make([]retrieverDoc, 0, len(incidents))

	type outcome struct{ resolved, autonomous int }
	windowOutcomes := make(map[Category]*outcome)
	type pattern struct {
		count      int
		risk       float64
		autonomous int
		resolved   int
	}
	patternCutoff := now.AddDate(0, 0, -patternWindowDays)
	patterns := make(map[Category]*pattern)
	dayCounts := make(map[time.Weekday]int)
	locationCounts := make(map[string]int)
	windowTotal := 0
	windowIntervened := 0

	for _, in := range incidents {
		if in.Status.IsTerminal() {
			o := windowOutcomes[in.Category]
			if o == nil {
				o = &outcome{}
				windowOutcomes[in.Category] = o
			}
			o.resolved++
			if !in.RequiresHumanIntervention {
				o.autonomous++
			}
		}
		if !in.CreatedAt.Before(patternCutoff) {
			p := patterns[in.Category]
			if p == nil {
				p = &pattern{}
				patterns[in.Category] = p
			}
			p.count++
			p.risk += in.Risk.Score
			if in.Status.IsTerminal() {
				p.resolved++
				if !in.RequiresHumanIntervention {
					p.autonomous++
				}
			}
			windowTotal++
			if in.RequiresHumanIntervention {
				windowIntervened++
			}
			dayCounts[in.CreatedAt.Weekday()]++
			if loc := in.Metadata.Location; loc != "" {
				locationCounts[loc]++
			}
		}

		if !in.Status.IsTerminal() {
			continue
		}
		tokens := tokenize(in.Title + " " + in.Description)
		if len(tokens) == 0 {
			continue
		}
		doc := retrieverDoc{
			id:       in.ID,
			title:    in.Title,
			category: in.Category,
			priority: in.Priority,
			tf:       termFrequencies(tokens),
		}
		if in.ResolvedAt != nil {
			doc.resolvedAt = *in.ResolvedAt
		}
		for term := range doc.tf {
			docFreq[term]++
		}
		docs = append(docs, doc)
	}

	idf := make(map[string]float64, len(docFreq))
	n := float64(len(docs))
	for term, df := range docFreq {
		idf[term] = math.Log((1+n)/(1+float64(df))) + 1
	}
	for i := range docs {
		var norm float64
		for term, tf := range docs[i].tf {
			w := tf * idf[term]
			norm += w * w
		}
		docs[i].norm = math.Sqrt(norm)
	}

	rates := make(map[Category]float64, len(windowOutcomes))
	for c, o := range windowOutcomes {
		if o.resolved > 0 {
			rates[c] = float64(o.autonomous) / float64(o.resolved)
		}
	}

	summaries := make([]PatternSummary, 0, len(patterns))
	for c, p := range patterns {
		s := PatternSummary{
			Category:      c,
			IncidentCount: p.count,
			MeanRiskScore: p.risk / float64(p.count),
		}
		if p.resolved > 0 {
			s.AutonomousResolutionRate = float64(p.autonomous) / float64(p.resolved)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].IncidentCount > summaries[j].IncidentCount
	})

	var detected []Pattern
	if windowTotal > 0 {
		for day, n := range dayCounts {
			share := float64(n) / float64(windowTotal)
			if share > patternPeakDayShare {
				detected = append(detected, Pattern{
					Type:        PatternTemporal,
					Description: fmt.Sprintf("%.0f%% of recent incidents occur on %s", share*100, day),
					Strength:    share,
					SampleSize:  windowTotal,
				})
			}
		}
		if rate := float64(windowIntervened) / float64(windowTotal); rate > patternEscalationRate {
			detected = append(detected, Pattern{
				Type:        PatternEscalation,
				Description: fmt.Sprintf("%.0f%% of recent incidents required human intervention", rate*100),
				Strength:    rate,
				SampleSize:  windowTotal,
			})
		}
	}
	for _, s := range summaries {
		if s.MeanRiskScore >= patternHighRiskMean {
			detected = append(detected, Pattern{
				Type:        PatternCategoryRisk,
				Category:    s.Category,
				Description: fmt.Sprintf("mean risk %.1f across %d %s incidents", s.MeanRiskScore, s.IncidentCount, s.Category),
				Strength:    s.MeanRiskScore / 10,
				SampleSize:  s.IncidentCount,
			})
		}
	}
	for loc, n := range locationCounts {
		if n >= patternLocationRepeatsMin {
			detected = append(detected, Pattern{
				Type:        PatternLocation,
				Location:    loc,
				Description: fmt.Sprintf("%d recent incidents at %s", n, loc),
				Strength:    float64(n) / float64(windowTotal),
				SampleSize:  n,
			})
		}
	}
	sort.Slice(detected, func(i, j int) bool { return detected[i].Strength > detected[j].Strength })

	r.docs = docs
	r.idf = idf
	r.successRate = rates
	r.patterns = summaries
	r.detected = detected
}
