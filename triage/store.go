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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// =============================================================================
// Persistent Store
// =============================================================================

// ComplianceEvent is one persisted regulatory event (framework applied,
// deadline set, notification sent).
type ComplianceEvent struct {
	ID         string          `json:"id"`
	IncidentID string          `json:"incident_id"`
	Framework  Framework       `json:"framework"`
	EventType  string          `json:"event_type"`
	Details    json.RawMessage `json:"details,omitempty"`
	DeadlineAt *time.Time      `json:"deadline_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AnalyticsBucket is one aggregated row: date bucket × category × priority.
type AnalyticsBucket struct {
	Date          time.Time `json:"date"`
	Category      Category  `json:"category"`
	Priority      Priority  `json:"priority"`
	IncidentCount int       `json:"incident_count"`
	MeanRiskScore float64   `json:"mean_risk_score"`
	ResolvedCount int       `json:"resolved_count"`
}

// SearchQuery filters the incident table. Zero values mean "no filter".
type SearchQuery struct {
	Category Category
	Priority Priority
	Status   Status
	Location string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// IncidentStore is the durable record of every incident: the authoritative
// copy at rest, its append-only history, compliance events, and performance
// samples.
type IncidentStore interface {
	SaveIncident(ctx context.Context, in *Incident) error
	GetIncident(ctx context.Context, id string) (*Incident, error)
	Search(ctx context.Context, q SearchQuery) ([]*Incident, error)
	AppendHistory(ctx context.Context, records []HistoryRecord) error
	History(ctx context.Context, incidentID string) ([]HistoryRecord, error)
	RecordComplianceEvent(ctx context.Context, ev ComplianceEvent) error
	RecordMetricSample(ctx context.Context, s PerformanceSample) error
	Analytics(ctx context.Context, from, to time.Time) ([]AnalyticsBucket, error)
	ApplyRetention(ctx context.Context, retentionDays, auditRetentionDays int) (incidents, history int64, err error)
	Close() error
}

// searchOrderColumns whitelists ORDER BY targets: user input never reaches
// SQL identifiers directly.
var searchOrderColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"risk_score": "risk_score",
	"priority":   "priority",
	"category":   "category",
}

// PostgresStore implements IncidentStore over lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, verifies connectivity, and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing handle. Intended for tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ensureSchema creates the five tables and their indexes.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT,
			priority TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			classification_confidence DOUBLE PRECISION DEFAULT 0,
			risk_score DOUBLE PRECISION DEFAULT 0,
			location TEXT,
			property_code TEXT,
			requires_human BOOLEAN DEFAULT FALSE,
			workflow_paused BOOLEAN DEFAULT FALSE,
			safety_passed BOOLEAN DEFAULT FALSE,
			record JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_category ON incidents(category)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_priority ON incidents(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_risk_score ON incidents(risk_score)`,
		`CREATE TABLE IF NOT EXISTS incident_history (
			id BIGSERIAL PRIMARY KEY,
			incident_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			change_type TEXT NOT NULL,
			diff JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_incident ON incident_history(incident_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS incident_analytics (
			bucket_date DATE NOT NULL,
			category TEXT NOT NULL,
			priority TEXT NOT NULL,
			incident_count INTEGER NOT NULL,
			mean_risk_score DOUBLE PRECISION NOT NULL,
			resolved_count INTEGER NOT NULL,
			refreshed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (bucket_date, category, priority)
		)`,
		`CREATE TABLE IF NOT EXISTS compliance_events (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			framework TEXT NOT NULL,
			event_type TEXT NOT NULL,
			details JSONB,
			deadline_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_incident ON compliance_events(incident_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS performance_metrics (
			id BIGSERIAL PRIMARY KEY,
			incident_id TEXT,
			source TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			success BOOLEAN NOT NULL,
			confidence DOUBLE PRECISION,
			quality DOUBLE PRECISION,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_incident ON performance_metrics(incident_id, at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveIncident upserts the full incident record. Scalar columns are
// denormalized for index-backed search; the record column carries the whole
// JSON document.
func (s *PostgresStore) SaveIncident(ctx context.Context, in *Incident) error {
	record, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to serialize incident %s: %w", in.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, title, description, category, priority, status,
			created_at, updated_at, resolved_at,
			classification_confidence, risk_score, location, property_code,
			requires_human, workflow_paused, safety_passed, record
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			resolved_at = EXCLUDED.resolved_at,
			classification_confidence = EXCLUDED.classification_confidence,
			risk_score = EXCLUDED.risk_score,
			location = EXCLUDED.location,
			property_code = EXCLUDED.property_code,
			requires_human = EXCLUDED.requires_human,
			workflow_paused = EXCLUDED.workflow_paused,
			safety_passed = EXCLUDED.safety_passed,
			record = EXCLUDED.record`,
		in.ID, in.Title, in.Description, string(in.Category), string(in.Priority), string(in.Status),
		in.CreatedAt, in.UpdatedAt, in.ResolvedAt,
		in.ClassificationConfidence, in.Risk.Score, in.Metadata.Location, in.Metadata.PropertyCode,
		in.RequiresHumanIntervention, in.WorkflowPaused, in.SafetyGuardrailsPassed, record,
	)
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", in.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM incidents WHERE id = $1`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	var in Incident
	if err := json.Unmarshal(record, &in); err != nil {
		return nil, fmt.Errorf("incident %s record is corrupt: %w", id, err)
	}
	return &in, nil
}

// Search runs a filtered, ordered, paginated query against the denormalized
// columns.
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]*Incident, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Category != "" {
		where = append(where, "category = "+arg(string(q.Category)))
	}
	if q.Priority != "" {
		where = append(where, "priority = "+arg(string(q.Priority)))
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(string(q.Status)))
	}
	if q.Location != "" {
		where = append(where, "location = "+arg(q.Location))
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "created_at <= "+arg(q.To))
	}

	query := "SELECT record FROM incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	col, ok := searchOrderColumns[q.OrderBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(q.OrderDir, "asc") {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", col, dir)

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("incident search failed: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("incident search scan failed: %w", err)
		}
		var in Incident
		if err := json.Unmarshal(record, &in); err != nil {
			return nil, fmt.Errorf("incident record is corrupt: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// AppendHistory writes a batch of history records in one transaction.
func (s *PostgresStore) AppendHistory(ctx context.Context, records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO incident_history (incident_id, timestamp, change_type, diff) VALUES ($1,$2,$3,$4)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.IncidentID, r.Timestamp, r.ChangeType, []byte(r.Diff)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert history for %s: %w", r.IncidentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, incidentID string) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident_id, timestamp, change_type, diff
		 FROM incident_history WHERE incident_id = $1 ORDER BY timestamp ASC, id ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", incidentID, err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		var diff []byte
		if err := rows.Scan(&r.ID, &r.IncidentID, &r.Timestamp, &r.ChangeType, &diff); err != nil {
			return nil, fmt.Errorf("history scan failed: %w", err)
		}
		r.Diff = json.RawMessage(diff)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordComplianceEvent(ctx context.Context, ev ComplianceEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_events (id, incident_id, framework, event_type, details, deadline_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.IncidentID, string(ev.Framework), ev.EventType, []byte(ev.Details), ev.DeadlineAt, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record compliance event: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordMetricSample(ctx context.Context, sample PerformanceSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (incident_id, source, duration_ms, success, confidence, quality, at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sample.IncidentID, sample.Source, sample.Duration.Milliseconds(),
		sample.Success, sample.Confidence, sample.Quality, sample.At)
	if err != nil {
		return fmt.Errorf("failed to record metric sample: %w", err)
	}
	return nil
}

// Analytics aggregates on demand and refreshes the incident_analytics
// rollup for the covered buckets.
func (s *PostgresStore) Analytics(ctx context.Context, from, to time.Time) ([]AnalyticsBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('day', created_at)::date AS bucket,
		       COALESCE(category, '') AS category,
		       COALESCE(priority, '') AS priority,
		       COUNT(*),
		       COALESCE(AVG(risk_score), 0),
		       COUNT(*) FILTER (WHERE status IN ('resolved','closed'))
		FROM incidents
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY bucket, category, priority
		ORDER BY bucket, category, priority`, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics query failed: %w", err)
	}
	defer rows.Close()

	var out []AnalyticsBucket
	for rows.Next() {
		var b AnalyticsBucket
		var cat, pri string
		if err := rows.Scan(&b.Date, &cat, &pri, &b.IncidentCount, &b.MeanRiskScore, &b.ResolvedCount); err != nil {
			return nil, fmt.Errorf("analytics scan failed: %w", err)
		}
		b.Category, b.Priority = Category(cat), Priority(pri)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, b := range out {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO incident_analytics (bucket_date, category, priority, incident_count, mean_risk_score, resolved_count, refreshed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (bucket_date, category, priority) DO UPDATE SET
				incident_count = EXCLUDED.incident_count,
				mean_risk_score = EXCLUDED.mean_risk_score,
				resolved_count = EXCLUDED.resolved_count,
				refreshed_at = EXCLUDED.refreshed_at`,
			b.Date, string(b.Category), string(b.Priority), b.IncidentCount, b.MeanRiskScore, b.ResolvedCount, now); err != nil {
			return nil, fmt.Errorf("analytics rollup refresh failed: %w", err)
		}
	}
	return out, nil
}

// ApplyRetention deletes closed incidents past the retention window and
// history rows past the audit window. History outlives its incident rows by
// design: the audit window defaults to twice the incident window.
func (s *PostgresStore) ApplyRetention(ctx context.Context, retentionDays, auditRetentionDays int) (int64, int64, error) {
	incidentCutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE status = 'closed' AND resolved_at IS NOT NULL AND resolved_at < $1`,
		incidentCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("incident retention sweep failed: %w", err)
	}
	incidents, _ := res.RowsAffected()

	auditCutoff := time.Now().UTC().AddDate(0, 0, -auditRetentionDays)
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM incident_history WHERE timestamp < $1`, auditCutoff)
	if err != nil {
		return incidents, 0, fmt.Errorf("history retention sweep failed: %w", err)
	}
	history, _ := res.RowsAffected()
	return incidents, history, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
