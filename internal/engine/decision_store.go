package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gridsight/gridsight/internal/store"
	"github.com/gridsight/gridsight/pkg/telemetry"
)

// Run records one engine invocation over a batch.
type Run struct {
	ID         string    `json:"id"`
	Rows       int       `json:"rows"`
	Alerts     int       `json:"alerts"`
	ModelUsed  bool      `json:"model_used"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DecisionFilter narrows decision listings. Zero values mean "no constraint".
type DecisionFilter struct {
	RunID     string
	MeterID   string
	Pattern   telemetry.Pattern
	MinRisk   float64
	AlertOnly bool
	Since     time.Time
	Until     time.Time
	Limit     int
}

// RunSummary aggregates one run for the dashboard and the daily report.
type RunSummary struct {
	Rows      int                       `json:"rows"`
	Alerts    int                       `json:"alerts"`
	AlertPct  float64                   `json:"alert_pct"`
	Meters    int                       `json:"meters"`
	Critical  int                       `json:"critical"` // risk > 0.7
	ByPattern map[telemetry.Pattern]int `json:"by_pattern"`
	TopAlerts []telemetry.Decision      `json:"top_alerts"`
}

// DecisionStore persists decision tables and run metadata.
type DecisionStore struct {
	store *store.SQLiteStore
	db    *sql.DB
}

// NewDecisionStore runs the engine migrations and returns a store over the
// shared database.
func NewDecisionStore(ctx context.Context, s *store.SQLiteStore) (*DecisionStore, error) {
	if err := s.Migrate(ctx, "engine", migrations()); err != nil {
		return nil, fmt.Errorf("engine migrations: %w", err)
	}
	return &DecisionStore{store: s, db: s.DB()}, nil
}

// SaveRun inserts the run record and its full decision table in one
// transaction, preserving the engine's risk-descending order via insertion
// order plus the risk index.
func (s *DecisionStore) SaveRun(ctx context.Context, run *Run, decisions []telemetry.Decision) error {
	return s.store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO engine_runs (id, rows, alerts, model_used, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.Rows, run.Alerts, run.ModelUsed, run.StartedAt, run.FinishedAt,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO engine_decisions (
				id, run_id, meter_id, timestamp, transformer_id,
				voltage, current, power, kwh,
				anomalous, score, pattern, risk_score, explanation, alert
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare decision insert: %w", err)
		}
		defer stmt.Close()

		for i := range decisions {
			d := &decisions[i]
			if _, err := stmt.ExecContext(ctx,
				uuid.NewString(), run.ID, d.MeterID, d.Timestamp, d.TransformerID,
				d.Voltage, d.Current, d.Power, d.KWH,
				d.Verdict.Anomalous, d.Verdict.Score,
				string(d.Pattern), d.RiskScore, d.Explanation, d.Alert,
			); err != nil {
				return fmt.Errorf("insert decision %d: %w", i, err)
			}
		}
		return nil
	})
}

const decisionColumns = `meter_id, timestamp, transformer_id, voltage, current, power, kwh,
	anomalous, score, pattern, risk_score, explanation, alert`

// ListDecisions returns decisions matching the filter, risk descending.
func (s *DecisionStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]telemetry.Decision, error) {
	var conds []string
	var args []any
	if f.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.MeterID != "" {
		conds = append(conds, "meter_id = ?")
		args = append(args, f.MeterID)
	}
	if f.Pattern != "" {
		conds = append(conds, "pattern = ?")
		args = append(args, string(f.Pattern))
	}
	if f.MinRisk > 0 {
		conds = append(conds, "risk_score >= ?")
		args = append(args, f.MinRisk)
	}
	if f.AlertOnly {
		conds = append(conds, "alert = 1")
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until)
	}

	query := "SELECT " + decisionColumns + " FROM engine_decisions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY risk_score DESC, timestamp"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Decision
	for rows.Next() {
		var d telemetry.Decision
		var pattern string
		if err := rows.Scan(
			&d.MeterID, &d.Timestamp, &d.TransformerID,
			&d.Voltage, &d.Current, &d.Power, &d.KWH,
			&d.Verdict.Anomalous, &d.Verdict.Score,
			&pattern, &d.RiskScore, &d.Explanation, &d.Alert,
		); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		d.Pattern = telemetry.Pattern(pattern)
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetRun returns the run with the given ID, or nil when it does not exist.
func (s *DecisionStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rows, alerts, model_used, started_at, finished_at
		FROM engine_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Rows, &r.Alerts, &r.ModelUsed, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// LatestRun returns the most recently finished run, or nil when none exist.
func (s *DecisionStore) LatestRun(ctx context.Context) (*Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rows, alerts, model_used, started_at, finished_at
		FROM engine_runs ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.Rows, &r.Alerts, &r.ModelUsed, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &r, nil
}

// Summarize aggregates the decisions of one run.
func (s *DecisionStore) Summarize(ctx context.Context, runID string, topN int) (*RunSummary, error) {
	summary := &RunSummary{ByPattern: make(map[telemetry.Pattern]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(alert), 0),
		       COUNT(DISTINCT meter_id),
		       COALESCE(SUM(CASE WHEN alert = 1 AND risk_score > 0.7 THEN 1 ELSE 0 END), 0)
		FROM engine_decisions WHERE run_id = ?`, runID,
	).Scan(&summary.Rows, &summary.Alerts, &summary.Meters, &summary.Critical)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	if summary.Rows > 0 {
		summary.AlertPct = float64(summary.Alerts) / float64(summary.Rows) * 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, COUNT(*) FROM engine_decisions
		WHERE run_id = ? GROUP BY pattern`, runID)
	if err != nil {
		return nil, fmt.Errorf("pattern breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pattern string
		var count int
		if err := rows.Scan(&pattern, &count); err != nil {
			return nil, fmt.Errorf("scan pattern count: %w", err)
		}
		summary.ByPattern[telemetry.Pattern(pattern)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top, err := s.ListDecisions(ctx, DecisionFilter{RunID: runID, AlertOnly: true, Limit: topN})
	if err != nil {
		return nil, err
	}
	summary.TopAlerts = top

	return summary, nil
}
