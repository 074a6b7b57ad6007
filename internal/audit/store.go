// Package audit persists the incident and delivery trail to Postgres.
// Every analysis verdict and every notification attempt gets a row, so
// an operator can reconstruct what the system saw and what it did.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/escalate"
	"github.com/mikeyg42/sentryvision/internal/notify"
)

const schema = `
CREATE TABLE IF NOT EXISTS incident_audit (
	alert_id      TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	detected      BOOLEAN NOT NULL,
	incident_type TEXT NOT NULL DEFAULT '',
	risk_level    TEXT NOT NULL DEFAULT 'LOW',
	stage         TEXT NOT NULL,
	confirmed     BOOLEAN,
	vetoed        BOOLEAN NOT NULL DEFAULT FALSE,
	degraded      BOOLEAN NOT NULL DEFAULT FALSE,
	narrative     TEXT NOT NULL DEFAULT '',
	analyzed_at   TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_incident_client_time
	ON incident_audit (client_id, analyzed_at DESC);

CREATE TABLE IF NOT EXISTS delivery_audit (
	id             BIGSERIAL PRIMARY KEY,
	alert_id       TEXT NOT NULL,
	final_status   TEXT NOT NULL,
	total_attempts INT NOT NULL,
	fallback_used  BOOLEAN NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	attempts       JSONB NOT NULL DEFAULT '[]',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_delivery_alert ON delivery_audit (alert_id);
`

// Store writes audit rows. A nil *Store is a no-op on every method, so
// callers never guard against a deployment without a database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, logger: zap.L().Named("audit")}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// RecordAnalysis stores one verdict. Re-analysis of the same alert ID
// updates the row in place.
func (s *Store) RecordAnalysis(ctx context.Context, a escalate.IncidentAnalysis) error {
	if s == nil {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO incident_audit
			(alert_id, client_id, source_id, detected, incident_type,
			 risk_level, stage, confirmed, vetoed, degraded, narrative, analyzed_at)
		VALUES
			(:alert_id, :client_id, :source_id, :detected, :incident_type,
			 :risk_level, :stage, :confirmed, :vetoed, :degraded, :narrative, :analyzed_at)
		ON CONFLICT (alert_id) DO UPDATE SET
			detected = EXCLUDED.detected,
			incident_type = EXCLUDED.incident_type,
			risk_level = EXCLUDED.risk_level,
			stage = EXCLUDED.stage,
			confirmed = EXCLUDED.confirmed,
			vetoed = EXCLUDED.vetoed,
			degraded = EXCLUDED.degraded,
			narrative = EXCLUDED.narrative,
			analyzed_at = EXCLUDED.analyzed_at`,
		map[string]any{
			"alert_id":      a.AlertID,
			"client_id":     a.Client,
			"source_id":     a.Source,
			"detected":      a.Detected,
			"incident_type": a.IncidentType,
			"risk_level":    string(a.RiskLevel),
			"stage":         string(a.Stage),
			"confirmed":     a.Confirmed,
			"vetoed":        a.Vetoed,
			"degraded":      a.ClassifierDegraded,
			"narrative":     a.Narrative,
			"analyzed_at":   a.AnalyzedAt,
		})
	if err != nil {
		s.logger.Error("record analysis failed",
			zap.String("alert_id", a.AlertID), zap.Error(err))
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

// RecordDelivery stores the full delivery report, attempts as JSONB.
func (s *Store) RecordDelivery(ctx context.Context, alertID string, rep notify.DeliveryReport) error {
	if s == nil {
		return nil
	}
	attempts, err := json.Marshal(rep.Attempts)
	if err != nil {
		attempts = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_audit
			(alert_id, final_status, total_attempts, fallback_used, last_error, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		alertID, string(rep.FinalStatus), rep.TotalAttempts,
		rep.FallbackUsed, rep.LastError, attempts)
	if err != nil {
		s.logger.Error("record delivery failed",
			zap.String("alert_id", alertID), zap.Error(err))
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// IncidentRow is the stored shape of an analysis verdict.
type IncidentRow struct {
	AlertID      string    `db:"alert_id" json:"alert_id"`
	ClientID     string    `db:"client_id" json:"client_id"`
	SourceID     string    `db:"source_id" json:"source_id"`
	Detected     bool      `db:"detected" json:"detected"`
	IncidentType string    `db:"incident_type" json:"incident_type"`
	RiskLevel    string    `db:"risk_level" json:"risk_level"`
	Stage        string    `db:"stage" json:"stage"`
	Confirmed    *bool     `db:"confirmed" json:"confirmed"`
	Vetoed       bool      `db:"vetoed" json:"vetoed"`
	Degraded     bool      `db:"degraded" json:"degraded"`
	Narrative    string    `db:"narrative" json:"narrative"`
	AnalyzedAt   time.Time `db:"analyzed_at" json:"analyzed_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RecentIncidents returns the newest verdicts for a client, most recent
// first. limit defaults to 50 and caps at 500.
func (s *Store) RecentIncidents(ctx context.Context, clientID string, limit int) ([]IncidentRow, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	} else if limit > 500 {
		limit = 500
	}
	var rows []IncidentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT alert_id, client_id, source_id, detected, incident_type,
		       risk_level, stage, confirmed, vetoed, degraded, narrative,
		       analyzed_at, created_at
		FROM incident_audit
		WHERE client_id = $1
		ORDER BY analyzed_at DESC
		LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	return rows, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Close releases the connection pool. Nil-safe.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
