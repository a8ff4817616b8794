// Package runlog keeps a ledger of model runs: one row per lifecycle step of
// a model instance, keyed by a run id.
package runlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionSetup      Action = "setup"
	ActionInitialize Action = "initialize"
	ActionFinalize   Action = "finalize"
	ActionClose      Action = "close"
)

type Event struct {
	OccurredAt time.Time
	RunID      uuid.UUID
	Model      string
	Version    string
	Action     Action
	CfgDir     string
	Payload    any
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if e.RunID == uuid.Nil {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(e.Model) == "" {
		return errors.New("Model is required")
	}
	if strings.TrimSpace(string(e.Action)) == "" {
		return errors.New("Action is required")
	}
	return nil
}

// Recorder stores run events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Memory keeps events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns the recorded events in order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Schema creates the ledger table.
const Schema = `CREATE TABLE IF NOT EXISTS model_runs (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	run_id UUID NOT NULL,
	model TEXT NOT NULL,
	version TEXT,
	action TEXT NOT NULL,
	cfg_dir TEXT,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS model_runs_run_id_idx ON model_runs (run_id);`

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create model_runs: %w", err)
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var version sql.NullString
	if v := strings.TrimSpace(event.Version); v != "" {
		version = sql.NullString{String: v, Valid: true}
	}
	var cfgDir sql.NullString
	if d := strings.TrimSpace(event.CfgDir); d != "" {
		cfgDir = sql.NullString{String: d, Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO model_runs (
			occurred_at,
			run_id,
			model,
			version,
			action,
			cfg_dir,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		event.RunID.String(),
		strings.TrimSpace(event.Model),
		version,
		string(event.Action),
		cfgDir,
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run event: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		RunID      string          `json:"run_id"`
		Model      string          `json:"model"`
		Version    string          `json:"version,omitempty"`
		Action     string          `json:"action"`
		CfgDir     string          `json:"cfg_dir,omitempty"`
		Payload    json.RawMessage `json:"payload"`
	}
	in := integrityInput{
		OccurredAt: event.OccurredAt.UTC(),
		RunID:      event.RunID.String(),
		Model:      strings.TrimSpace(event.Model),
		Version:    strings.TrimSpace(event.Version),
		Action:     string(event.Action),
		CfgDir:     strings.TrimSpace(event.CfgDir),
		Payload:    payloadJSON,
	}
	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Postgres records events in the model_runs table.
type Postgres struct {
	DB QueryRower
}

func (p Postgres) Record(ctx context.Context, event Event) error {
	_, err := Insert(ctx, p.DB, event)
	return err
}

// Run lists the events of one run in the order they happened.
func Run(ctx context.Context, db *sql.DB, runID uuid.UUID) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT occurred_at, model, COALESCE(version, ''), action, COALESCE(cfg_dir, ''), payload
		FROM model_runs WHERE run_id = $1 ORDER BY occurred_at, event_id`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			action  string
			payload []byte
		)
		if err := rows.Scan(&e.OccurredAt, &e.Model, &e.Version, &action, &e.CfgDir, &payload); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.RunID = runID
		e.Action = Action(action)
		var p map[string]any
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		e.Payload = p
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	return out, nil
}
