package pipeline

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auditlog"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("pipeline run not found")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const (
	insertRunQuery = `INSERT INTO pipeline_runs (
		run_id,
		pipeline,
		environment,
		status,
		started_at,
		ended_at,
		error
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (run_id) DO NOTHING`

	insertOutcomeQuery = `INSERT INTO stage_outcomes (
		run_id,
		ordinal,
		stage_name,
		job_id,
		success,
		terminal_state,
		cause,
		started_at,
		ended_at,
		error,
		report
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	selectRunQuery = `SELECT run_id, pipeline, environment, status, started_at, ended_at
	 FROM pipeline_runs
	 WHERE run_id = $1`

	listOutcomesQuery = `SELECT stage_name, job_id, success, terminal_state, cause, started_at, ended_at, error, report
	 FROM stage_outcomes
	 WHERE run_id = $1
	 ORDER BY ordinal ASC`

	listRunsQuery = `SELECT run_id, pipeline, environment, status, started_at, ended_at, error
	 FROM pipeline_runs
	 WHERE ($1 = '' OR pipeline = $1)
	 ORDER BY started_at DESC
	 LIMIT $2`
)

// PostgresStore is the run ledger.
type PostgresStore struct {
	db    DB
	actor string
}

func NewPostgresStore(db DB, actor string) *PostgresStore {
	if db == nil {
		return nil
	}
	if strings.TrimSpace(actor) == "" {
		actor = "orchestrator"
	}
	return &PostgresStore{db: db, actor: actor}
}

// EnsureSchema creates the run ledger and audit tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure pipeline schema: %w", err)
	}
	return auditlog.EnsureSchema(ctx, s.db)
}

// SaveRun writes the run, its outcomes and one audit event in a single
// transaction. Saving a run ID twice is a no-op.
func (s *PostgresStore) SaveRun(ctx context.Context, run PipelineRun) (err error) {
	if s == nil || s.db == nil {
		return errors.New("pipeline store not initialized")
	}
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var runErr string
	if failed, ok := run.FailedOutcome(); ok {
		runErr = failed.Error
	}
	res, err := tx.ExecContext(ctx, insertRunQuery,
		run.RunID,
		run.Pipeline,
		nullIfEmpty(run.Environment),
		string(run.Status),
		run.StartedAt.UTC(),
		run.EndedAt.UTC(),
		nullIfEmpty(runErr),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for i, o := range run.Outcomes {
		var report []byte
		if o.Report != nil {
			if report, err = json.Marshal(o.Report); err != nil {
				return fmt.Errorf("marshal stage %s report: %w", o.StageName, err)
			}
		}
		if _, err = tx.ExecContext(ctx, insertOutcomeQuery,
			run.RunID,
			i,
			o.StageName,
			nullIfEmpty(o.JobID),
			o.Success,
			string(o.TerminalState),
			nullIfEmpty(string(o.Cause)),
			o.StartedAt.UTC(),
			o.EndedAt.UTC(),
			nullIfEmpty(o.Error),
			report,
		); err != nil {
			return fmt.Errorf("insert stage outcome %s: %w", o.StageName, err)
		}
	}

	if _, err = auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   run.EndedAt,
		Actor:        s.actor,
		Action:       "pipeline.run." + string(run.Status),
		ResourceType: auditlog.ResourcePipelineRun,
		ResourceID:   run.RunID,
		Payload: map[string]any{
			"pipeline": run.Pipeline,
			"stages":   len(run.Outcomes),
			"error":    runErr,
		},
	}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRun loads a run with its outcomes.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (PipelineRun, error) {
	var (
		run PipelineRun
		env sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectRunQuery, strings.TrimSpace(runID)).
		Scan(&run.RunID, &run.Pipeline, &env, &run.Status, &run.StartedAt, &run.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PipelineRun{}, ErrRunNotFound
	}
	if err != nil {
		return PipelineRun{}, fmt.Errorf("select pipeline run: %w", err)
	}
	run.Environment = env.String

	rows, err := s.db.QueryContext(ctx, listOutcomesQuery, run.RunID)
	if err != nil {
		return PipelineRun{}, fmt.Errorf("list stage outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return PipelineRun{}, err
		}
		run.Outcomes = append(run.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return PipelineRun{}, fmt.Errorf("list stage outcomes: %w", err)
	}
	return run, nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Environment string    `json:"environment,omitempty"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Error       string    `json:"error,omitempty"`
}

// ListRuns returns the newest runs first. An empty pipeline lists all.
func (s *PostgresStore) ListRuns(ctx context.Context, pipeline string, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, listRunsQuery, strings.TrimSpace(pipeline), limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r        RunSummary
			env, msg sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Pipeline, &env, &r.Status, &r.StartedAt, &r.EndedAt, &msg); err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		r.Environment = env.String
		r.Error = msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	return out, nil
}

func scanOutcome(rows *sql.Rows) (o jobs.StageOutcome, err error) {
	var (
		jobID, cause, msg sql.NullString
		report            []byte
	)
	if err := rows.Scan(&o.StageName, &jobID, &o.Success, &o.TerminalState, &cause, &o.StartedAt, &o.EndedAt, &msg, &report); err != nil {
		return o, fmt.Errorf("scan stage outcome: %w", err)
	}
	o.JobID = jobID.String
	o.Cause = jobs.Cause(cause.String)
	o.Error = msg.String
	if len(report) > 0 {
		o.Report = new(quality.QualityReport)
		if err := json.Unmarshal(report, o.Report); err != nil {
			return o, fmt.Errorf("decode stage %s report: %w", o.StageName, err)
		}
	}
	return o, nil
}

func nullIfEmpty(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
