package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/netprep/internal/db"
	"github.com/sells-group/netprep/internal/model"
	"github.com/sells-group/netprep/internal/network"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, request, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_phase":      `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":    `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
	"load_scenario":     `SELECT payload FROM scenarios WHERE bank = $1 AND id = $2`,
}

// scenarioUpsert writes scenario rows keyed by bank and slot.
var scenarioUpsert = db.UpsertConfig{
	Table:        "scenarios",
	Columns:      []string{"bank", "id", "title", "payload", "nodes", "links", "updated_at"},
	ConflictKeys: []string{"bank", "id"},
}

// linkColumns are the scenario_links columns filled by COPY. geom holds the
// link polyline as EWKB.
var linkColumns = []string{"bank", "scenario_id", "i", "j", "length", "modes", "geom", "data"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scenarios (
	bank       TEXT NOT NULL,
	id         INTEGER NOT NULL,
	title      TEXT NOT NULL,
	payload    JSONB NOT NULL,
	nodes      INTEGER NOT NULL DEFAULT 0,
	links      INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bank, id)
);

CREATE TABLE IF NOT EXISTS scenario_links (
	bank        TEXT NOT NULL,
	scenario_id INTEGER NOT NULL,
	i           INTEGER NOT NULL,
	j           INTEGER NOT NULL,
	length      DOUBLE PRECISION NOT NULL,
	modes       TEXT NOT NULL DEFAULT '',
	geom        BYTEA NOT NULL,
	data        JSONB,
	PRIMARY KEY (bank, scenario_id, i, j),
	FOREIGN KEY (bank, scenario_id) REFERENCES scenarios(bank, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_highway_bank ON runs((request->>'highway_bank'));
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal request")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, reqJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(runStatusFor(result)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Bank != "" {
		query += fmt.Sprintf(` AND (request->>'highway_bank' = $%d OR request->>'transit_bank' = $%d)`, argIdx, argIdx)
		args = append(args, filter.Bank)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = $1 ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var status string
		var resultJSON []byte
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		p.Status = model.PhaseStatus(status)
		if resultJSON != nil {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal(resultJSON, p.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) LoadScenario(ctx context.Context, bank string, id int) (*network.Scenario, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM scenarios WHERE bank = $1 AND id = $2`,
		bank, id,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load scenario %s/%d", bank, id)
	}
	return decodeScenario(payload)
}

func (s *PostgresStore) ListScenarios(ctx context.Context, bank string) ([]ScenarioInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bank, id, title, nodes, links, updated_at FROM scenarios WHERE bank = $1 ORDER BY id`,
		bank,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scenarios in %s", bank)
	}
	defer rows.Close()

	var out []ScenarioInfo
	for rows.Next() {
		var info ScenarioInfo
		if err := rows.Scan(&info.Bank, &info.ID, &info.Title, &info.Nodes, &info.Links, &info.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scenario")
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scenarios iterate")
}

// SaveScenarios upserts the scenario snapshots and rewrites their link rows
// in a single transaction.
func (s *PostgresStore) SaveScenarios(ctx context.Context, bank string, scenarios []*network.Scenario) error {
	if len(scenarios) == 0 {
		return nil
	}
	now := time.Now().UTC()
	scRows := make([][]any, 0, len(scenarios))
	ids := make([]int32, 0, len(scenarios))
	var linkRows [][]any
	for _, sc := range scenarios {
		payload, err := json.Marshal(sc)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal scenario %d", sc.ID)
		}
		stats := sc.Stats()
		scRows = append(scRows, []any{bank, sc.ID, sc.Title, payload, stats.Nodes, stats.Links, now})
		ids = append(ids, int32(sc.ID))

		rows, err := scenarioLinkRows(bank, sc)
		if err != nil {
			return err
		}
		linkRows = append(linkRows, rows...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save scenarios")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BulkUpsertTx(ctx, tx, scenarioUpsert, scRows); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM scenario_links WHERE bank = $1 AND scenario_id = ANY($2)`,
		bank, ids,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear scenario links in %s", bank)
	}
	if _, err := db.CopyFrom(ctx, tx, "scenario_links", linkColumns, linkRows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save scenarios")
}

func scenarioLinkRows(bank string, sc *network.Scenario) ([][]any, error) {
	net := sc.Network()
	links := net.Links()
	rows := make([][]any, 0, len(links))
	for _, l := range links {
		geom, err := net.LinkEWKB(l)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(l.Data)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal link %s data", l.Key())
		}
		rows = append(rows, []any{bank, sc.ID, l.I, l.J, l.Length, strings.Join(l.Modes, ""), geom, data})
	}
	return rows, nil
}

func (s *PostgresStore) DeleteScenario(ctx context.Context, bank string, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scenarios WHERE bank = $1 AND id = $2`, bank, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete scenario %s/%d", bank, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scenario %s/%d", bank, id)
	}
	return nil
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var reqJSON, resultJSON []byte

	if err := row.Scan(&r.ID, &reqJSON, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(reqJSON, &r.Request); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal request")
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}
