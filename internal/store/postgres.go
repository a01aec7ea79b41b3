package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/db"
	"github.com/sells-group/enrich-cli/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations (per-entity completion writes and progress
// flushes during a run).
var preparedStatements = map[string]string{
	"supersede_active":  `UPDATE completions SET superseded = TRUE WHERE entity_id = $1 AND stage_code = $2 AND superseded = FALSE`,
	"update_run_cost":   `UPDATE pipeline_runs SET total_cost = $1 WHERE id = $2`,
	"active_by_stage":   `SELECT id, entity_id, stage_code, run_id, status, passed, cost, boosted, error, error_category, flags, resolved, superseded, result, completed_at FROM completions WHERE stage_code = $1 AND superseded = FALSE`,
	"get_run":           selectRun + ` WHERE id = $1`,
	"upsert_stage_run":  upsertStageRunSQL,
	"insert_completion": insertCompletionSQL,
}

const insertCompletionSQL = `INSERT INTO completions
	(id, entity_id, stage_code, run_id, status, passed, cost, boosted, error, error_category,
	 flags, resolved, superseded, result, completed_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $14)`

const upsertStageRunSQL = `INSERT INTO stage_runs (run_id, stage_code, eligible_total, done, failed, cost, current_item, failed_items)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
 ON CONFLICT (run_id, stage_code) DO UPDATE SET
	eligible_total = excluded.eligible_total, done = excluded.done,
	failed = excluded.failed, cost = excluded.cost,
	current_item = excluded.current_item, failed_items = excluded.failed_items`

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

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	company_id   TEXT,
	name         TEXT NOT NULL,
	domain       TEXT,
	jurisdiction TEXT,
	owner_id     TEXT,
	tier         TEXT,
	tag          TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS completions (
	id             TEXT PRIMARY KEY,
	entity_id      TEXT NOT NULL REFERENCES entities(id),
	stage_code     TEXT NOT NULL,
	run_id         TEXT,
	status         TEXT NOT NULL,
	passed         BOOLEAN,
	cost           DOUBLE PRECISION NOT NULL DEFAULT 0,
	boosted        BOOLEAN NOT NULL DEFAULT FALSE,
	error          TEXT,
	error_category TEXT,
	flags          JSONB,
	resolved       BOOLEAN NOT NULL DEFAULT FALSE,
	superseded     BOOLEAN NOT NULL DEFAULT FALSE,
	result         JSONB,
	completed_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id               TEXT PRIMARY KEY,
	scope_key        TEXT NOT NULL,
	scope            JSONB NOT NULL,
	enabled_stages   JSONB NOT NULL,
	soft_dep_toggles JSONB,
	re_enrich        JSONB,
	boost            JSONB,
	status           TEXT NOT NULL,
	reason           TEXT,
	total_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage_runs (
	run_id         TEXT NOT NULL REFERENCES pipeline_runs(id),
	stage_code     TEXT NOT NULL,
	eligible_total INTEGER NOT NULL DEFAULT 0,
	done           INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	cost           DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_item   JSONB,
	failed_items   JSONB,
	PRIMARY KEY (run_id, stage_code)
);

CREATE TABLE IF NOT EXISTS resolutions (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	stage_code    TEXT NOT NULL,
	completion_id TEXT NOT NULL,
	decision      TEXT NOT NULL,
	decided_by    TEXT,
	decided_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_tag ON entities(tag);
CREATE INDEX IF NOT EXISTS idx_completions_key ON completions(entity_id, stage_code);
CREATE INDEX IF NOT EXISTS idx_completions_stage_active ON completions(stage_code, superseded);
CREATE INDEX IF NOT EXISTS idx_completions_run ON completions(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_scope_key ON pipeline_runs(scope_key, status);
CREATE INDEX IF NOT EXISTS idx_resolutions_key ON resolutions(entity_id, stage_code);

-- Belt-and-braces backing for the single-active-run invariant.
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_active
	ON pipeline_runs(scope_key) WHERE status IN ('configuring', 'running');
`

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

func (s *PostgresStore) UpsertEntities(ctx context.Context, entities []model.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert entities")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range entities {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO entities (id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
				type = excluded.type, company_id = excluded.company_id, name = excluded.name,
				domain = excluded.domain, jurisdiction = excluded.jurisdiction,
				owner_id = excluded.owner_id, tier = excluded.tier, tag = excluded.tag`,
			e.ID, string(e.Type), e.CompanyID, e.Name, e.Domain, e.Jurisdiction,
			e.OwnerID, e.Tier, e.Tag, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert entity %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert entities")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at
		 FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	return e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, tag string) ([]model.Entity, error) {
	query := `SELECT id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at FROM entities`
	var args []any
	if tag != "" {
		query += ` WHERE tag = $1`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) AppendCompletion(ctx context.Context, c model.Completion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append completion")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`UPDATE completions SET superseded = TRUE WHERE entity_id = $1 AND stage_code = $2 AND superseded = FALSE`,
		c.EntityID, c.StageCode,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: supersede prior completion")
	}

	flagsJSON, err := marshalFlags(c.Flags)
	if err != nil {
		return err
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, insertCompletionSQL,
		c.ID, c.EntityID, c.StageCode, nullString(c.RunID), string(c.Status), c.Passed,
		c.Cost, c.Boosted, nullString(c.Error), nullString(string(c.ErrorCategory)),
		flagsJSON, c.Resolved, nullString(string(c.Result)), c.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert completion %s/%s", c.EntityID, c.StageCode)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit append completion")
}

func (s *PostgresStore) ActiveCompletions(ctx context.Context, stageCode string) (map[string]model.Completion, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["active_by_stage"], stageCode)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active completions for %s", stageCode)
	}
	defer rows.Close()

	out := make(map[string]model.Completion)
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out[c.EntityID] = *c
	}
	return out, eris.Wrap(rows.Err(), "postgres: active completions iterate")
}

func (s *PostgresStore) SupersedeCompletion(ctx context.Context, completionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE completions SET superseded = TRUE WHERE id = $1`, completionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: supersede completion %s", completionID)
	}
	return checkTag(tag, "completion", completionID)
}

func (s *PostgresStore) MarkResolved(ctx context.Context, completionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE completions SET resolved = TRUE WHERE id = $1`, completionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve completion %s", completionID)
	}
	return checkTag(tag, "completion", completionID)
}

func (s *PostgresStore) RunOutcomes(ctx context.Context, runID string, filter OutcomeFilter) ([]model.EntityOutcome, error) {
	query := `SELECT c.entity_id, e.name, c.stage_code, c.status, c.passed, c.cost, c.error, c.completed_at
		 FROM completions c JOIN entities e ON e.id = c.entity_id
		 WHERE c.run_id = $1`
	args := []any{runID}

	if filter.StageCode != "" {
		args = append(args, filter.StageCode)
		query += ` AND c.stage_code = $` + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND c.status = $` + itoa(len(args))
	}
	query += ` ORDER BY c.completed_at, c.entity_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run outcomes")
	}
	defer rows.Close()

	var out []model.EntityOutcome
	for rows.Next() {
		var o model.EntityOutcome
		var passed *bool
		var errMsg *string
		if err := rows.Scan(&o.EntityID, &o.Name, &o.StageCode, &o.Status, &passed, &o.Cost, &errMsg, &o.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		o.Passed = passed
		if errMsg != nil {
			o.Error = *errMsg
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: run outcomes iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.PipelineRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var active int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM pipeline_runs WHERE scope_key = $1 AND status IN ($2, $3)`,
		run.Scope.Key(), string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	).Scan(&active)
	if err != nil {
		return eris.Wrap(err, "postgres: count active runs")
	}
	if active > 0 {
		return ErrActiveRun
	}

	cols, err := marshalRunConfig(run)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO pipeline_runs
			(id, scope_key, scope, enabled_stages, soft_dep_toggles, re_enrich, boost, status, reason, total_cost, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.Scope.Key(), cols.scope, cols.stages, cols.toggles, cols.reEnrich, cols.boost,
		string(run.Status), nullString(run.Reason), run.TotalCost, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_run"], runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ActiveRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		selectRun+` WHERE scope_key = $1 AND status IN ($2, $3) ORDER BY started_at DESC LIMIT 1`,
		scopeKey, string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active run for %s", scopeKey)
	}
	return run, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		selectRun+` WHERE scope_key = $1 ORDER BY started_at DESC LIMIT 1`, scopeKey)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest run for %s", scopeKey)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := selectRun + ` WHERE TRUE`
	var args []any
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		query += ` AND scope_key = $` + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	// A terminal run is immutable: the guard keeps a late finish from
	// overwriting a stop (or any other terminal status) that landed first.
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, reason = $2, completed_at = COALESCE($3, completed_at)
		 WHERE id = $4 AND status NOT IN ($5, $6, $7)`,
		string(status), nullString(reason), completedAt, runID,
		string(model.RunStatusCompleted), string(model.RunStatusFailed), string(model.RunStatusStopped),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		var cur string
		err := s.pool.QueryRow(ctx, `SELECT status FROM pipeline_runs WHERE id = $1`, runID).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: check run status %s", runID)
		}
		// Already terminal: the first terminal status stands.
	}
	return nil
}

func (s *PostgresStore) UpdateRunCost(ctx context.Context, runID string, totalCost float64) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["update_run_cost"], totalCost, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run cost %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) MarkInterruptedRuns(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, reason = $2, completed_at = $3 WHERE status IN ($4, $5)`,
		string(model.RunStatusStopped), "interrupted by process restart", time.Now().UTC(),
		string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark interrupted runs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertStageRun(ctx context.Context, sr model.StageRun) error {
	currentJSON, failedJSON, err := marshalStageRunDetail(sr)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertStageRunSQL,
		sr.RunID, sr.StageCode, sr.EligibleTotal, sr.Done, sr.Failed, sr.Cost, currentJSON, failedJSON)
	return eris.Wrapf(err, "postgres: upsert stage run %s/%s", sr.RunID, sr.StageCode)
}

func (s *PostgresStore) StageRuns(ctx context.Context, runID string) (map[string]model.StageRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, stage_code, eligible_total, done, failed, cost, current_item, failed_items
		 FROM stage_runs WHERE run_id = $1`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: stage runs for %s", runID)
	}
	defer rows.Close()

	out := make(map[string]model.StageRun)
	for rows.Next() {
		var sr model.StageRun
		var currentJSON, failedJSON *string
		if err := rows.Scan(&sr.RunID, &sr.StageCode, &sr.EligibleTotal, &sr.Done, &sr.Failed, &sr.Cost, &currentJSON, &failedJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage run")
		}
		if err := unmarshalStageRunDetail(&sr, deref(currentJSON), deref(failedJSON)); err != nil {
			return nil, err
		}
		out[sr.StageCode] = sr
	}
	return out, eris.Wrap(rows.Err(), "postgres: stage runs iterate")
}

func (s *PostgresStore) AppendResolution(ctx context.Context, r model.Resolution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolutions (id, entity_id, stage_code, completion_id, decision, decided_by, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.EntityID, r.StageCode, r.CompletionID, string(r.Decision), nullString(r.DecidedBy), r.DecidedAt,
	)
	return eris.Wrapf(err, "postgres: insert resolution %s/%s", r.EntityID, r.StageCode)
}

func (s *PostgresStore) ListResolutions(ctx context.Context, entityID, stageCode string) ([]model.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, stage_code, completion_id, decision, decided_by, decided_at
		 FROM resolutions WHERE entity_id = $1 AND stage_code = $2 ORDER BY decided_at`,
		entityID, stageCode)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var out []model.Resolution
	for rows.Next() {
		var r model.Resolution
		var decidedBy *string
		if err := rows.Scan(&r.ID, &r.EntityID, &r.StageCode, &r.CompletionID, &r.Decision, &decidedBy, &r.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		r.DecidedBy = deref(decidedBy)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list resolutions iterate")
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("store: %s not found: %s", entity, id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
