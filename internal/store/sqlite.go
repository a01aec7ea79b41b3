package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS completions (
	id             TEXT PRIMARY KEY,
	entity_id      TEXT NOT NULL REFERENCES entities(id),
	stage_code     TEXT NOT NULL,
	run_id         TEXT,
	status         TEXT NOT NULL,
	passed         INTEGER,
	cost           REAL NOT NULL DEFAULT 0,
	boosted        INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	error_category TEXT,
	flags          TEXT,
	resolved       INTEGER NOT NULL DEFAULT 0,
	superseded     INTEGER NOT NULL DEFAULT 0,
	result         TEXT,
	completed_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id               TEXT PRIMARY KEY,
	scope_key        TEXT NOT NULL,
	scope            TEXT NOT NULL,
	enabled_stages   TEXT NOT NULL,
	soft_dep_toggles TEXT,
	re_enrich        TEXT,
	boost            TEXT,
	status           TEXT NOT NULL,
	reason           TEXT,
	total_cost       REAL NOT NULL DEFAULT 0,
	started_at       DATETIME NOT NULL,
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS stage_runs (
	run_id         TEXT NOT NULL REFERENCES pipeline_runs(id),
	stage_code     TEXT NOT NULL,
	eligible_total INTEGER NOT NULL DEFAULT 0,
	done           INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	cost           REAL NOT NULL DEFAULT 0,
	current_item   TEXT,
	failed_items   TEXT,
	PRIMARY KEY (run_id, stage_code)
);

CREATE TABLE IF NOT EXISTS resolutions (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	stage_code    TEXT NOT NULL,
	completion_id TEXT NOT NULL,
	decision      TEXT NOT NULL,
	decided_by    TEXT,
	decided_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_tag ON entities(tag);
CREATE INDEX IF NOT EXISTS idx_completions_key ON completions(entity_id, stage_code);
CREATE INDEX IF NOT EXISTS idx_completions_stage_active ON completions(stage_code, superseded);
CREATE INDEX IF NOT EXISTS idx_completions_run ON completions(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_scope_key ON pipeline_runs(scope_key, status);
CREATE INDEX IF NOT EXISTS idx_resolutions_key ON resolutions(entity_id, stage_code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []model.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert entities")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entities {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entities (id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				type = excluded.type, company_id = excluded.company_id, name = excluded.name,
				domain = excluded.domain, jurisdiction = excluded.jurisdiction,
				owner_id = excluded.owner_id, tier = excluded.tier, tag = excluded.tag`,
			e.ID, string(e.Type), e.CompanyID, e.Name, e.Domain, e.Jurisdiction,
			e.OwnerID, e.Tier, e.Tag, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert entities")
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at
		 FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, tag string) ([]model.Entity, error) {
	query := `SELECT id, type, company_id, name, domain, jurisdiction, owner_id, tier, tag, created_at
		 FROM entities`
	var args []any
	if tag != "" {
		query += ` WHERE tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) AppendCompletion(ctx context.Context, c model.Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append completion")
	}
	defer tx.Rollback() //nolint:errcheck

	// At most one active completion per (entity, stage): retire the prior
	// one before inserting.
	_, err = tx.ExecContext(ctx,
		`UPDATE completions SET superseded = 1 WHERE entity_id = ? AND stage_code = ? AND superseded = 0`,
		c.EntityID, c.StageCode,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: supersede prior completion")
	}

	flagsJSON, err := marshalFlags(c.Flags)
	if err != nil {
		return err
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO completions
			(id, entity_id, stage_code, run_id, status, passed, cost, boosted, error, error_category,
			 flags, resolved, superseded, result, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.EntityID, c.StageCode, nullString(c.RunID), string(c.Status), nullBool(c.Passed),
		c.Cost, c.Boosted, nullString(c.Error), nullString(string(c.ErrorCategory)),
		flagsJSON, c.Resolved, nullString(string(c.Result)), c.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert completion %s/%s", c.EntityID, c.StageCode)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append completion")
}

func (s *SQLiteStore) ActiveCompletions(ctx context.Context, stageCode string) (map[string]model.Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, stage_code, run_id, status, passed, cost, boosted, error, error_category,
			flags, resolved, superseded, result, completed_at
		 FROM completions WHERE stage_code = ? AND superseded = 0`,
		stageCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active completions for %s", stageCode)
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
	return out, eris.Wrap(rows.Err(), "sqlite: active completions iterate")
}

func (s *SQLiteStore) SupersedeCompletion(ctx context.Context, completionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE completions SET superseded = 1 WHERE id = ?`, completionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: supersede completion %s", completionID)
	}
	return checkRowsAffected(res, "completion", completionID)
}

func (s *SQLiteStore) MarkResolved(ctx context.Context, completionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE completions SET resolved = 1 WHERE id = ?`, completionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve completion %s", completionID)
	}
	return checkRowsAffected(res, "completion", completionID)
}

func (s *SQLiteStore) RunOutcomes(ctx context.Context, runID string, filter OutcomeFilter) ([]model.EntityOutcome, error) {
	query := `SELECT c.entity_id, e.name, c.stage_code, c.status, c.passed, c.cost, c.error, c.completed_at
		 FROM completions c JOIN entities e ON e.id = c.entity_id
		 WHERE c.run_id = ?`
	args := []any{runID}

	if filter.StageCode != "" {
		query += ` AND c.stage_code = ?`
		args = append(args, filter.StageCode)
	}
	if filter.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY c.completed_at, c.entity_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run outcomes")
	}
	defer rows.Close()

	var out []model.EntityOutcome
	for rows.Next() {
		var o model.EntityOutcome
		var passed sql.NullBool
		var errMsg sql.NullString
		if err := rows.Scan(&o.EntityID, &o.Name, &o.StageCode, &o.Status, &passed, &o.Cost, &errMsg, &o.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		if passed.Valid {
			o.Passed = &passed.Bool
		}
		o.Error = errMsg.String
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: run outcomes iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.PipelineRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create run")
	}
	defer tx.Rollback() //nolint:errcheck

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pipeline_runs WHERE scope_key = ? AND status IN (?, ?)`,
		run.Scope.Key(), string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	).Scan(&active)
	if err != nil {
		return eris.Wrap(err, "sqlite: count active runs")
	}
	if active > 0 {
		return ErrActiveRun
	}

	cols, err := marshalRunConfig(run)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs
			(id, scope_key, scope, enabled_stages, soft_dep_toggles, re_enrich, boost, status, reason, total_cost, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scope.Key(), cols.scope, cols.stages, cols.toggles, cols.reEnrich, cols.boost,
		string(run.Status), nullString(run.Reason), run.TotalCost, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ActiveRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		selectRun+` WHERE scope_key = ? AND status IN (?, ?) ORDER BY started_at DESC LIMIT 1`,
		scopeKey, string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active run for %s", scopeKey)
	}
	return run, nil
}

func (s *SQLiteStore) LatestRun(ctx context.Context, scopeKey string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		selectRun+` WHERE scope_key = ? ORDER BY started_at DESC LIMIT 1`, scopeKey)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest run for %s", scopeKey)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := selectRun + ` WHERE 1=1`
	var args []any
	if filter.Tag != "" {
		query += ` AND scope_key = ?`
		args = append(args, filter.Tag)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error {
	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().UTC()
	}
	// A terminal run is immutable: the guard keeps a late finish from
	// overwriting a stop (or any other terminal status) that landed first.
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, reason = ?, completed_at = COALESCE(?, completed_at)
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), nullString(reason), completedAt, runID,
		string(model.RunStatusCompleted), string(model.RunStatusFailed), string(model.RunStatusStopped),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM pipeline_runs WHERE id = ?`, runID).Scan(&cur)
		if err == sql.ErrNoRows {
			return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: check run status %s", runID)
		}
		// Already terminal: the first terminal status stands.
	}
	return nil
}

func (s *SQLiteStore) UpdateRunCost(ctx context.Context, runID string, totalCost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET total_cost = ? WHERE id = ?`, totalCost, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run cost %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) MarkInterruptedRuns(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, reason = ?, completed_at = ?
		 WHERE status IN (?, ?)`,
		string(model.RunStatusStopped), "interrupted by process restart", time.Now().UTC(),
		string(model.RunStatusConfiguring), string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark interrupted runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) UpsertStageRun(ctx context.Context, sr model.StageRun) error {
	currentJSON, failedJSON, err := marshalStageRunDetail(sr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (run_id, stage_code, eligible_total, done, failed, cost, current_item, failed_items)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, stage_code) DO UPDATE SET
			eligible_total = excluded.eligible_total, done = excluded.done,
			failed = excluded.failed, cost = excluded.cost,
			current_item = excluded.current_item, failed_items = excluded.failed_items`,
		sr.RunID, sr.StageCode, sr.EligibleTotal, sr.Done, sr.Failed, sr.Cost, currentJSON, failedJSON,
	)
	return eris.Wrapf(err, "sqlite: upsert stage run %s/%s", sr.RunID, sr.StageCode)
}

func (s *SQLiteStore) StageRuns(ctx context.Context, runID string) (map[string]model.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage_code, eligible_total, done, failed, cost, current_item, failed_items
		 FROM stage_runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: stage runs for %s", runID)
	}
	defer rows.Close()

	out := make(map[string]model.StageRun)
	for rows.Next() {
		var sr model.StageRun
		var currentJSON, failedJSON sql.NullString
		if err := rows.Scan(&sr.RunID, &sr.StageCode, &sr.EligibleTotal, &sr.Done, &sr.Failed, &sr.Cost, &currentJSON, &failedJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage run")
		}
		if err := unmarshalStageRunDetail(&sr, currentJSON.String, failedJSON.String); err != nil {
			return nil, err
		}
		out[sr.StageCode] = sr
	}
	return out, eris.Wrap(rows.Err(), "sqlite: stage runs iterate")
}

func (s *SQLiteStore) AppendResolution(ctx context.Context, r model.Resolution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolutions (id, entity_id, stage_code, completion_id, decision, decided_by, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityID, r.StageCode, r.CompletionID, string(r.Decision), nullString(r.DecidedBy), r.DecidedAt,
	)
	return eris.Wrapf(err, "sqlite: insert resolution %s/%s", r.EntityID, r.StageCode)
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, entityID, stageCode string) ([]model.Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, stage_code, completion_id, decision, decided_by, decided_at
		 FROM resolutions WHERE entity_id = ? AND stage_code = ? ORDER BY decided_at`,
		entityID, stageCode)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var out []model.Resolution
	for rows.Next() {
		var r model.Resolution
		var decidedBy sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityID, &r.StageCode, &r.CompletionID, &r.Decision, &decidedBy, &r.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		r.DecidedBy = decidedBy.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resolutions iterate")
}
