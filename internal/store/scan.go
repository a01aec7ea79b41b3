package store

import (
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

const selectRun = `SELECT id, scope, enabled_stages, soft_dep_toggles, re_enrich, boost, status, reason, total_cost, started_at, completed_at FROM pipeline_runs`

// scannable abstracts *sql.Row, *sql.Rows and pgx rows so the scan helpers
// serve both store implementations.
type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var companyID, domain, jurisdiction, ownerID, tier sql.NullString
	err := row.Scan(&e.ID, &e.Type, &companyID, &e.Name, &domain, &jurisdiction, &ownerID, &tier, &e.Tag, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.CompanyID = companyID.String
	e.Domain = domain.String
	e.Jurisdiction = jurisdiction.String
	e.OwnerID = ownerID.String
	e.Tier = tier.String
	return &e, nil
}

func scanCompletion(row scannable) (*model.Completion, error) {
	var c model.Completion
	var runID, errMsg, errCat, flagsJSON, result sql.NullString
	var passed sql.NullBool
	err := row.Scan(&c.ID, &c.EntityID, &c.StageCode, &runID, &c.Status, &passed, &c.Cost, &c.Boosted,
		&errMsg, &errCat, &flagsJSON, &c.Resolved, &c.Superseded, &result, &c.CompletedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan completion")
	}
	c.RunID = runID.String
	c.Error = errMsg.String
	c.ErrorCategory = model.ErrorCategory(errCat.String)
	if passed.Valid {
		c.Passed = &passed.Bool
	}
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &c.Flags); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal completion flags")
		}
	}
	if result.Valid && result.String != "" {
		c.Result = json.RawMessage(result.String)
	}
	return &c, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var scopeJSON, stagesJSON string
	var togglesJSON, reEnrichJSON, boostJSON, reason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &scopeJSON, &stagesJSON, &togglesJSON, &reEnrichJSON, &boostJSON,
		&r.Status, &reason, &r.TotalCost, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scopeJSON), &r.Scope); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run scope")
	}
	if err := json.Unmarshal([]byte(stagesJSON), &r.EnabledStages); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal enabled stages")
	}
	if togglesJSON.Valid && togglesJSON.String != "" {
		if err := json.Unmarshal([]byte(togglesJSON.String), &r.SoftDepToggles); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal soft dep toggles")
		}
	}
	if reEnrichJSON.Valid && reEnrichJSON.String != "" {
		if err := json.Unmarshal([]byte(reEnrichJSON.String), &r.ReEnrich); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal re-enrich config")
		}
	}
	if boostJSON.Valid && boostJSON.String != "" {
		if err := json.Unmarshal([]byte(boostJSON.String), &r.Boost); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal boost config")
		}
	}
	r.Reason = reason.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// runConfigColumns holds the JSON-serialized run configuration columns.
type runConfigColumns struct {
	scope    string
	stages   string
	toggles  any
	reEnrich any
	boost    any
}

func marshalRunConfig(run model.PipelineRun) (runConfigColumns, error) {
	var cols runConfigColumns

	scopeJSON, err := json.Marshal(run.Scope)
	if err != nil {
		return cols, eris.Wrap(err, "store: marshal scope")
	}
	stagesJSON, err := json.Marshal(run.EnabledStages)
	if err != nil {
		return cols, eris.Wrap(err, "store: marshal enabled stages")
	}
	cols.scope = string(scopeJSON)
	cols.stages = string(stagesJSON)

	if cols.toggles, err = marshalOptional(run.SoftDepToggles, len(run.SoftDepToggles) > 0); err != nil {
		return cols, err
	}
	if cols.reEnrich, err = marshalOptional(run.ReEnrich, len(run.ReEnrich) > 0); err != nil {
		return cols, err
	}
	if cols.boost, err = marshalOptional(run.Boost, len(run.Boost) > 0); err != nil {
		return cols, err
	}
	return cols, nil
}

func marshalOptional(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal run config")
	}
	return string(b), nil
}

func marshalFlags(flags []string) (any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal flags")
	}
	return string(b), nil
}

func marshalStageRunDetail(sr model.StageRun) (current any, failed any, err error) {
	if sr.CurrentItem != nil {
		b, err := json.Marshal(sr.CurrentItem)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal current item")
		}
		current = string(b)
	}
	if len(sr.FailedItems) > 0 {
		b, err := json.Marshal(sr.FailedItems)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal failed items")
		}
		failed = string(b)
	}
	return current, failed, nil
}

func unmarshalStageRunDetail(sr *model.StageRun, currentJSON, failedJSON string) error {
	if currentJSON != "" {
		sr.CurrentItem = &model.ItemStatus{}
		if err := json.Unmarshal([]byte(currentJSON), sr.CurrentItem); err != nil {
			return eris.Wrap(err, "store: unmarshal current item")
		}
	}
	if failedJSON != "" {
		if err := json.Unmarshal([]byte(failedJSON), &sr.FailedItems); err != nil {
			return eris.Wrap(err, "store: unmarshal failed items")
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Errorf("store: %s not found: %s", entity, id)
	}
	return nil
}
