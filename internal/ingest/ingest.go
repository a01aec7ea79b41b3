// Package ingest parses entity list files for loading into the store.
// JSON carries the full entity shape; CSV maps columns by header name for
// spreadsheet exports.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// csvColumns maps recognized header names to entity fields. Headers are
// matched case-insensitively; unknown columns are ignored.
var csvColumns = map[string]func(*model.Entity, string){
	"id":           func(e *model.Entity, v string) { e.ID = v },
	"type":         func(e *model.Entity, v string) { e.Type = model.EntityType(strings.ToLower(v)) },
	"company_id":   func(e *model.Entity, v string) { e.CompanyID = v },
	"name":         func(e *model.Entity, v string) { e.Name = v },
	"domain":       func(e *model.Entity, v string) { e.Domain = v },
	"jurisdiction": func(e *model.Entity, v string) { e.Jurisdiction = strings.ToLower(v) },
	"owner_id":     func(e *model.Entity, v string) { e.OwnerID = v },
	"tier":         func(e *model.Entity, v string) { e.Tier = v },
}

// ParseFile reads an entity list, dispatching on the file extension.
func ParseFile(path string) ([]model.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read file")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseJSON(data)
	case ".csv":
		return ParseCSV(bytes.NewReader(data))
	default:
		return nil, eris.Errorf("ingest: unsupported file extension %q, want .json or .csv", ext)
	}
}

// ParseJSON decodes a JSON array of entities.
func ParseJSON(data []byte) ([]model.Entity, error) {
	var entities []model.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, eris.Wrap(err, "ingest: parse json")
	}
	return entities, nil
}

// ParseCSV reads a header-mapped CSV. The header row names the columns;
// rows may omit trailing fields.
func ParseCSV(r io.Reader) ([]model.Entity, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("ingest: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}

	setters := make([]func(*model.Entity, string), len(header))
	known := 0
	for i, col := range header {
		if set, ok := csvColumns[strings.ToLower(strings.TrimSpace(col))]; ok {
			setters[i] = set
			known++
		}
	}
	if known == 0 {
		return nil, eris.New("ingest: csv header has no recognized columns")
	}

	var entities []model.Entity
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return entities, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}

		var e model.Entity
		for i, field := range record {
			if i >= len(setters) || setters[i] == nil {
				continue
			}
			setters[i](&e, strings.TrimSpace(field))
		}
		entities = append(entities, e)
	}
}

// Prepare fills defaults and validates a parsed batch in place: missing
// IDs get assigned, every entity is stamped with the tag, and entities
// without a type default to company.
func Prepare(entities []model.Entity, tag string, now time.Time) error {
	for i := range entities {
		e := &entities[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.Tag = tag
		if e.Type == "" {
			e.Type = model.EntityCompany
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		switch e.Type {
		case model.EntityCompany, model.EntityContact:
		default:
			return eris.Errorf("ingest: entity %s: unknown type %q", e.ID, e.Type)
		}
		if e.Name == "" {
			return eris.Errorf("ingest: entity %s: name is required", e.ID)
		}
		if e.Type == model.EntityContact && e.CompanyID == "" {
			return eris.Errorf("ingest: contact %s: company_id is required", e.ID)
		}
	}
	return nil
}
