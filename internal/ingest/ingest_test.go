package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func TestParseCSV(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		"Name,Domain,Jurisdiction,Tier,ignored_column",
		"Acme GmbH,acme.de,DE,a,whatever",
		"Mueller Maschinen AG, mueller.ch ,ch,b",
	}, "\n"))

	entities, err := ParseCSV(in)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "Acme GmbH", entities[0].Name)
	assert.Equal(t, "acme.de", entities[0].Domain)
	assert.Equal(t, "de", entities[0].Jurisdiction)
	assert.Equal(t, "a", entities[0].Tier)

	// Fields are trimmed; short rows are fine.
	assert.Equal(t, "mueller.ch", entities[1].Domain)
}

func TestParseCSV_Rejections(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty csv")

	_, err = ParseCSV(strings.NewReader("foo,bar\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognized columns")
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "entities.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"type":"company","name":"Acme GmbH"}]`), 0o644))
	entities, err := ParseFile(jsonPath)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme GmbH", entities[0].Name)

	csvPath := filepath.Join(dir, "entities.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name\nAcme GmbH\n"), 0o644))
	entities, err = ParseFile(csvPath)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	_, err = ParseFile(filepath.Join(dir, "entities.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestPrepare(t *testing.T) {
	now := time.Now().UTC()

	t.Run("fills defaults", func(t *testing.T) {
		entities := []model.Entity{{Name: "Acme GmbH"}}
		require.NoError(t, Prepare(entities, "q3", now))
		assert.NotEmpty(t, entities[0].ID)
		assert.Equal(t, "q3", entities[0].Tag)
		assert.Equal(t, model.EntityCompany, entities[0].Type)
		assert.Equal(t, now, entities[0].CreatedAt)
	})

	t.Run("keeps provided values", func(t *testing.T) {
		entities := []model.Entity{{
			ID:        "ent-1",
			Type:      model.EntityContact,
			CompanyID: "co-1",
			Name:      "Maria Example",
		}}
		require.NoError(t, Prepare(entities, "q3", now))
		assert.Equal(t, "ent-1", entities[0].ID)
		assert.Equal(t, model.EntityContact, entities[0].Type)
	})

	t.Run("rejects bad rows", func(t *testing.T) {
		err := Prepare([]model.Entity{{Type: "robot", Name: "X"}}, "q3", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")

		err = Prepare([]model.Entity{{Type: model.EntityCompany}}, "q3", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name is required")

		err = Prepare([]model.Entity{{Type: model.EntityContact, Name: "Maria Example"}}, "q3", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "company_id is required")
	})
}
