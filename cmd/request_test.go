package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/eligibility"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/stage"
)

func TestRequestFlagsBuild(t *testing.T) {
	f := requestFlags{
		tag:          "q3",
		owner:        "owner-1",
		tier:         "a",
		jurisdiction: "de",
		sample:       25,
		stages:       []string{"company_l1", "triage", "company_l2"},
		boost:        []string{"company_l2"},
		reEnrich:     []string{"company_l1"},
		horizonDays:  30,
		softContext:  []string{"company_l2:company_l1"},
	}

	req, err := f.build()
	require.NoError(t, err)

	assert.Equal(t, "q3", req.Scope.Tag)
	assert.Equal(t, "owner-1", req.Scope.OwnerID)
	assert.Equal(t, 25, req.Scope.SampleSize)
	assert.Equal(t, []string{"company_l1", "triage", "company_l2"}, req.EnabledStages)
	assert.True(t, req.Boost["company_l2"])

	re := req.ReEnrich["company_l1"]
	assert.True(t, re.Active())
	require.NotNil(t, re.Horizon)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), *re.Horizon, time.Minute)

	assert.True(t, req.SoftContext("company_l2", []string{"company_l1"}))
}

func TestRequestFlagsBuildReEnrichWithoutHorizonStaysInactive(t *testing.T) {
	f := requestFlags{
		tag:      "q3",
		stages:   []string{"company_l1"},
		reEnrich: []string{"company_l1"},
	}

	req, err := f.build()
	require.NoError(t, err)

	re := req.ReEnrich["company_l1"]
	assert.True(t, re.Enabled)
	assert.False(t, re.Active())
}

func TestRequestFlagsBuildRejectsMalformedSoftPair(t *testing.T) {
	for _, bad := range []string{"company_l2", "company_l2:", ":company_l1"} {
		f := requestFlags{tag: "q3", stages: []string{"company_l2"}, softContext: []string{bad}}
		_, err := f.build()
		require.Error(t, err, "pair %q", bad)
		assert.Contains(t, err.Error(), "invalid --soft value")
	}
}

func TestFormatEstimate(t *testing.T) {
	est := &eligibility.Estimate{
		Stages: map[string]eligibility.StageEstimate{
			"company_l1": {StageCode: "company_l1", EligibleCount: 100, CostPerItem: 0.02, EstimatedCost: 2.0},
			"triage":     {StageCode: "triage", Gate: true, EligibleCount: 100},
			"company_l2": {StageCode: "company_l2", CostPerItem: 0.08, UpstreamPotential: 100},
		},
		TotalCost: 2.0,
	}

	var buf bytes.Buffer
	formatEstimate(&buf, []string{"company_l1", "triage", "company_l2"}, est)
	out := buf.String()

	assert.Contains(t, out, "company_l1")
	assert.Contains(t, out, "$2.0000")
	assert.Contains(t, out, "gate (free)")
	assert.Contains(t, out, "up to 100 pending upstream gate")
	assert.Contains(t, out, "Total estimated cost:")
}

func TestFormatSnapshot(t *testing.T) {
	t.Run("no runs", func(t *testing.T) {
		var buf bytes.Buffer
		formatSnapshot(&buf, &model.StatusSnapshot{})
		assert.Contains(t, buf.String(), "No runs found")
	})

	t.Run("active run with failures", func(t *testing.T) {
		snap := &model.StatusSnapshot{
			Pipeline: &model.PipelineRun{
				ID:            "run-1",
				EnabledStages: []string{"company_l1", "company_l2"},
				Status:        model.RunStatusRunning,
				TotalCost:     1.24,
				StartedAt:     time.Now().UTC(),
			},
			Stages: map[string]model.StageRun{
				"company_l1": {
					StageCode:     "company_l1",
					EligibleTotal: 100,
					Done:          62,
					Failed:        1,
					Cost:          1.24,
					CurrentItem:   &model.ItemStatus{Name: "Acme GmbH", Status: "running"},
					FailedItems:   []model.ItemError{{Name: "Broken Co", Error: "provider timeout"}},
				},
			},
		}

		var buf bytes.Buffer
		formatSnapshot(&buf, snap)
		out := buf.String()

		assert.Contains(t, out, "run-1")
		assert.Contains(t, out, "running")
		assert.Contains(t, out, "Acme GmbH")
		assert.Contains(t, out, "Failed in company_l1:")
		assert.Contains(t, out, "provider timeout")
		// Stages not yet reached render as pending rows.
		assert.Contains(t, out, "pending")
	})
}

func TestFormatRunsList(t *testing.T) {
	runs := []model.PipelineRun{{
		ID:            "0b5c9e2a-1111-2222-3333-444455556666",
		Scope:         model.Scope{Tag: "q3"},
		EnabledStages: []string{"company_l1", "triage"},
		Status:        model.RunStatusCompleted,
		TotalCost:     0.68,
		StartedAt:     time.Now().UTC(),
	}}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "0b5c9e2a")
	assert.NotContains(t, out, "444455556666")
	assert.Contains(t, out, "q3")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "$0.6800")
}

func TestFormatOutcomes(t *testing.T) {
	passed, failed := true, false
	outcomes := []model.EntityOutcome{
		{EntityID: "ent-1", Name: "Acme GmbH", StageCode: "triage", Status: model.CompletionCompleted, Passed: &passed},
		{EntityID: "ent-2", Name: "Borderline AG", StageCode: "triage", Status: model.CompletionCompleted, Passed: &failed},
		{EntityID: "ent-3", Name: "Broken Co", StageCode: "company_l1", Status: model.CompletionFailed, Cost: 0.02,
			Error: "research: status 503: upstream overloaded and very very wordy"},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)
	out := buf.String()

	assert.Contains(t, out, "passed")
	assert.Contains(t, out, "failed gate")
	// Long errors are truncated for the table.
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "very wordy")
}

func TestFormatStageCatalog(t *testing.T) {
	registry, err := stage.Default()
	require.NoError(t, err)

	var buf bytes.Buffer
	formatStageCatalog(&buf, registry)
	out := buf.String()

	assert.Contains(t, out, "company_l1")
	assert.Contains(t, out, "Fit Triage")
	assert.Contains(t, out, "gate")
	assert.Contains(t, out, "$0.0800")

	// Rows come out in ascending catalog order.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 2)
	var prev int
	for _, line := range lines[2:] {
		row, err := strconv.Atoi(strings.Fields(line)[0])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, row, prev)
		prev = row
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0b5c9e2a", truncateID("0b5c9e2a-1111-2222-3333-444455556666"))
	assert.Equal(t, "short", truncateID("short"))
}
