package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
)

// requestFlags collects the scope and run configuration flags shared by
// the estimate and run commands.
type requestFlags struct {
	tag          string
	owner        string
	tier         string
	jurisdiction string
	entityIDs    []string
	sample       int

	stages      []string
	boost       []string
	reEnrich    []string
	horizonDays int
	softContext []string
	allowEmpty  bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tag, "tag", "", "entity list tag (required)")
	cmd.Flags().StringVar(&f.owner, "owner", "", "filter scope by owner ID")
	cmd.Flags().StringVar(&f.tier, "tier", "", "filter scope by tier")
	cmd.Flags().StringVar(&f.jurisdiction, "jurisdiction", "", "filter scope by jurisdiction code")
	cmd.Flags().StringSliceVar(&f.entityIDs, "entity", nil, "restrict scope to specific entity IDs")
	cmd.Flags().IntVar(&f.sample, "sample", 0, "cap the scope to the first N matching entities")

	cmd.Flags().StringSliceVar(&f.stages, "stages", nil, "stage codes to enable (required)")
	cmd.Flags().StringSliceVar(&f.boost, "boost", nil, "stage codes to run in boost mode (2x rate)")
	cmd.Flags().StringSliceVar(&f.reEnrich, "re-enrich", nil, "stage codes to re-enrich past the freshness horizon")
	cmd.Flags().IntVar(&f.horizonDays, "horizon-days", 0, "freshness horizon in days for --re-enrich stages")
	cmd.Flags().StringSliceVar(&f.softContext, "soft", nil, "soft context toggles as stage:dep pairs")

	_ = cmd.MarkFlagRequired("tag")
	_ = cmd.MarkFlagRequired("stages")
}

// build turns the flags into a run request. Re-enrichment without a
// horizon stays inactive; the evaluator requires an explicit horizon
// before treating prior work as stale.
func (f *requestFlags) build() (model.RunRequest, error) {
	req := model.RunRequest{
		Scope: model.Scope{
			Tag:          f.tag,
			OwnerID:      f.owner,
			Tier:         f.tier,
			Jurisdiction: f.jurisdiction,
			EntityIDs:    f.entityIDs,
			SampleSize:   f.sample,
		},
		EnabledStages: f.stages,
		AllowEmpty:    f.allowEmpty,
	}

	if len(f.boost) > 0 {
		req.Boost = make(map[string]bool, len(f.boost))
		for _, code := range f.boost {
			req.Boost[code] = true
		}
	}

	if len(f.reEnrich) > 0 {
		opt := model.ReEnrichOption{Enabled: true}
		if f.horizonDays > 0 {
			h := time.Now().UTC().AddDate(0, 0, -f.horizonDays)
			opt.Horizon = &h
		}
		req.ReEnrich = make(map[string]model.ReEnrichOption, len(f.reEnrich))
		for _, code := range f.reEnrich {
			req.ReEnrich[code] = opt
		}
	}

	for _, pair := range f.softContext {
		stageCode, dep, ok := strings.Cut(pair, ":")
		if !ok || stageCode == "" || dep == "" {
			return model.RunRequest{}, eris.Errorf("invalid --soft value %q, want stage:dep", pair)
		}
		if req.SoftDepToggles == nil {
			req.SoftDepToggles = make(map[string]map[string]bool)
		}
		if req.SoftDepToggles[stageCode] == nil {
			req.SoftDepToggles[stageCode] = make(map[string]bool)
		}
		req.SoftDepToggles[stageCode][dep] = true
	}

	return req, nil
}
