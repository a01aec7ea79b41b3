package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/ingest"
	"github.com/sells-group/enrich-cli/internal/model"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Manage the entity lists runs operate over",
}

// -- entities load --

var (
	entitiesLoadFile string
	entitiesLoadTag  string
)

var entitiesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load entities from a JSON or CSV file under a tag",
	Long:  "Reads an entity list (JSON array, or CSV with a header row) and upserts it under the given tag. Entities without an ID get one assigned; contacts must reference their company via company_id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		entities, err := ingest.ParseFile(entitiesLoadFile)
		if err != nil {
			return err
		}
		if err := ingest.Prepare(entities, entitiesLoadTag, time.Now().UTC()); err != nil {
			return err
		}

		if err := e.Store.UpsertEntities(ctx, entities); err != nil {
			return eris.Wrap(err, "upsert entities")
		}

		companies, contacts := 0, 0
		for _, ent := range entities {
			if ent.Type == model.EntityCompany {
				companies++
			} else {
				contacts++
			}
		}
		zap.L().Info("entities loaded",
			zap.String("tag", entitiesLoadTag),
			zap.Int("companies", companies),
			zap.Int("contacts", contacts),
		)
		fmt.Fprintf(os.Stdout, "loaded %d entities under tag %q\n", len(entities), entitiesLoadTag)
		return nil
	},
}

// -- entities list --

var entitiesListTag string

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities under a tag",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		entities, err := e.Store.ListEntities(ctx, entitiesListTag)
		if err != nil {
			return eris.Wrap(err, "list entities")
		}
		if len(entities) == 0 {
			fmt.Fprintln(os.Stderr, "No entities found.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entities)
	},
}

func init() {
	entitiesLoadCmd.Flags().StringVar(&entitiesLoadFile, "file", "", "path to entity file, .json or .csv (required)")
	entitiesLoadCmd.Flags().StringVar(&entitiesLoadTag, "tag", "", "tag to load the entities under (required)")
	_ = entitiesLoadCmd.MarkFlagRequired("file")
	_ = entitiesLoadCmd.MarkFlagRequired("tag")

	entitiesListCmd.Flags().StringVar(&entitiesListTag, "tag", "", "entity list tag (required)")
	_ = entitiesListCmd.MarkFlagRequired("tag")

	entitiesCmd.AddCommand(entitiesLoadCmd)
	entitiesCmd.AddCommand(entitiesListCmd)
	rootCmd.AddCommand(entitiesCmd)
}
