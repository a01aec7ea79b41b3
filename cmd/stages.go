package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/stage"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Show the stage catalog",
	Long:  "Prints every stage grouped by catalog row, with entity type, dependencies, gate markers, and unit cost.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := initRegistry()
		if err != nil {
			return err
		}
		formatStageCatalog(os.Stdout, registry)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}

// formatStageCatalog writes the catalog grouped by row. Rows are a
// presentational grouping from the catalog file, not execution order.
func formatStageCatalog(out io.Writer, registry *stage.Registry) {
	rows := registry.Rows()
	nums := make([]int, 0, len(rows))
	for n := range rows {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tCODE\tNAME\tENTITY\tDEPS\tGATE\tCOST")
	_, _ = fmt.Fprintln(w, "---\t----\t----\t------\t----\t----\t----")

	for _, n := range nums {
		for _, code := range rows[n] {
			d, _ := registry.Get(code)
			gate := ""
			if d.Gate {
				gate = "gate"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t$%.4f\n",
				n, d.Code, d.Name, d.EntityType,
				strings.Join(d.HardDeps, ","), gate, d.CostDefault)
		}
	}
	_ = w.Flush()
}
