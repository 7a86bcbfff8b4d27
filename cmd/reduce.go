package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vela-astro/xmatch-cli/internal/reduce"
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Run reduction passes over the match tables",
}

// -- reduce run --

var reduceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply a reduction plan to the store's match tables",
	Long: "Runs the plan's passes in their fixed dependency order. Without a " +
		"plan file the default plan runs: coordinate normalization, separation, " +
		"type normalization, and column normalization.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		planPath, _ := cmd.Flags().GetString("plan")
		schemaPaths, _ := cmd.Flags().GetStringSlice("schema")
		tables, _ := cmd.Flags().GetStringSlice("tables")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		plan, err := resolvePlan(planPath, cmd.Flags().Changed("plan"))
		if err != nil {
			return err
		}
		if len(tables) > 0 {
			plan.Tables = tables
		}
		if overwrite {
			plan.Overwrite = true
		}
		if plan.ChunkSize == 0 {
			plan.ChunkSize = int64(cfg.Reduce.ChunkSize)
		}

		schemas, err := loadSchemas(schemaPaths)
		if err != nil {
			return err
		}
		reg, err := reduce.Standard(plan, schemas)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, runErr := reduce.NewPipeline(st, reg).Run(ctx, plan)
		formatStepResults(os.Stdout, results)
		return runErr
	},
}

// -- reduce plan --

var reducePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the default reduction plan as a starting point",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(reduce.DefaultPlan())
		if err != nil {
			return eris.Wrap(err, "reduce plan: marshal")
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	reduceRunCmd.Flags().String("plan", "", "reduction plan file (default from config)")
	reduceRunCmd.Flags().StringSlice("schema", nil, "schema documents for the reference databases")
	reduceRunCmd.Flags().StringSlice("tables", nil, "restrict the run to these match tables")
	reduceRunCmd.Flags().Bool("overwrite", false, "rerun passes the ledger already records")

	reduceCmd.AddCommand(reduceRunCmd)
	reduceCmd.AddCommand(reducePlanCmd)
	rootCmd.AddCommand(reduceCmd)
}

// resolvePlan loads the plan file, falling back to the default plan when the
// configured path does not exist and the flag was not given explicitly.
func resolvePlan(path string, explicit bool) (*reduce.Plan, error) {
	if path == "" {
		path = cfg.Reduce.PlanPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		zap.L().Info("no plan file, using default plan",
			zap.String("component", "cmd.reduce"),
			zap.String("path", path))
		return reduce.DefaultPlan(), nil
	}
	return reduce.LoadPlan(path)
}

func formatStepResults(out io.Writer, results []reduce.StepResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No match tables to reduce.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PASS\tSTATUS\tDURATION\tERROR")
	for _, r := range results {
		errText := r.Error
		if len(errText) > 80 {
			errText = errText[:77] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", r.Name, r.Status, r.DurationMS, errText)
	}
	w.Flush() //nolint:errcheck
}
