package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vela-astro/xmatch-cli/internal/match"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Query reference databases around catalog sources",
}

var matchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Cone-search a reference database around every catalog source",
	Long: "Queries the reference database around each CATALOG row and appends " +
		"tagged candidates to the <DB>_MATCH table. The reference is either a " +
		"local CSV table (--reference) or a cone-search HTTP endpoint (--url).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		catalogSchemaPath, _ := cmd.Flags().GetString("catalog-schema")
		dbSchemaPath, _ := cmd.Flags().GetString("db-schema")
		refPath, _ := cmd.Flags().GetString("reference")
		refURL, _ := cmd.Flags().GetString("url")
		radius, _ := cmd.Flags().GetFloat64("radius")

		catSchema, err := schema.Load(catalogSchemaPath)
		if err != nil {
			return err
		}
		m, err := newMatcher(dbSchemaPath, refPath, refURL)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if radius <= 0 {
			radius = cfg.Match.RadiusArcmin
		}
		engine := match.NewEngine(st, match.EngineOpts{
			Workers:   cfg.Match.Workers,
			ChunkSize: cfg.Match.ChunkSize,
			RateLimit: cfg.Match.RateLimit,
			RateBurst: cfg.Match.RateBurst,
		})

		stats, err := engine.SourceMatch(ctx, m, catSchema, radius)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	matchRunCmd.Flags().String("catalog-schema", "", "schema document for the ingested catalog (required)")
	matchRunCmd.Flags().String("db-schema", "", "schema document for the reference database (required)")
	matchRunCmd.Flags().String("reference", "", "CSV file holding the reference database")
	matchRunCmd.Flags().String("url", "", "cone-search endpoint for the reference database")
	matchRunCmd.Flags().Float64("radius", 0, "search radius in arc-minutes (default from config)")
	_ = matchRunCmd.MarkFlagRequired("catalog-schema")
	_ = matchRunCmd.MarkFlagRequired("db-schema")

	matchCmd.AddCommand(matchRunCmd)
	rootCmd.AddCommand(matchCmd)
}

// newMatcher builds a matcher from a local CSV reference table or a remote
// cone-search endpoint. Exactly one source must be given.
func newMatcher(dbSchemaPath, refPath, refURL string) (match.Matcher, error) {
	if (refPath == "") == (refURL == "") {
		return nil, eris.New("exactly one of --reference and --url is required")
	}
	dbSchema, err := schema.Load(dbSchemaPath)
	if err != nil {
		return nil, err
	}
	if refPath != "" {
		ref, err := readCSVTable(refPath)
		if err != nil {
			return nil, err
		}
		return match.NewConeMatcher(dbSchema, ref)
	}
	return match.NewRemoteMatcher(refURL, dbSchema, match.RemoteOpts{}), nil
}
