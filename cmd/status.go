package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vela-astro/xmatch-cli/internal/atlas"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/reduce"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

type tableStatus struct {
	Name       string   `json:"name"`
	Rows       int64    `json:"rows"`
	Separation bool     `json:"separation"`
	Score      bool     `json:"score"`
	Processes  []string `json:"processes"`
}

type storeStatus struct {
	Path    string        `json:"path"`
	Catalog *tableStatus  `json:"catalog,omitempty"`
	Matches []tableStatus `json:"matches"`
	Atlas   *atlasInfo    `json:"atlas,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Audit the match store",
	Long: "Reports row counts, reduction ledger state, and score-column " +
		"presence for the catalog and every match table. An atlas at the " +
		"configured path is summarized too.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, err := auditStore(ctx, st)
		if err != nil {
			return err
		}

		if path := atlasPath(); path != "" {
			if _, err := os.Stat(path); err == nil {
				a, err := atlas.Open(path)
				if err != nil {
					return err
				}
				defer a.Close() //nolint:errcheck
				status.Atlas, err = summarizeAtlas(ctx, a)
				if err != nil {
					return err
				}
			}
		}

		if asJSON {
			return printJSON(status)
		}
		formatStatus(os.Stdout, status)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "machine-readable output")
	rootCmd.AddCommand(statusCmd)
}

func auditStore(ctx context.Context, st *store.Store) (*storeStatus, error) {
	status := &storeStatus{Path: storeLocation()}

	ledger, err := st.MetaList(ctx)
	if err != nil {
		return nil, err
	}
	byTable := make(map[string][]string)
	for _, e := range ledger {
		byTable[e.Table] = append(byTable[e.Table], e.Process)
	}

	hasCatalog, err := st.HasTable(ctx, store.CatalogTable)
	if err != nil {
		return nil, err
	}
	if hasCatalog {
		n, err := st.RowCount(ctx, store.CatalogTable)
		if err != nil {
			return nil, err
		}
		status.Catalog = &tableStatus{
			Name:      store.CatalogTable,
			Rows:      n,
			Processes: byTable[store.MetaAllTables],
		}
	}

	tables, err := st.MatchTables(ctx)
	if err != nil {
		return nil, err
	}
	for _, tbl := range tables {
		n, err := st.RowCount(ctx, tbl)
		if err != nil {
			return nil, err
		}
		cols, err := st.Columns(ctx, tbl)
		if err != nil {
			return nil, err
		}
		ts := tableStatus{
			Name:      tbl,
			Rows:      n,
			Processes: byTable[tbl],
		}
		for _, c := range cols {
			switch {
			case c == model.ColSeparation:
				ts.Separation = true
			case strings.HasSuffix(c, reduce.ScoreSuffix):
				ts.Score = true
			}
		}
		status.Matches = append(status.Matches, ts)
	}
	return status, nil
}

func formatStatus(out io.Writer, s *storeStatus) {
	fmt.Fprintf(out, "Store: %s\n", s.Path)
	if s.Catalog == nil {
		fmt.Fprintln(out, "No catalog ingested.")
	} else {
		fmt.Fprintf(out, "Catalog: %d sources\n", s.Catalog.Rows)
	}

	if len(s.Matches) == 0 {
		fmt.Fprintln(out, "No match tables.")
	} else {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROWS\tSEPARATION\tSCORE\tPROCESSES")
		for _, m := range s.Matches {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				m.Name, m.Rows, yesNo(m.Separation), yesNo(m.Score),
				strings.Join(m.Processes, ","))
		}
		w.Flush() //nolint:errcheck
	}

	if s.Atlas != nil {
		fmt.Fprintf(out, "\nAtlas: %s database=%s nside=%d samples=%d maps=%d\n",
			s.Atlas.Path, s.Atlas.Database, s.Atlas.Nside,
			s.Atlas.Samples, len(s.Atlas.Maps))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// storeLocation mirrors openStore's path resolution for display.
func storeLocation() string {
	if storePath != "" {
		return storePath
	}
	return cfg.Store.Path
}
