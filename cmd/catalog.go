package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Ingest and inspect the source catalog",
}

// -- catalog add --

var catalogAddCmd = &cobra.Command{
	Use:   "add <catalog.csv>",
	Short: "Ingest a source catalog into the match store",
	Long:  "Reads a CSV catalog, renames the schema's designated name column to CATALOG_OBJECT, and writes the CATALOG table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		schemaPath, _ := cmd.Flags().GetString("schema")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		ignore, _ := cmd.Flags().GetStringSlice("ignore")

		sch, err := schema.Load(schemaPath)
		if err != nil {
			return err
		}
		tbl, err := readCSVTable(args[0])
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := store.AddCatalogOpts{Overwrite: overwrite, IgnoreColumns: ignore}
		if err := st.AddCatalog(ctx, tbl, sch, opts); err != nil {
			return err
		}

		n, err := st.RowCount(ctx, store.CatalogTable)
		if err != nil {
			return err
		}
		fmt.Printf("Ingested %d catalog sources from %s\n", n, args[0])
		return nil
	},
}

// -- catalog guess --

var catalogGuessCmd = &cobra.Command{
	Use:   "guess <catalog.csv>",
	Short: "Construct a best-effort schema from a catalog's column names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		cols, err := readCSVHeader(args[0])
		if err != nil {
			return err
		}
		sch, err := schema.Guess(name, cols)
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(sch)
		if err != nil {
			return eris.Wrap(err, "catalog guess: marshal schema")
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	catalogAddCmd.Flags().String("schema", "", "schema document for the catalog (required)")
	catalogAddCmd.Flags().Bool("overwrite", false, "replace an existing CATALOG table")
	catalogAddCmd.Flags().StringSlice("ignore", nil, "source columns to drop before the write")
	_ = catalogAddCmd.MarkFlagRequired("schema")

	catalogGuessCmd.Flags().String("name", "CATALOG", "database name recorded in the schema")

	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogGuessCmd)
	rootCmd.AddCommand(catalogCmd)
}

// readCSVHeader returns a CSV file's column names.
func readCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read header of %s", path)
	}
	return header, nil
}

// readCSVTable reads a whole CSV file into a table. The first record is the
// header; cells parse to int64 or float64 when they can, empty cells stay
// NULL.
func readCSVTable(path string) (*model.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("catalog: %s is empty", path)
	}

	tbl := model.NewTable(records[0]...)
	for _, rec := range records[1:] {
		row := make(model.Row, len(rec))
		for i, cell := range rec {
			if i >= len(tbl.Columns) {
				break
			}
			row[tbl.Columns[i]] = coerceCell(cell)
		}
		tbl.Append(row)
	}

	zap.L().Debug("catalog csv read",
		zap.String("component", "cmd.catalog"),
		zap.String("path", path),
		zap.Int("rows", tbl.Len()),
		zap.Int("columns", len(tbl.Columns)))
	return tbl, nil
}

// coerceCell maps a CSV cell to the narrowest value SQLite round-trips.
func coerceCell(cell string) any {
	if cell == "" {
		return nil
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}
