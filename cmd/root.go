package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/config"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

var cfg *config.Config

var storePath string

var rootCmd = &cobra.Command{
	Use:   "xmatch",
	Short: "Catalog cross-matching and match scoring",
	Long:  "Cross-references a source catalog against reference databases, reduces raw positional matches into calibrated confidence scores, and fits sky-density models used as spatial priors.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "match store file (default from config)")
}

// openStore opens the cross-match store named by the --store flag or config.
func openStore() (*store.Store, error) {
	path := storePath
	if path == "" {
		path = cfg.Store.Path
	}
	return store.Open(path)
}

// loadSchemas reads schema documents and registers them by database name.
func loadSchemas(paths []string) (schema.Registry, error) {
	schemas := make([]*schema.Schema, 0, len(paths))
	for _, p := range paths {
		s, err := schema.Load(p)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schema.NewRegistry(schemas...), nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
