package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vela-astro/xmatch-cli/internal/atlas"
)

var atlasFile string

var atlasCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Build and inspect Poisson sky atlases",
	Long: "An atlas stores aperture count samples for one reference database " +
		"and the density maps estimated from them, on a fixed HEALPix grid.",
}

// -- atlas create --

var atlasCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty atlas for a reference database",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		res, _ := cmd.Flags().GetFloat64("res")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		if res <= 0 {
			res = cfg.Atlas.Resolution
		}
		a, err := atlas.Create(atlasPath(), res, database, overwrite)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		fmt.Printf("Created atlas %s for %s: nside=%d npix=%d\n",
			a.Path(), a.Database(), a.Grid().Nside(), a.Grid().Npix())
		return nil
	},
}

// -- atlas sample --

var atlasSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw random aperture count samples from the reference database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dbSchemaPath, _ := cmd.Flags().GetString("db-schema")
		refPath, _ := cmd.Flags().GetString("reference")
		refURL, _ := cmd.Flags().GetString("url")
		count, _ := cmd.Flags().GetInt("count")
		radius, _ := cmd.Flags().GetFloat64("radius")
		seed, _ := cmd.Flags().GetInt64("seed")

		m, err := newMatcher(dbSchemaPath, refPath, refURL)
		if err != nil {
			return err
		}

		a, err := atlas.Open(atlasPath())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if count <= 0 {
			count = cfg.Sample.Count
		}
		if radius <= 0 {
			radius = cfg.Sample.RadiusArcmin
		}
		if seed == 0 {
			seed = cfg.Sample.Seed
		}
		stats, err := a.RandomSample(ctx, m, count, atlas.SampleOpts{
			Workers:      cfg.Match.Workers,
			ChunkSize:    cfg.Match.ChunkSize,
			RateLimit:    cfg.Match.RateLimit,
			RateBurst:    cfg.Match.RateBurst,
			RadiusArcmin: radius,
			Seed:         seed,
		})
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

// -- atlas build --

var atlasBuildCmd = &cobra.Command{
	Use:   "build <object-type>",
	Short: "Estimate a density map for one object type",
	Long: "Fits a Poisson density estimator to the stored count samples and " +
		"persists the map as <TYPE>_<METHOD>. Methods: GLOBAL_UNIFORM, " +
		"LOCAL_UNIFORM, REGRESSION.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		method, _ := cmd.Flags().GetString("method")
		fill, _ := cmd.Flags().GetString("fill")
		bandwidths, _ := cmd.Flags().GetFloat64Slice("bandwidths")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := atlas.Open(atlasPath())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if fill == "" {
			fill = cfg.Atlas.FillPolicy
		}
		name, err := a.BuildMap(ctx, args[0], atlas.BuildOpts{
			Method:     atlas.Method(strings.ToUpper(method)),
			Fill:       fill,
			Bandwidths: bandwidths,
			Overwrite:  overwrite,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Built map %s\n", name)
		return nil
	},
}

// -- atlas export --

var atlasExportCmd = &cobra.Command{
	Use:   "export <map>",
	Short: "Export a density map as GeoJSON pixel polygons",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		outPath, _ := cmd.Flags().GetString("out")

		a, err := atlas.Open(atlasPath())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return a.ExportGeoJSON(ctx, args[0], out)
	},
}

// -- atlas reshape --

var atlasReshapeCmd = &cobra.Command{
	Use:   "reshape",
	Short: "Change the atlas grid resolution",
	Long: "Rebuilds the pixel grid at a new resolution and re-bins the count " +
		"samples. Built maps block a reshape unless --force drops them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		res, _ := cmd.Flags().GetFloat64("res")
		force, _ := cmd.Flags().GetBool("force")

		a, err := atlas.Open(atlasPath())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.Reshape(ctx, res, force); err != nil {
			return err
		}
		fmt.Printf("Reshaped atlas to nside=%d npix=%d\n",
			a.Grid().Nside(), a.Grid().Npix())
		return nil
	},
}

// -- atlas info --

type atlasInfo struct {
	Path       string   `json:"path"`
	Database   string   `json:"database"`
	Resolution float64  `json:"resolution_deg"`
	Nside      int64    `json:"nside"`
	Npix       int64    `json:"npix"`
	Samples    int64    `json:"samples"`
	Types      []string `json:"types"`
	Maps       []string `json:"maps"`
}

var atlasInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize an atlas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := atlas.Open(atlasPath())
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		info, err := summarizeAtlas(ctx, a)
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

func init() {
	atlasCmd.PersistentFlags().StringVar(&atlasFile, "file", "", "atlas file (default from config)")

	atlasCreateCmd.Flags().String("database", "", "reference database the atlas describes (required)")
	atlasCreateCmd.Flags().Float64("res", 0, "target pixel resolution in degrees (default from config)")
	atlasCreateCmd.Flags().Bool("overwrite", false, "replace an existing atlas file")
	_ = atlasCreateCmd.MarkFlagRequired("database")

	atlasSampleCmd.Flags().String("db-schema", "", "schema document for the reference database (required)")
	atlasSampleCmd.Flags().String("reference", "", "CSV file holding the reference database")
	atlasSampleCmd.Flags().String("url", "", "cone-search endpoint for the reference database")
	atlasSampleCmd.Flags().Int("count", 0, "number of sample positions (default from config)")
	atlasSampleCmd.Flags().Float64("radius", 0, "aperture radius in arc-minutes (default from config)")
	atlasSampleCmd.Flags().Int64("seed", 0, "random seed, 0 draws from the clock")
	_ = atlasSampleCmd.MarkFlagRequired("db-schema")

	atlasBuildCmd.Flags().String("method", string(atlas.MethodLocalUniform), "density estimator")
	atlasBuildCmd.Flags().String("fill", "", "fill policy for unsampled pixels: zero or average")
	atlasBuildCmd.Flags().Float64Slice("bandwidths", nil, "candidate bandwidths in degrees for regression cross-validation")
	atlasBuildCmd.Flags().Bool("overwrite", false, "replace an existing map of the same name")

	atlasExportCmd.Flags().String("out", "", "output file (default stdout)")

	atlasReshapeCmd.Flags().Float64("res", 0, "new pixel resolution in degrees (required)")
	_ = atlasReshapeCmd.MarkFlagRequired("res")
	atlasReshapeCmd.Flags().Bool("force", false, "drop built maps that block the reshape")

	atlasCmd.AddCommand(atlasCreateCmd)
	atlasCmd.AddCommand(atlasSampleCmd)
	atlasCmd.AddCommand(atlasBuildCmd)
	atlasCmd.AddCommand(atlasExportCmd)
	atlasCmd.AddCommand(atlasReshapeCmd)
	atlasCmd.AddCommand(atlasInfoCmd)
	rootCmd.AddCommand(atlasCmd)
}

func atlasPath() string {
	if atlasFile != "" {
		return atlasFile
	}
	return cfg.Atlas.Path
}

func summarizeAtlas(ctx context.Context, a *atlas.Atlas) (*atlasInfo, error) {
	samples, err := a.SampleCount(ctx)
	if err != nil {
		return nil, err
	}
	types, err := a.TypeColumns(ctx)
	if err != nil {
		return nil, err
	}
	maps, err := a.MapNames(ctx)
	if err != nil {
		return nil, err
	}
	return &atlasInfo{
		Path:       a.Path(),
		Database:   a.Database(),
		Resolution: a.Resolution(),
		Nside:      a.Grid().Nside(),
		Npix:       a.Grid().Npix(),
		Samples:    samples,
		Types:      types,
		Maps:       maps,
	}, nil
}
