package main

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vela-astro/xmatch-cli/internal/grid"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

type gridInfo struct {
	Nside         int64           `json:"nside"`
	Npix          int64           `json:"npix"`
	ResolutionDeg float64         `json:"resolution_deg"`
	PixelAreaDeg2 float64         `json:"pixel_area_deg2"`
	Pixel         *int64          `json:"pixel,omitempty"`
	Center        *model.Position `json:"center,omitempty"`
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Inspect the HEALPix pixelization",
	Long: "Prints the grid a given resolution derives. With --ra and --dec it " +
		"also maps the position to its ring-scheme pixel and pixel center.",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, _ := cmd.Flags().GetFloat64("res")
		nside, _ := cmd.Flags().GetInt64("nside")
		ra, _ := cmd.Flags().GetFloat64("ra")
		dec, _ := cmd.Flags().GetFloat64("dec")

		var g *grid.Grid
		var err error
		if nside > 0 {
			g, err = grid.FromNside(nside)
		} else {
			if res <= 0 {
				res = cfg.Atlas.Resolution
			}
			g, err = grid.New(res)
		}
		if err != nil {
			return err
		}

		degPerRad := 180.0 / math.Pi
		info := gridInfo{
			Nside:         g.Nside(),
			Npix:          g.Npix(),
			ResolutionDeg: g.Resolution(),
			PixelAreaDeg2: g.PixelArea() * degPerRad * degPerRad,
		}

		hasRA, hasDec := cmd.Flags().Changed("ra"), cmd.Flags().Changed("dec")
		if hasRA != hasDec {
			return eris.New("grid: --ra and --dec must be given together")
		}
		if hasRA {
			pix, err := g.PixelOf(model.Position{RA: ra, Dec: dec})
			if err != nil {
				return err
			}
			center, err := g.Center(pix)
			if err != nil {
				return err
			}
			info.Pixel = &pix
			info.Center = &center
		}
		return printJSON(info)
	},
}

func init() {
	gridCmd.Flags().Float64("res", 0, "target pixel resolution in degrees (default from config)")
	gridCmd.Flags().Int64("nside", 0, "use this NSIDE directly instead of deriving it")
	gridCmd.Flags().Float64("ra", 0, "right ascension to locate, ICRS degrees")
	gridCmd.Flags().Float64("dec", 0, "declination to locate, ICRS degrees")
	rootCmd.AddCommand(gridCmd)
}
