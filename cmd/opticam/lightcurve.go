package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abworrall/opticam/pkg/catalog"
)

func NewLightCurveCmd() *cobra.Command {
	var (
		dbPath   string
		filter   string
		x, y     float64
		radius   float64
		plotFile string
	)

	cmd := &cobra.Command{
		Use:   "lightcurve",
		Short: "Print (and optionally plot) the flux of one source over time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := catalog.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			pts, err := store.LightCurve(filter, x, y, radius)
			if err != nil {
				return err
			}
			if len(pts) == 0 {
				return fmt.Errorf("no %s-band source within %g pixels of (%g,%g)", filter, radius, x, y)
			}

			for _, pt := range pts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\t%.2f\t%.2f\n", pt.UT, pt.Flux, pt.X, pt.Y)
			}

			if plotFile != "" {
				title := fmt.Sprintf("%s-band, (%.0f,%.0f)", filter, x, y)
				return catalog.PlotLightCurve(pts, title, plotFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", dataDir("catalog.db"), "sqlite catalog to read")
	cmd.Flags().StringVar(&filter, "filter", "g", "filter band")
	cmd.Flags().Float64VarP(&x, "x", "x", 0, "source x position, in pixels")
	cmd.Flags().Float64VarP(&y, "y", "y", 0, "source y position, in pixels")
	cmd.Flags().Float64VarP(&radius, "radius", "r", 3, "match radius, in pixels")
	cmd.Flags().StringVar(&plotFile, "plot", "", "write a plot of the light curve to this PNG")
	return cmd
}
